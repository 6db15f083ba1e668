package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueSettings holds retry tuning for the embedding queue.
type QueueSettings struct {
	MaxRetries  int
	BackoffBase time.Duration
}

// JobRepository is the durable embedding queue. The jobs table is the
// single source of truth for job ownership: DequeueBatch claims rows by
// flipping them to processing inside the selecting transaction, which
// is the only mutual-exclusion mechanism between concurrent invocations.
type JobRepository struct {
	db       *gorm.DB
	settings QueueSettings
}

// NewJobRepository creates a JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - settings: retry/backoff tuning; zero values fall back to defaults.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB, settings QueueSettings) *JobRepository {
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = domain.DefaultMaxRetries
	}
	if settings.BackoffBase <= 0 {
		settings.BackoffBase = time.Minute
	}
	return &JobRepository{db: db, settings: settings}
}

// Enqueue upserts a job for (contentType, contentID). When an active
// (queued or processing) job already exists for the pair, its priority
// is lowered to min(existing, requested) instead of creating a
// duplicate row. Returns whether the item is now queued.
func (r *JobRepository) Enqueue(ctx context.Context, contentType domain.ContentType, contentID int64, priority int) (bool, error) {
	if priority <= 0 {
		priority = domain.DefaultJobPriority
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.EmbeddingJob
		err := tx.
			Where("content_type = ? AND content_id = ? AND status IN ?",
				contentType, contentID, []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing}).
			First(&existing).Error

		if err == nil {
			if priority < existing.Priority {
				return tx.Model(&existing).Update("priority", priority).Error
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		job := domain.EmbeddingJob{
			ContentType:   contentType,
			ContentID:     contentID,
			Priority:      priority,
			Status:        domain.JobStatusQueued,
			MaxRetries:    r.settings.MaxRetries,
			NextAttemptAt: time.Now(),
		}
		return tx.Create(&job).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to enqueue %s/%d: %w", contentType, contentID, err)
	}
	return true, nil
}

// DequeueBatch atomically claims up to limit queued jobs that are due
// (next_attempt_at <= now), ordered by priority then age. Claimed jobs
// are marked processing before the transaction commits, so two
// concurrent callers never receive overlapping jobs.
func (r *JobRepository) DequeueBatch(ctx context.Context, limit int) ([]domain.EmbeddingJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []domain.EmbeddingJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("status = ? AND next_attempt_at <= ?", domain.JobStatusQueued, time.Now()).
			Order("priority ASC, created_at ASC").
			Limit(limit)

		// Row locking so parallel dequeuers skip each other's claims.
		// SQLite serializes writers on its own and rejects FOR UPDATE.
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]int64, len(claimed))
		for i := range claimed {
			ids[i] = claimed[i].ID
		}
		if err := tx.Model(&domain.EmbeddingJob{}).
			Where("id IN ?", ids).
			Update("status", domain.JobStatusProcessing).Error; err != nil {
			return err
		}
		for i := range claimed {
			claimed[i].Status = domain.JobStatusProcessing
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue batch: %w", err)
	}
	return claimed, nil
}

// MarkCompleted transitions a job to its terminal completed state.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID int64) error {
	return r.db.WithContext(ctx).Model(&domain.EmbeddingJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        domain.JobStatusCompleted,
			"error_message": "",
		}).Error
}

// MarkFailed records a failure on the job. Below the retry ceiling the
// job goes back to queued with an exponential next_attempt_at; at the
// ceiling it becomes terminally failed and is never dequeued again.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID int64, errMsg string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.EmbeddingJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			return err
		}

		job.RetryCount++
		job.ErrorMessage = errMsg
		if job.RetryCount >= job.MaxRetries {
			job.Status = domain.JobStatusFailed
		} else {
			job.Status = domain.JobStatusQueued
			job.NextAttemptAt = time.Now().Add(r.settings.BackoffBase << (job.RetryCount - 1))
		}
		return tx.Save(&job).Error
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepository) GetByID(ctx context.Context, jobID int64) (*domain.EmbeddingJob, error) {
	var job domain.EmbeddingJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// GetActive returns the non-terminal job for (contentType, contentID),
// or gorm.ErrRecordNotFound when none exists.
func (r *JobRepository) GetActive(ctx context.Context, contentType domain.ContentType, contentID int64) (*domain.EmbeddingJob, error) {
	var job domain.EmbeddingJob
	err := r.db.WithContext(ctx).
		Where("content_type = ? AND content_id = ? AND status IN ?",
			contentType, contentID, []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing}).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CountByStatus counts jobs in the given status.
func (r *JobRepository) CountByStatus(ctx context.Context, status domain.JobStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.EmbeddingJob{}).
		Where("status = ?", status).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountActiveByType returns counts of non-terminal jobs grouped by
// content type. Each content type is one logical queue.
func (r *JobRepository) CountActiveByType(ctx context.Context) (map[string]int64, error) {
	type row struct {
		ContentType string
		N           int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&domain.EmbeddingJob{}).
		Select("content_type, COUNT(*) AS n").
		Where("status IN ?", []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing}).
		Group("content_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.ContentType] = r.N
	}
	return counts, nil
}

// SampleActive returns up to limit non-terminal jobs in dequeue order,
// optionally restricted to one content type.
func (r *JobRepository) SampleActive(ctx context.Context, contentType domain.ContentType, limit int) ([]domain.EmbeddingJob, error) {
	q := r.db.WithContext(ctx).
		Where("status IN ?", []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing}).
		Order("priority ASC, created_at ASC").
		Limit(limit)
	if contentType != "" {
		q = q.Where("content_type = ?", contentType)
	}
	var jobs []domain.EmbeddingJob
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
