package repository

import (
	"context"
	"fmt"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"gorm.io/gorm"
)

// RecordRepository handles embedding record persistence.
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a RecordRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *RecordRepository: repository instance bound to db.
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// ReplaceForContent swaps the record set for one content item under one
// model in a single transaction. Existing rows for the
// (contentType, contentID, model) key are soft-deleted first, then the
// fresh rows are inserted, so re-processing overwrites rather than
// appends and a redelivered webhook is harmless.
func (r *RecordRepository) ReplaceForContent(ctx context.Context, contentType domain.ContentType, contentID int64, model string, records []domain.EmbeddingRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.EmbeddingRecord{}).
			Where("content_type = ? AND content_id = ? AND embedding_model = ? AND is_deleted = ?",
				contentType, contentID, model, false).
			Update("is_deleted", true).Error; err != nil {
			return fmt.Errorf("failed to retire old records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("failed to insert records: %w", err)
		}
		return nil
	})
}

// ListForContent returns the live records for one content item, all
// models, ordered by chunk index.
func (r *RecordRepository) ListForContent(ctx context.Context, contentType domain.ContentType, contentID int64) ([]domain.EmbeddingRecord, error) {
	var records []domain.EmbeddingRecord
	err := r.db.WithContext(ctx).
		Where("content_type = ? AND content_id = ? AND is_deleted = ?", contentType, contentID, false).
		Order("embedding_model ASC, chunk_index ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// MarkDeleted soft-deletes all records for a content item, used when
// the source content is removed.
func (r *RecordRepository) MarkDeleted(ctx context.Context, contentType domain.ContentType, contentID int64) error {
	return r.db.WithContext(ctx).Model(&domain.EmbeddingRecord{}).
		Where("content_type = ? AND content_id = ?", contentType, contentID).
		Update("is_deleted", true).Error
}

// CountLive counts non-deleted records, optionally per model.
func (r *RecordRepository) CountLive(ctx context.Context, model string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.EmbeddingRecord{}).Where("is_deleted = ?", false)
	if model != "" {
		q = q.Where("embedding_model = ?", model)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ContentMissingRecords returns content items that currently have no
// live records for the given model, used by the queue_existing admin
// action to backfill.
func (r *RecordRepository) ContentMissingRecords(ctx context.Context, model string, limit int) ([]domain.ContentItem, error) {
	var items []domain.ContentItem
	sub := r.db.Model(&domain.EmbeddingRecord{}).
		Select("1").
		Where("embedding_records.content_type = content_items.content_type").
		Where("embedding_records.content_id = content_items.content_id").
		Where("embedding_records.embedding_model = ? AND embedding_records.is_deleted = ?", model, false)
	err := r.db.WithContext(ctx).
		Model(&domain.ContentItem{}).
		Where("NOT EXISTS (?)", sub).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
