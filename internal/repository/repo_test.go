package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/baifan1366/studify-pipeline/internal/config"
	"github.com/baifan1366/studify-pipeline/internal/domain"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         ":memory:",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		AutoMigrate:  true,
	})
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	return db
}

func seedContent(t *testing.T, db *gorm.DB, items ...domain.ContentItem) {
	t.Helper()
	for i := range items {
		if err := db.Create(&items[i]).Error; err != nil {
			t.Fatalf("failed to seed content: %v", err)
		}
	}
}

func TestEnqueueUpsertsActiveJob(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db, QueueSettings{})
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, domain.ContentTypePost, 42, 5); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if _, err := repo.Enqueue(ctx, domain.ContentTypePost, 42, 1); err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}

	var jobs []domain.EmbeddingJob
	if err := db.Where("content_type = ? AND content_id = ?", domain.ContentTypePost, 42).Find(&jobs).Error; err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job after duplicate enqueue, got %d", len(jobs))
	}
	if jobs[0].Priority != 1 {
		t.Errorf("expected priority lowered to 1, got %d", jobs[0].Priority)
	}

	// A worse priority never raises an existing job.
	if _, err := repo.Enqueue(ctx, domain.ContentTypePost, 42, 7); err != nil {
		t.Fatalf("third enqueue failed: %v", err)
	}
	var job domain.EmbeddingJob
	if err := db.First(&job, "content_id = ?", 42).Error; err != nil {
		t.Fatalf("failed to reload job: %v", err)
	}
	if job.Priority != 1 {
		t.Errorf("expected priority to stay at 1, got %d", job.Priority)
	}
}

func TestEnqueueAfterCompletionCreatesNewJob(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db, QueueSettings{})
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, domain.ContentTypeLesson, 7, 5); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	jobs, err := repo.DequeueBatch(ctx, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("dequeue failed: jobs=%d err=%v", len(jobs), err)
	}
	if err := repo.MarkCompleted(ctx, jobs[0].ID); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	if _, err := repo.Enqueue(ctx, domain.ContentTypeLesson, 7, 5); err != nil {
		t.Fatalf("re-enqueue failed: %v", err)
	}

	var count int64
	db.Model(&domain.EmbeddingJob{}).Where("content_id = ?", 7).Count(&count)
	if count != 2 {
		t.Errorf("expected a fresh job after completion, got %d total jobs", count)
	}
}

func TestDequeueOrderAndClaim(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db, QueueSettings{})
	ctx := context.Background()

	type pair struct {
		id       int64
		priority int
	}
	for _, p := range []pair{{1, 5}, {2, 1}, {3, 3}} {
		if _, err := repo.Enqueue(ctx, domain.ContentTypePost, p.id, p.priority); err != nil {
			t.Fatalf("enqueue %d failed: %v", p.id, err)
		}
	}

	jobs, err := repo.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}

	wantOrder := []int64{2, 3, 1}
	for i, job := range jobs {
		if job.ContentID != wantOrder[i] {
			t.Errorf("position %d: expected content_id %d, got %d", i, wantOrder[i], job.ContentID)
		}
		if job.Status != domain.JobStatusProcessing {
			t.Errorf("job %d: expected processing after claim, got %s", job.ID, job.Status)
		}
	}

	// A second dequeue must not see the claimed jobs.
	again, err := repo.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("second dequeue failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no jobs on second dequeue, got %d", len(again))
	}
}

func TestMarkFailedBacksOffThenExhausts(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db, QueueSettings{MaxRetries: 2, BackoffBase: time.Minute})
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, domain.ContentTypeQuestion, 9, 5); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	jobs, err := repo.DequeueBatch(ctx, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("dequeue failed: jobs=%d err=%v", len(jobs), err)
	}
	jobID := jobs[0].ID

	if err := repo.MarkFailed(ctx, jobID, "boom"); err != nil {
		t.Fatalf("first failure failed: %v", err)
	}
	job, err := repo.GetByID(ctx, jobID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("expected requeue below retry ceiling, got %s", job.Status)
	}
	if job.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", job.RetryCount)
	}
	if !job.NextAttemptAt.After(time.Now().Add(30 * time.Second)) {
		t.Errorf("expected next_attempt_at pushed into the future, got %v", job.NextAttemptAt)
	}

	// Not yet due, so the queue must not hand it out.
	due, err := repo.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected backing-off job to be skipped, got %d jobs", len(due))
	}

	if err := repo.MarkFailed(ctx, jobID, "boom again"); err != nil {
		t.Fatalf("second failure failed: %v", err)
	}
	job, _ = repo.GetByID(ctx, jobID)
	if job.Status != domain.JobStatusFailed {
		t.Errorf("expected terminal failed at retry ceiling, got %s", job.Status)
	}
	if job.ErrorMessage != "boom again" {
		t.Errorf("expected last error retained, got %q", job.ErrorMessage)
	}
}

func TestCountActiveByType(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db, QueueSettings{})
	ctx := context.Background()

	repo.Enqueue(ctx, domain.ContentTypePost, 1, 5)
	repo.Enqueue(ctx, domain.ContentTypePost, 2, 5)
	repo.Enqueue(ctx, domain.ContentTypeLesson, 3, 5)

	counts, err := repo.CountActiveByType(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts["post"] != 2 || counts["lesson"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestReplaceForContentOverwrites(t *testing.T) {
	db := newTestDB(t)
	repo := NewRecordRepository(db)
	ctx := context.Background()

	first := []domain.EmbeddingRecord{
		{ID: "r1", ContentType: domain.ContentTypePost, ContentID: 5, ChunkIndex: 0, ChunkType: domain.ChunkTypeDocument, EmbeddingModel: "m1", PointID: "p1", Status: domain.RecordStatusActive},
		{ID: "r2", ContentType: domain.ContentTypePost, ContentID: 5, ChunkIndex: 1, ChunkType: domain.ChunkTypeParagraph, EmbeddingModel: "m1", PointID: "p2", Status: domain.RecordStatusActive},
	}
	if err := repo.ReplaceForContent(ctx, domain.ContentTypePost, 5, "m1", first); err != nil {
		t.Fatalf("first replace failed: %v", err)
	}

	second := []domain.EmbeddingRecord{
		{ID: "r3", ContentType: domain.ContentTypePost, ContentID: 5, ChunkIndex: 0, ChunkType: domain.ChunkTypeDocument, EmbeddingModel: "m1", PointID: "p1", Status: domain.RecordStatusActive},
	}
	if err := repo.ReplaceForContent(ctx, domain.ContentTypePost, 5, "m1", second); err != nil {
		t.Fatalf("second replace failed: %v", err)
	}

	live, err := repo.ListForContent(ctx, domain.ContentTypePost, 5)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(live) != 1 || live[0].ID != "r3" {
		t.Errorf("expected only the fresh record to be live, got %+v", live)
	}
}

func TestReplaceForContentIsolatesModels(t *testing.T) {
	db := newTestDB(t)
	repo := NewRecordRepository(db)
	ctx := context.Background()

	a := []domain.EmbeddingRecord{{ID: "a1", ContentType: domain.ContentTypePost, ContentID: 8, ChunkIndex: 0, ChunkType: domain.ChunkTypeDocument, EmbeddingModel: "model-a", PointID: "pa", Status: domain.RecordStatusActive}}
	b := []domain.EmbeddingRecord{{ID: "b1", ContentType: domain.ContentTypePost, ContentID: 8, ChunkIndex: 0, ChunkType: domain.ChunkTypeDocument, EmbeddingModel: "model-b", PointID: "pb", Status: domain.RecordStatusActive}}

	if err := repo.ReplaceForContent(ctx, domain.ContentTypePost, 8, "model-a", a); err != nil {
		t.Fatalf("replace a failed: %v", err)
	}
	if err := repo.ReplaceForContent(ctx, domain.ContentTypePost, 8, "model-b", b); err != nil {
		t.Fatalf("replace b failed: %v", err)
	}

	// Re-processing model-a must not touch model-b's records.
	a2 := []domain.EmbeddingRecord{{ID: "a2", ContentType: domain.ContentTypePost, ContentID: 8, ChunkIndex: 0, ChunkType: domain.ChunkTypeDocument, EmbeddingModel: "model-a", PointID: "pa", Status: domain.RecordStatusActive}}
	if err := repo.ReplaceForContent(ctx, domain.ContentTypePost, 8, "model-a", a2); err != nil {
		t.Fatalf("replace a2 failed: %v", err)
	}

	live, _ := repo.ListForContent(ctx, domain.ContentTypePost, 8)
	if len(live) != 2 {
		t.Fatalf("expected one live record per model, got %d", len(live))
	}
	for _, rec := range live {
		if rec.EmbeddingModel == "model-a" && rec.ID != "a2" {
			t.Errorf("model-a should only have the fresh record, got %s", rec.ID)
		}
		if rec.EmbeddingModel == "model-b" && rec.ID != "b1" {
			t.Errorf("model-b record should be untouched, got %s", rec.ID)
		}
	}
}

func TestContentMissingRecords(t *testing.T) {
	db := newTestDB(t)
	records := NewRecordRepository(db)
	ctx := context.Background()

	seedContent(t, db,
		domain.ContentItem{ContentType: domain.ContentTypePost, ContentID: 1, Body: "one"},
		domain.ContentItem{ContentType: domain.ContentTypePost, ContentID: 2, Body: "two"},
	)

	done := []domain.EmbeddingRecord{{ID: "r1", ContentType: domain.ContentTypePost, ContentID: 1, ChunkIndex: 0, ChunkType: domain.ChunkTypeDocument, EmbeddingModel: "m1", PointID: "p1", Status: domain.RecordStatusActive}}
	if err := records.ReplaceForContent(ctx, domain.ContentTypePost, 1, "m1", done); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	missing, err := records.ContentMissingRecords(ctx, "m1", 100)
	if err != nil {
		t.Fatalf("missing query failed: %v", err)
	}
	if len(missing) != 1 || missing[0].ContentID != 2 {
		t.Errorf("expected only content 2 to be missing, got %+v", missing)
	}
}

func TestListEnabledFiltersByToggle(t *testing.T) {
	db := newTestDB(t)
	repo := NewPreferenceRepository(db)
	ctx := context.Background()

	prefs := []domain.NotificationPreference{
		{UserID: 1, EnableDailyPlan: true},
		{UserID: 2, EnableDailyPlan: false, EnableWeeklyDigest: true},
		{UserID: 3, EnableDailyPlan: true},
	}
	for i := range prefs {
		if err := repo.Upsert(ctx, &prefs[i]); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	daily, err := repo.ListEnabled(ctx, domain.DigestDailyPlan, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(daily) != 2 {
		t.Fatalf("expected 2 daily recipients, got %d", len(daily))
	}
	for _, p := range daily {
		if p.UserID == 2 {
			t.Error("user 2 is opted out of daily plan and must not be resolved")
		}
	}

	weekly, err := repo.ListEnabled(ctx, domain.DigestWeekly, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(weekly) != 1 || weekly[0].UserID != 2 {
		t.Errorf("expected only user 2 for weekly, got %+v", weekly)
	}
}

func TestDequeueBatchConcurrentClaims(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db, QueueSettings{})
	ctx := context.Background()

	const total = 20
	for i := int64(1); i <= total; i++ {
		if _, err := repo.Enqueue(ctx, domain.ContentTypePost, i, 5); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	// Racing workers must never claim the same job twice.
	var (
		mu      sync.Mutex
		claimed = make(map[int64]int)
		wg      sync.WaitGroup
	)
	errs := make(chan error, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := repo.DequeueBatch(ctx, 10)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			for _, j := range jobs {
				claimed[j.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent dequeue failed: %v", err)
	}

	for id, n := range claimed {
		if n > 1 {
			t.Errorf("job %d claimed by %d workers", id, n)
		}
	}
	if len(claimed) != total {
		t.Errorf("expected all %d jobs claimed exactly once, got %d", total, len(claimed))
	}
}
