package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/repository"
	"gorm.io/gorm"
)

type processorEnv struct {
	db       *gorm.DB
	jobs     *repository.JobRepository
	records  *repository.RecordRepository
	provider *fakeProvider
	index    *fakeIndex
	proc     *Processor
}

func newProcessorEnv(t *testing.T) *processorEnv {
	t.Helper()
	db := newTestDB(t)
	jobs := repository.NewJobRepository(db, repository.QueueSettings{})
	records := repository.NewRecordRepository(db)
	content := repository.NewContentRepository(db)

	provider := &fakeProvider{name: "test-model", dims: 8}
	index := newFakeIndex("test-model", 8)

	proc := NewProcessor(jobs, records, content,
		[]ProcessorBinding{{Name: "test-model", Provider: provider, Vectors: index}},
		NewChunker(480),
		ProcessorOptions{BatchSize: 10, ImmediatePriority: 2},
	)
	return &processorEnv{db: db, jobs: jobs, records: records, provider: provider, index: index, proc: proc}
}

func TestProcessBatchHappyPath(t *testing.T) {
	env := newProcessorEnv(t)
	ctx := context.Background()

	seedContent(t, env.db, domain.ContentItem{
		ContentType: domain.ContentTypePost, ContentID: 42,
		Title: "Pointers", Body: "Pointers hold addresses.", Language: "en",
	})
	env.jobs.Enqueue(ctx, domain.ContentTypePost, 42, 5)

	processed, failed, err := env.proc.ProcessBatch(ctx, 10)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if processed != 1 || failed != 0 {
		t.Fatalf("expected 1 processed / 0 failed, got %d/%d", processed, failed)
	}

	job, err := env.jobs.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("job lookup failed: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("expected completed job, got %s", job.Status)
	}

	recs, _ := env.records.ListForContent(ctx, domain.ContentTypePost, 42)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].EmbeddingModel != "test-model" {
		t.Errorf("record carries wrong model tag: %s", recs[0].EmbeddingModel)
	}
	if recs[0].Language != "en" {
		t.Errorf("record should inherit content language, got %q", recs[0].Language)
	}
	if env.index.count() != 1 {
		t.Errorf("expected 1 vector point, got %d", env.index.count())
	}
}

func TestProcessBatchIsolatesFailingJob(t *testing.T) {
	env := newProcessorEnv(t)
	env.provider.failSubstr = "poison"
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		body := fmt.Sprintf("content number %d", i)
		if i == 3 {
			body = "poison pill content"
		}
		seedContent(t, env.db, domain.ContentItem{
			ContentType: domain.ContentTypePost, ContentID: i, Body: body,
		})
		env.jobs.Enqueue(ctx, domain.ContentTypePost, i, 5)
	}

	processed, failed, err := env.proc.ProcessBatch(ctx, 10)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if processed != 4 || failed != 1 {
		t.Fatalf("expected 4 processed / 1 failed, got %d/%d", processed, failed)
	}

	bad, err := env.jobs.GetActive(ctx, domain.ContentTypePost, 3)
	if err != nil {
		t.Fatalf("failing job should still be active: %v", err)
	}
	if bad.Status != domain.JobStatusQueued || bad.RetryCount != 1 {
		t.Errorf("failing job should be requeued with retry 1, got %s/%d", bad.Status, bad.RetryCount)
	}
	if bad.ErrorMessage == "" {
		t.Error("failing job should retain the error message")
	}

	for _, id := range []int64{1, 2, 4, 5} {
		recs, _ := env.records.ListForContent(ctx, domain.ContentTypePost, id)
		if len(recs) == 0 {
			t.Errorf("content %d should have records despite the failing sibling", id)
		}
	}
	if recs, _ := env.records.ListForContent(ctx, domain.ContentTypePost, 3); len(recs) != 0 {
		t.Error("failing content must not gain records")
	}
}

func TestProcessJobMissingContentFails(t *testing.T) {
	env := newProcessorEnv(t)
	ctx := context.Background()

	env.jobs.Enqueue(ctx, domain.ContentTypeLesson, 99, 5)

	processed, failed, err := env.proc.ProcessBatch(ctx, 10)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if processed != 0 || failed != 1 {
		t.Fatalf("expected 0/1, got %d/%d", processed, failed)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	env := newProcessorEnv(t)

	if !env.proc.Start() {
		t.Error("first Start should report a state change")
	}
	if env.proc.Start() {
		t.Error("second Start must be a no-op")
	}
	if !env.proc.IsRunning() {
		t.Error("processor should be running")
	}
	if !env.proc.Stop() {
		t.Error("first Stop should report a state change")
	}
	if env.proc.Stop() {
		t.Error("second Stop must be a no-op")
	}
	if env.proc.IsRunning() {
		t.Error("processor should be stopped")
	}

	// A stopped processor can be started again.
	if !env.proc.Start() {
		t.Error("restart should succeed")
	}
	env.proc.Stop()
}

func TestProcessImmediate(t *testing.T) {
	env := newProcessorEnv(t)
	ctx := context.Background()

	seedContent(t, env.db, domain.ContentItem{
		ContentType: domain.ContentTypePost, ContentID: 7, Body: "urgent content",
	})
	env.jobs.Enqueue(ctx, domain.ContentTypePost, 7, 1)

	if !env.proc.QualifiesForImmediate(1) {
		t.Fatal("priority 1 should qualify for immediate processing")
	}
	if env.proc.QualifiesForImmediate(5) {
		t.Fatal("priority 5 should not qualify for immediate processing")
	}

	done, err := env.proc.ProcessImmediate(ctx, domain.ContentTypePost, 7)
	if err != nil {
		t.Fatalf("immediate processing failed: %v", err)
	}
	if !done {
		t.Error("expected the target job to be processed")
	}

	if _, err := env.jobs.GetActive(ctx, domain.ContentTypePost, 7); err == nil {
		t.Error("job should no longer be active")
	}
	if env.index.count() != 1 {
		t.Errorf("expected a stored vector, got %d", env.index.count())
	}
}

func TestStatusCounts(t *testing.T) {
	env := newProcessorEnv(t)
	ctx := context.Background()

	seedContent(t, env.db, domain.ContentItem{
		ContentType: domain.ContentTypePost, ContentID: 1, Body: "ok",
	})
	env.jobs.Enqueue(ctx, domain.ContentTypePost, 1, 5)
	env.jobs.Enqueue(ctx, domain.ContentTypePost, 2, 5)

	env.proc.ProcessBatch(ctx, 10)

	status, err := env.proc.Status(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.ProcessedCount != 1 {
		t.Errorf("expected 1 processed, got %d", status.ProcessedCount)
	}
	if status.ErrorCount != 1 {
		t.Errorf("expected 1 error (missing content 2), got %d", status.ErrorCount)
	}
	if status.LastProcessedAt == nil {
		t.Error("expected last_processed_at to be set")
	}
}

func TestQueueExisting(t *testing.T) {
	env := newProcessorEnv(t)
	ctx := context.Background()

	seedContent(t, env.db,
		domain.ContentItem{ContentType: domain.ContentTypePost, ContentID: 1, Body: "embedded"},
		domain.ContentItem{ContentType: domain.ContentTypePost, ContentID: 2, Body: "missing"},
		domain.ContentItem{ContentType: domain.ContentTypeLesson, ContentID: 3, Body: "missing too"},
	)
	env.records.ReplaceForContent(ctx, domain.ContentTypePost, 1, "test-model", []domain.EmbeddingRecord{
		{ID: "r1", ContentType: domain.ContentTypePost, ContentID: 1, ChunkIndex: 0, ChunkType: domain.ChunkTypeDocument, EmbeddingModel: "test-model", PointID: "p1", Status: domain.RecordStatusActive},
	})

	enqueued, err := env.proc.QueueExisting(ctx, "test-model", 100)
	if err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if enqueued != 2 {
		t.Errorf("expected 2 items enqueued, got %d", enqueued)
	}

	counts, _ := env.jobs.CountActiveByType(ctx)
	if counts["post"] != 1 || counts["lesson"] != 1 {
		t.Errorf("unexpected queue composition: %v", counts)
	}
}

func TestDeleteContent(t *testing.T) {
	env := newProcessorEnv(t)
	ctx := context.Background()

	seedContent(t, env.db, domain.ContentItem{
		ContentType: domain.ContentTypePost, ContentID: 11, Body: "to be deleted",
	})
	env.jobs.Enqueue(ctx, domain.ContentTypePost, 11, 5)
	env.proc.ProcessBatch(ctx, 10)

	if env.index.count() != 1 {
		t.Fatalf("expected a stored vector before deletion, got %d", env.index.count())
	}

	if err := env.proc.DeleteContent(ctx, domain.ContentTypePost, 11); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if env.index.count() != 0 {
		t.Errorf("expected vectors removed, got %d", env.index.count())
	}
	recs, _ := env.records.ListForContent(ctx, domain.ContentTypePost, 11)
	if len(recs) != 0 {
		t.Errorf("expected records retired, got %d live", len(recs))
	}
}

func TestSnippetCutsOnRuneBoundary(t *testing.T) {
	// No spaces anywhere, so the fallback cut is the only option.
	long := strings.Repeat("学习笔记", 100)
	s := snippet(long)
	if !utf8.ValidString(s) {
		t.Fatalf("snippet produced invalid UTF-8: %q", s)
	}
	if len(s) > snippetMaxLen+len("…") {
		t.Errorf("snippet too long: %d bytes", len(s))
	}

	short := "短い"
	if got := snippet(short); got != short {
		t.Errorf("short text must pass through unchanged, got %q", got)
	}

	spaced := strings.Repeat("word ", 100)
	s = snippet(spaced)
	if !strings.HasSuffix(s, "…") {
		t.Errorf("long text should be ellipsized, got %q", s)
	}
	if strings.HasSuffix(strings.TrimSuffix(s, "…"), " ") {
		t.Errorf("cut should land before the trailing space, got %q", s)
	}
}
