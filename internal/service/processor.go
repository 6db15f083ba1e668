package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/logger"
	"github.com/baifan1366/studify-pipeline/internal/repository"
)

// VectorWriter stores chunk vectors for one model's collection.
// *repository.QdrantRepository is the production implementation.
type VectorWriter interface {
	Model() string
	Dimension() int
	UpsertChunk(ctx context.Context, vector []float32, payload *repository.ChunkPayload) (string, error)
	DeleteByContent(ctx context.Context, contentType domain.ContentType, contentID int64) error
}

// ContentStore reads the text projection the processor embeds.
type ContentStore interface {
	Get(ctx context.Context, contentType domain.ContentType, contentID int64) (*domain.ContentItem, error)
}

// ProcessorBinding is one model the processor writes through: its
// embedding provider and the vector collection that stores the output.
type ProcessorBinding struct {
	Name     string
	Provider EmbeddingProvider
	Vectors  VectorWriter
}

// ProcessorBindings adapts the registry's model set for the processor.
func (r *EmbeddingRegistry) ProcessorBindings() []ProcessorBinding {
	bindings := r.Bindings()
	out := make([]ProcessorBinding, len(bindings))
	for i, b := range bindings {
		out[i] = ProcessorBinding{Name: b.Name, Provider: b.Provider, Vectors: b.Vectors}
	}
	return out
}

// ProcessorOptions tunes the background loop.
type ProcessorOptions struct {
	BatchSize         int
	Interval          time.Duration
	ImmediatePriority int // jobs at or below this priority qualify for in-request processing
}

// ProcessorStatus is a snapshot of the processor for the admin API.
type ProcessorStatus struct {
	IsRunning       bool       `json:"is_running"`
	QueueSize       int64      `json:"queue_size"`
	ProcessedCount  int64      `json:"processed_count"`
	ErrorCount      int64      `json:"error_count"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	ProcessingRate  float64    `json:"processing_rate"` // jobs per minute since start
}

// Processor owns the queue-draining loop. It is the only component that
// transitions jobs out of processing, and it holds its own run state:
// Start and Stop are idempotent and safe to call concurrently.
type Processor struct {
	queue    *repository.JobRepository
	records  *repository.RecordRepository
	content  ContentStore
	bindings []ProcessorBinding
	chunker  *Chunker
	opts     ProcessorOptions

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	startedAt time.Time

	statsMu         sync.Mutex
	processedCount  int64
	errorCount      int64
	lastProcessedAt time.Time
}

// NewProcessor creates a Processor. Zero option fields fall back to
// defaults (batch 10, interval 30s, immediate priority 2).
func NewProcessor(queue *repository.JobRepository, records *repository.RecordRepository, content ContentStore, bindings []ProcessorBinding, chunker *Chunker, opts ProcessorOptions) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.ImmediatePriority <= 0 {
		opts.ImmediatePriority = 2
	}
	return &Processor{
		queue:    queue,
		records:  records,
		content:  content,
		bindings: bindings,
		chunker:  chunker,
		opts:     opts,
	}
}

// Start launches the background loop. Returns false when the processor
// was already running.
func (p *Processor) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return false
	}
	p.running = true
	p.startedAt = time.Now()
	p.stopCh = make(chan struct{})

	p.wg.Add(1)
	go p.loop(p.stopCh)
	return true
}

// Stop halts the background loop and waits for the in-flight batch to
// finish. Returns false when the processor was not running.
func (p *Processor) Stop() bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	return true
}

// IsRunning reports whether the background loop is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) loop(stop <-chan struct{}) {
	defer p.wg.Done()

	ctx := logger.WithField(context.Background(), logger.FieldComponent, "processor")
	logger.CtxInfo(ctx, "Processor started: batch_size=%d, interval=%s", p.opts.BatchSize, p.opts.Interval)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	// Drain once immediately so a restart doesn't wait a full interval.
	p.runBatch(ctx)

	for {
		select {
		case <-stop:
			logger.CtxInfo(ctx, "Processor stopped")
			return
		case <-ticker.C:
			p.runBatch(ctx)
		}
	}
}

func (p *Processor) runBatch(ctx context.Context) {
	processed, failed, err := p.ProcessBatch(ctx, p.opts.BatchSize)
	if err != nil {
		logger.CtxError(ctx, "Batch run failed: error=%v", err)
		return
	}
	if processed > 0 || failed > 0 {
		logger.With(logger.Fields{"processed": processed, "failed": failed}).
			Info(ctx, "Batch run finished")
	}
}

// ProcessBatch claims up to limit due jobs and processes each in turn.
// A failing job is recorded on that job alone and never aborts the rest
// of the batch.
func (p *Processor) ProcessBatch(ctx context.Context, limit int) (processed, failed int, err error) {
	jobs, err := p.queue.DequeueBatch(ctx, limit)
	if err != nil {
		return 0, 0, err
	}

	for i := range jobs {
		job := &jobs[i]
		jctx := logger.WithFields(ctx, logger.Fields{
			logger.FieldJobID:       job.ID,
			logger.FieldContentType: job.ContentType,
			logger.FieldContentID:   job.ContentID,
		})

		start := time.Now()
		if jobErr := p.processJob(jctx, job); jobErr != nil {
			failed++
			p.noteError()
			logger.CtxWarn(jctx, "Job failed: retry_count=%d, error=%v", job.RetryCount, jobErr)
			if markErr := p.queue.MarkFailed(jctx, job.ID, jobErr.Error()); markErr != nil {
				logger.CtxError(jctx, "Failed to record job failure: error=%v", markErr)
			}
			continue
		}

		processed++
		p.noteProcessed()
		if markErr := p.queue.MarkCompleted(jctx, job.ID); markErr != nil {
			logger.CtxError(jctx, "Failed to mark job completed: error=%v", markErr)
			continue
		}
		logger.With(nil).WithDuration(time.Since(start).Milliseconds()).
			Info(jctx, "Job completed")
	}

	return processed, failed, nil
}

// ProcessImmediate claims a small batch synchronously and processes it,
// used for high-priority enqueues that should not wait for the next
// tick. Returns whether the (contentType, contentID) job was processed
// successfully in this call.
func (p *Processor) ProcessImmediate(ctx context.Context, contentType domain.ContentType, contentID int64) (bool, error) {
	jobs, err := p.queue.DequeueBatch(ctx, p.opts.BatchSize)
	if err != nil {
		return false, err
	}

	target := false
	for i := range jobs {
		job := &jobs[i]
		jctx := logger.WithFields(ctx, logger.Fields{
			logger.FieldJobID:       job.ID,
			logger.FieldContentType: job.ContentType,
			logger.FieldContentID:   job.ContentID,
		})

		if jobErr := p.processJob(jctx, job); jobErr != nil {
			p.noteError()
			logger.CtxWarn(jctx, "Immediate job failed: error=%v", jobErr)
			if markErr := p.queue.MarkFailed(jctx, job.ID, jobErr.Error()); markErr != nil {
				logger.CtxError(jctx, "Failed to record job failure: error=%v", markErr)
			}
			continue
		}

		p.noteProcessed()
		if markErr := p.queue.MarkCompleted(jctx, job.ID); markErr != nil {
			logger.CtxError(jctx, "Failed to mark job completed: error=%v", markErr)
			continue
		}
		if job.ContentType == contentType && job.ContentID == contentID {
			target = true
		}
	}

	return target, nil
}

// QualifiesForImmediate reports whether a priority is high enough for
// the in-request processing path.
func (p *Processor) QualifiesForImmediate(priority int) bool {
	return priority <= p.opts.ImmediatePriority
}

// QueueExisting enqueues content items that have no live records for
// the given model, at default priority. Used by the admin backfill
// action; returns the number of items enqueued.
func (p *Processor) QueueExisting(ctx context.Context, model string, limit int) (int, error) {
	missing, err := p.records.ContentMissingRecords(ctx, model, limit)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, item := range missing {
		if _, err := p.queue.Enqueue(ctx, item.ContentType, item.ContentID, domain.DefaultJobPriority); err != nil {
			logger.CtxWarn(ctx, "Backfill enqueue failed: content_type=%s, content_id=%d, error=%v",
				item.ContentType, item.ContentID, err)
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

// DeleteContent removes a content item's vectors from every model's
// collection and retires its records. Used when the source content is
// deleted upstream; any still-active job for the pair will later fail
// on the missing content and exhaust its retries.
func (p *Processor) DeleteContent(ctx context.Context, contentType domain.ContentType, contentID int64) error {
	for _, b := range p.bindings {
		if err := b.Vectors.DeleteByContent(ctx, contentType, contentID); err != nil {
			return fmt.Errorf("model %s: %w", b.Name, err)
		}
	}
	return p.records.MarkDeleted(ctx, contentType, contentID)
}

// Status returns a snapshot for the admin API.
func (p *Processor) Status(ctx context.Context) (*ProcessorStatus, error) {
	queued, err := p.queue.CountByStatus(ctx, domain.JobStatusQueued)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	running := p.running
	startedAt := p.startedAt
	p.mu.Unlock()

	p.statsMu.Lock()
	status := &ProcessorStatus{
		IsRunning:      running,
		QueueSize:      queued,
		ProcessedCount: p.processedCount,
		ErrorCount:     p.errorCount,
	}
	if !p.lastProcessedAt.IsZero() {
		t := p.lastProcessedAt
		status.LastProcessedAt = &t
	}
	p.statsMu.Unlock()

	if running && status.ProcessedCount > 0 {
		minutes := time.Since(startedAt).Minutes()
		if minutes > 0 {
			status.ProcessingRate = float64(status.ProcessedCount) / minutes
		}
	}
	return status, nil
}

// processJob embeds one content item under every configured model and
// replaces its record set. Any error leaves the job for MarkFailed.
func (p *Processor) processJob(ctx context.Context, job *domain.EmbeddingJob) error {
	item, err := p.content.Get(ctx, job.ContentType, job.ContentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("content %s/%d not found", job.ContentType, job.ContentID)
		}
		return fmt.Errorf("failed to load content: %w", err)
	}

	chunks := p.chunker.Split(item.Title, item.Body)
	if len(chunks) == 0 {
		// Empty content: retire whatever records exist and clear vectors.
		for _, b := range p.bindings {
			if err := b.Vectors.DeleteByContent(ctx, job.ContentType, job.ContentID); err != nil {
				return fmt.Errorf("model %s: %w", b.Name, err)
			}
			if err := p.records.ReplaceForContent(ctx, job.ContentType, job.ContentID, b.Name, nil); err != nil {
				return fmt.Errorf("model %s: %w", b.Name, err)
			}
		}
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	for _, b := range p.bindings {
		vectors, err := b.Provider.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("model %s: %w", b.Name, err)
		}
		if len(vectors) != len(chunks) {
			return fmt.Errorf("model %s returned %d vectors for %d chunks", b.Name, len(vectors), len(chunks))
		}

		recordIDs := make([]string, len(chunks))
		for i := range recordIDs {
			recordIDs[i] = uuid.New().String()
		}

		records := make([]domain.EmbeddingRecord, 0, len(chunks))
		for i, ch := range chunks {
			pointID, err := b.Vectors.UpsertChunk(ctx, vectors[i], &repository.ChunkPayload{
				ContentType:    string(job.ContentType),
				ContentID:      job.ContentID,
				ChunkIndex:     ch.Index,
				ChunkType:      ch.ChunkType,
				HierarchyLevel: ch.Level,
				SectionTitle:   ch.SectionTitle,
				Snippet:        snippet(ch.Text),
			})
			if err != nil {
				return fmt.Errorf("model %s chunk %d: %w", b.Name, ch.Index, err)
			}

			var parent *string
			if ch.ParentIndex >= 0 {
				parent = &recordIDs[ch.ParentIndex]
			}
			records = append(records, domain.EmbeddingRecord{
				ID:             recordIDs[i],
				ContentType:    job.ContentType,
				ContentID:      job.ContentID,
				ChunkIndex:     ch.Index,
				ChunkType:      domain.ChunkType(ch.ChunkType),
				HierarchyLevel: ch.Level,
				ParentChunkID:  parent,
				SectionTitle:   ch.SectionTitle,
				TokenCount:     ch.TokenCount,
				Language:       item.Language,
				HasCode:        ch.HasCode,
				HasTable:       ch.HasTable,
				HasList:        ch.HasList,
				EmbeddingModel: b.Name,
				PointID:        pointID,
				Status:         domain.RecordStatusActive,
			})
		}

		if err := p.records.ReplaceForContent(ctx, job.ContentType, job.ContentID, b.Name, records); err != nil {
			return fmt.Errorf("model %s: %w", b.Name, err)
		}
	}

	return nil
}

func (p *Processor) noteProcessed() {
	p.statsMu.Lock()
	p.processedCount++
	p.lastProcessedAt = time.Now()
	p.statsMu.Unlock()
}

func (p *Processor) noteError() {
	p.statsMu.Lock()
	p.errorCount++
	p.lastProcessedAt = time.Now()
	p.statsMu.Unlock()
}

const snippetMaxLen = 200

// snippet trims chunk text to a short payload-sized preview. The cut
// always lands on a rune boundary so text without spaces (CJK prose,
// long tokens) never yields an invalid UTF-8 prefix.
func snippet(text string) string {
	if len(text) <= snippetMaxLen {
		return text
	}
	end := snippetMaxLen
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if idx := lastSpace(cut); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' || s[i] == '\n' {
			return i
		}
	}
	return -1
}
