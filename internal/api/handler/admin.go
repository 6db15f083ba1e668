package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/repository"
	"github.com/baifan1366/studify-pipeline/internal/service"
)

// AdminHandler handles processor control and queue inspection.
type AdminHandler struct {
	processor    *service.Processor
	jobs         *repository.JobRepository
	defaultModel string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - processor: processor controller instance.
//   - jobs: job repository for queue inspection.
//   - defaultModel: model used by queue_existing when none is named.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(processor *service.Processor, jobs *repository.JobRepository, defaultModel string) *AdminHandler {
	return &AdminHandler{
		processor:    processor,
		jobs:         jobs,
		defaultModel: defaultModel,
	}
}

// ProcessorRequest represents a processor control request.
type ProcessorRequest struct {
	Action      string `json:"action" binding:"required"`
	ContentType string `json:"content_type"`
	ContentID   int64  `json:"content_id"`
	Model       string `json:"model"`
	Limit       int    `json:"limit"`
}

// Processor handles POST /api/v1/admin/processor. Supported actions:
// start, stop, status, queue_existing, process_immediate.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) Processor(c *gin.Context) {
	var req ProcessorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	ctx := c.Request.Context()

	switch req.Action {
	case "start":
		started := h.processor.Start()
		message := "processor started"
		if !started {
			message = "processor already running"
		}
		c.JSON(http.StatusOK, gin.H{"message": message, "is_running": true})

	case "stop":
		stopped := h.processor.Stop()
		message := "processor stopped"
		if !stopped {
			message = "processor not running"
		}
		c.JSON(http.StatusOK, gin.H{"message": message, "is_running": false})

	case "status":
		status, err := h.processor.Status(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to read status: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, status)

	case "queue_existing":
		model := req.Model
		if model == "" {
			model = h.defaultModel
		}
		limit := req.Limit
		if limit <= 0 {
			limit = 1000
		}
		enqueued, err := h.processor.QueueExisting(ctx, model, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Backfill failed: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enqueued": enqueued, "model": model})

	case "process_immediate":
		contentType, err := domain.ParseContentType(req.ContentType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.ContentID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content_id: must be positive"})
			return
		}
		processed, err := h.processor.ProcessImmediate(ctx, contentType, req.ContentID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Immediate processing failed: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"processed": processed})

	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown action " + req.Action,
		})
	}
}

// QueueStatusResponse represents per-type queue depth plus a sample of
// upcoming jobs in dequeue order.
type QueueStatusResponse struct {
	Queued     int64                 `json:"queued"`
	Processing int64                 `json:"processing"`
	Failed     int64                 `json:"failed"`
	ByType     map[string]int64      `json:"by_type"`
	NextJobs   []domain.EmbeddingJob `json:"next_jobs"`
}

// QueueStatus handles GET /api/v1/admin/queue-status.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) QueueStatus(c *gin.Context) {
	ctx := c.Request.Context()

	queued, err := h.jobs.CountByStatus(ctx, domain.JobStatusQueued)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	processing, err := h.jobs.CountByStatus(ctx, domain.JobStatusProcessing)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	failed, err := h.jobs.CountByStatus(ctx, domain.JobStatusFailed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	byType, err := h.jobs.CountActiveByType(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var contentType domain.ContentType
	if raw := c.Query("content_type"); raw != "" {
		contentType, err = domain.ParseContentType(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	sample, err := h.jobs.SampleActive(ctx, contentType, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, QueueStatusResponse{
		Queued:     queued,
		Processing: processing,
		Failed:     failed,
		ByType:     byType,
		NextJobs:   sample,
	})
}
