package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/logger"
	"github.com/baifan1366/studify-pipeline/internal/service"
)

// QueueHandler handles embedding queue endpoints.
type QueueHandler struct {
	store     *service.VectorStore
	processor *service.Processor
}

// NewQueueHandler creates a new queue handler.
// Parameters:
//   - store: vector store service instance.
//   - processor: processor owning the immediate path.
// Returns:
//   - *QueueHandler: initialized handler.
func NewQueueHandler(store *service.VectorStore, processor *service.Processor) *QueueHandler {
	return &QueueHandler{store: store, processor: processor}
}

// QueueRequest represents an enqueue API request. Priority 0 means
// "use the default"; lower values are more urgent.
type QueueRequest struct {
	ContentType string `json:"content_type" binding:"required"`
	ContentID   int64  `json:"content_id" binding:"required"`
	Priority    int    `json:"priority"`
}

// QueueResponse represents the enqueue API response.
type QueueResponse struct {
	Queued               bool `json:"queued"`
	ProcessedImmediately bool `json:"processed_immediately"`
}

// Enqueue handles POST /api/v1/embeddings/queue. Items at or below the
// immediate-priority cutoff are processed synchronously in the request
// instead of waiting for the next background tick.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *QueueHandler) Enqueue(c *gin.Context) {
	var req QueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	queued, err := h.store.QueueForEmbedding(ctx, req.ContentType, req.ContentID, req.Priority)
	if err != nil {
		if domain.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue: " + err.Error(),
		})
		return
	}

	resp := QueueResponse{Queued: queued}

	priority := req.Priority
	if priority == 0 {
		priority = domain.DefaultJobPriority
	}
	if queued && h.processor.QualifiesForImmediate(priority) {
		processed, err := h.processor.ProcessImmediate(ctx, domain.ContentType(req.ContentType), req.ContentID)
		if err != nil {
			// The job stays queued; the background loop picks it up.
			logger.CtxWarn(ctx, "Immediate processing failed, job remains queued: error=%v", err)
		}
		resp.ProcessedImmediately = processed
	}

	c.JSON(http.StatusOK, resp)
}
