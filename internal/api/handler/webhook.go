package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/logger"
	"github.com/baifan1366/studify-pipeline/internal/service"
)

// Webhook event kinds accepted on the embedding ingress.
const (
	eventContentCreated = "content.created"
	eventContentUpdated = "content.updated"
	eventContentDeleted = "content.deleted"
)

// WebhookHandler handles the embedding webhook ingress. Signature
// verification happens in middleware before this handler runs; by the
// time an event arrives here it is authenticated.
type WebhookHandler struct {
	store     *service.VectorStore
	processor *service.Processor
}

// NewWebhookHandler creates a new webhook handler.
// Parameters:
//   - store: vector store service instance.
//   - processor: processor owning vector deletion.
// Returns:
//   - *WebhookHandler: initialized handler.
func NewWebhookHandler(store *service.VectorStore, processor *service.Processor) *WebhookHandler {
	return &WebhookHandler{store: store, processor: processor}
}

// WebhookEvent represents an incoming content change event.
type WebhookEvent struct {
	Event       string `json:"event" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	ContentID   int64  `json:"content_id" binding:"required"`
	Priority    int    `json:"priority"`
}

// Embedding handles POST /api/v1/webhooks/embedding. Redelivery of the
// same event is harmless: enqueue upserts the active job and deletion
// of already-deleted content is a no-op.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *WebhookHandler) Embedding(c *gin.Context) {
	var event WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid event: " + err.Error(),
		})
		return
	}

	ctx := logger.WithFields(c.Request.Context(), logger.Fields{
		logger.FieldContentType: event.ContentType,
		logger.FieldContentID:   event.ContentID,
	})

	switch event.Event {
	case eventContentCreated, eventContentUpdated:
		queued, err := h.store.QueueForEmbedding(ctx, event.ContentType, event.ContentID, event.Priority)
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

		// Urgent events take the same in-request path as the enqueue
		// trigger instead of waiting for the next background tick.
		priority := event.Priority
		if priority == 0 {
			priority = domain.DefaultJobPriority
		}
		processed := false
		if queued && h.processor.QualifiesForImmediate(priority) {
			processed, err = h.processor.ProcessImmediate(ctx, domain.ContentType(event.ContentType), event.ContentID)
			if err != nil {
				// The job stays queued; the background loop picks it up.
				logger.CtxWarn(ctx, "Immediate processing failed, job remains queued: error=%v", err)
			}
		}

		logger.CtxInfo(ctx, "Webhook event accepted: event=%s", event.Event)
		c.JSON(http.StatusOK, gin.H{
			"accepted":              true,
			"queued":                queued,
			"processed_immediately": processed,
		})

	case eventContentDeleted:
		contentType, err := domain.ParseContentType(event.ContentType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := h.processor.DeleteContent(ctx, contentType, event.ContentID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete content vectors: " + err.Error(),
			})
			return
		}
		logger.CtxInfo(ctx, "Webhook event accepted: event=%s", event.Event)
		c.JSON(http.StatusOK, gin.H{"accepted": true, "deleted": true})

	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown event " + event.Event,
		})
	}
}
