package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/service"
)

// DigestHandler handles scheduled digest triggers.
type DigestHandler struct {
	digests *service.DigestService
}

// NewDigestHandler creates a new digest handler.
// Parameters:
//   - digests: digest service instance.
// Returns:
//   - *DigestHandler: initialized handler.
func NewDigestHandler(digests *service.DigestService) *DigestHandler {
	return &DigestHandler{digests: digests}
}

// DigestTriggerResponse wraps a digest run outcome for the scheduler.
// The full per-user stats are included so it can alert on partial
// failures without another round trip.
type DigestTriggerResponse struct {
	Success   bool                    `json:"success"`
	Message   string                  `json:"message"`
	Stats     *domain.DigestRunResult `json:"stats"`
	Timestamp time.Time               `json:"timestamp"`
}

// Trigger handles POST /api/v1/cron/digest/:type, invoked by the
// platform's cron scheduler.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *DigestHandler) Trigger(c *gin.Context) {
	digestType, err := domain.ParseDigestType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.digests.Run(c.Request.Context(), digestType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Digest run failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, DigestTriggerResponse{
		Success: result.FailedCount == 0,
		Message: fmt.Sprintf("digest %s dispatched to %d recipients (%d failed)",
			digestType, result.SuccessCount, result.FailedCount),
		Stats:     result,
		Timestamp: result.FinishedAt,
	})
}
