package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"github.com/baifan1366/studify-pipeline/internal/service"
)

// SearchHandler handles similarity search endpoints.
type SearchHandler struct {
	store *service.VectorStore
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - store: vector store service instance.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(store *service.VectorStore) *SearchHandler {
	return &SearchHandler{store: store}
}

// Search handles POST /api/v1/search.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) Search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result, err := h.store.SearchSimilarContent(c.Request.Context(), &req)
	if err != nil {
		if domain.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Search failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
