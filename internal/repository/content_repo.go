package repository

import (
	"context"
	"time"

	"github.com/baifan1366/studify-pipeline/internal/domain"
	"gorm.io/gorm"
)

// ContentRepository is the read-only content store adapter. The content
// tables are owned by the platform's CRUD layers; the pipeline only
// reads the uniform text projection it embeds.
type ContentRepository struct {
	db *gorm.DB
}

// NewContentRepository creates a ContentRepository.
func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Get fetches the textual payload for one (contentType, contentID),
// or gorm.ErrRecordNotFound when the content does not exist.
func (r *ContentRepository) Get(ctx context.Context, contentType domain.ContentType, contentID int64) (*domain.ContentItem, error) {
	var item domain.ContentItem
	err := r.db.WithContext(ctx).
		First(&item, "content_type = ? AND content_id = ?", contentType, contentID).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListRecentByAuthor returns an author's content updated since the
// given time, newest first. Used by the digest builders.
func (r *ContentRepository) ListRecentByAuthor(ctx context.Context, authorID int64, since time.Time, limit int) ([]domain.ContentItem, error) {
	q := r.db.WithContext(ctx).
		Where("author_id = ? AND updated_at >= ?", authorID, since).
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var items []domain.ContentItem
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
