package domain

import (
	"fmt"
	"time"
)

// ContentType identifies which kind of learning content a job or
// embedding record refers to. The content itself is owned by the
// platform's CRUD layers; this subsystem only reads a text projection.
type ContentType string

const (
	ContentTypePost       ContentType = "post"
	ContentTypeLesson     ContentType = "lesson"
	ContentTypeQuestion   ContentType = "question"
	ContentTypeVideoChunk ContentType = "video_chunk"
)

// AllContentTypes lists every content type the pipeline accepts.
var AllContentTypes = []ContentType{
	ContentTypePost,
	ContentTypeLesson,
	ContentTypeQuestion,
	ContentTypeVideoChunk,
}

// ParseContentType validates a raw string against the known content types.
// Unknown values are a ValidationError, never silently accepted.
func ParseContentType(raw string) (ContentType, error) {
	ct := ContentType(raw)
	for _, known := range AllContentTypes {
		if ct == known {
			return ct, nil
		}
	}
	return "", NewValidationError("content_type", fmt.Sprintf("unknown content type %q", raw))
}

// ValidationError marks malformed or out-of-range input. Handlers map it
// to a 400 response; it is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// ContentItem is the uniform read-only projection of a content row the
// pipeline embeds. Which table it comes from depends on ContentType.
type ContentItem struct {
	ContentType ContentType `gorm:"column:content_type;type:text;primaryKey" json:"content_type"`
	ContentID   int64       `gorm:"column:content_id;primaryKey;autoIncrement:false" json:"content_id"`
	Title       string      `gorm:"type:text" json:"title"`
	Body        string      `gorm:"type:text;not null" json:"body"`
	Language    string      `gorm:"type:text" json:"language"`
	AuthorID    int64       `json:"author_id"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TableName returns the table backing the content projection.
func (ContentItem) TableName() string {
	return "content_items"
}
