package domain

import "time"

// RecordStatus represents the vectorization state of a single chunk.
type RecordStatus string

const (
	RecordStatusActive RecordStatus = "active"
	RecordStatusFailed RecordStatus = "failed"
)

// ChunkType classifies the structural role of a chunk inside its
// content item.
type ChunkType string

const (
	ChunkTypeDocument  ChunkType = "document"
	ChunkTypeSection   ChunkType = "section"
	ChunkTypeParagraph ChunkType = "paragraph"
)

// EmbeddingRecord tracks one stored vector for one chunk of a content
// item. The same content item may own many chunk-level records, and the
// same chunk may be embedded by different models, each in its own
// vector collection. Vectors from different models are never compared.
//
// Records form a tree via ParentChunkID: a child's HierarchyLevel is
// always exactly one greater than its parent's.
type EmbeddingRecord struct {
	ID             string       `gorm:"type:text;primaryKey" json:"id"`
	ContentType    ContentType  `gorm:"type:text;not null;index:idx_embedding_records_content" json:"content_type"`
	ContentID      int64        `gorm:"not null;index:idx_embedding_records_content" json:"content_id"`
	ChunkIndex     int          `gorm:"not null" json:"chunk_index"`
	ChunkType      ChunkType    `gorm:"type:text;not null" json:"chunk_type"`
	HierarchyLevel int          `gorm:"not null;default:0" json:"hierarchy_level"`
	ParentChunkID  *string      `gorm:"type:text" json:"parent_chunk_id,omitempty"`
	SectionTitle   string       `gorm:"type:text" json:"section_title,omitempty"`
	TokenCount     int          `gorm:"not null;default:0" json:"token_count"`
	Language       string       `gorm:"type:text" json:"language,omitempty"`
	HasCode        bool         `gorm:"not null;default:false" json:"has_code"`
	HasTable       bool         `gorm:"not null;default:false" json:"has_table"`
	HasList        bool         `gorm:"not null;default:false" json:"has_list"`
	EmbeddingModel string       `gorm:"type:text;not null;index" json:"embedding_model"`
	PointID        string       `gorm:"type:text;not null" json:"point_id"`
	Status         RecordStatus `gorm:"type:text;not null;default:active" json:"status"`
	ErrorMessage   string       `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount     int          `gorm:"not null;default:0" json:"retry_count"`
	IsDeleted      bool         `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// TableName returns the database table name for EmbeddingRecord.
func (EmbeddingRecord) TableName() string {
	return "embedding_records"
}
