package domain

import "time"

// JobStatus represents the lifecycle state of an embedding job.
// Values include JobStatusQueued, JobStatusProcessing, JobStatusCompleted,
// and JobStatusFailed. Completed and failed are terminal.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

const (
	// DefaultJobPriority is the mid-range priority assigned when the
	// caller does not request one. Lower values are served sooner.
	DefaultJobPriority = 5

	// DefaultMaxRetries bounds how many times a job is re-queued after
	// transient failures before it becomes terminally failed.
	DefaultMaxRetries = 3
)

// EmbeddingJob is a durable queue entry for one (content_type, content_id)
// pair. At most one non-terminal job exists per pair; re-enqueuing an
// active pair upserts the existing row instead of duplicating it.
// Jobs are never hard-deleted; terminal rows stay for audit.
type EmbeddingJob struct {
	ID            int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	ContentType   ContentType `gorm:"type:text;not null;index:idx_embedding_jobs_key" json:"content_type"`
	ContentID     int64       `gorm:"not null;index:idx_embedding_jobs_key" json:"content_id"`
	Priority      int         `gorm:"not null;default:5;index:idx_embedding_jobs_dequeue" json:"priority"`
	Status        JobStatus   `gorm:"type:text;not null;default:queued;index:idx_embedding_jobs_dequeue" json:"status"`
	RetryCount    int         `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries    int         `gorm:"not null;default:3" json:"max_retries"`
	NextAttemptAt time.Time   `gorm:"not null;index" json:"next_attempt_at"`
	ErrorMessage  string      `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName returns the database table name for EmbeddingJob.
func (EmbeddingJob) TableName() string {
	return "embedding_jobs"
}
