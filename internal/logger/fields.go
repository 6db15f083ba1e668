package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields. These are propagated through the call chain
// via context so every log line in one request or job carries them.
const (
	// FieldRequestID is the HTTP request ID (UUID).
	FieldRequestID = "request_id"

	// FieldJobID is the embedding job ID.
	FieldJobID = "job_id"

	// FieldContentType is the content type a job or record refers to.
	FieldContentType = "content_type"

	// FieldContentID is the content ID a job or record refers to.
	FieldContentID = "content_id"

	// FieldDigestType is the digest kind of a scheduler run.
	FieldDigestType = "digest_type"

	// FieldUserID is the recipient user ID in digest dispatch.
	FieldUserID = "user_id"

	// FieldComponent is the component/module name.
	FieldComponent = "component"

	// FieldModel is the embedding model name.
	FieldModel = "model"
)

// Standard metric fields attached at the log-call site for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds.
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field.
	FieldCount = "count"

	// FieldStatus is the operation status.
	FieldStatus = "status"

	// FieldSize is a response or payload size in bytes.
	FieldSize = "size"
)
