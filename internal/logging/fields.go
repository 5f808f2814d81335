package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldGlobalKey is the standardized structured logging key for download identifiers.
	FieldGlobalKey = "global_key"
	// FieldContentKind is the standardized structured logging key for movie/episode discrimination.
	FieldContentKind = "content_kind"
	// FieldStatus is the standardized structured logging key for download statuses.
	FieldStatus = "status"
	// FieldSessionID is the standardized structured logging key for per-transfer session identifiers.
	FieldSessionID = "session_id"
	// FieldEventType tags log records for downstream filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries an operator-facing remediation hint alongside errors.
	FieldErrorHint = "error_hint"
)
