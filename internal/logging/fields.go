package logging

// Standardized attribute keys. Keeping these in one place keeps log output
// consistent across the supervisor, store service, and api service.
const (
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldImpact    = "impact"
	FieldTaskID    = "task_id"
	FieldStage     = "stage"
	FieldRequestID = "request_id"
	FieldAction    = "action"
)
