package logging

// Standardized structured-log field names. Every package logs these keys the
// same way so API log filtering and operator grepping stay predictable.
const (
	// FieldComponent identifies the emitting subsystem (orchestrator,
	// recovery, security, monitor, store, api-server, camera-monitor).
	FieldComponent = "component"

	// FieldEventType is a stable machine-readable event identifier.
	FieldEventType = "event_type"

	// FieldObjectID carries the monotonic pipeline object id.
	FieldObjectID = "object_id"

	// FieldCategory is the classified category name.
	FieldCategory = "category"

	// FieldState is the system state at the time of the record.
	FieldState = "state"

	// FieldSeverity is the fault severity label.
	FieldSeverity = "severity"

	// FieldErrorHint suggests the next diagnostic step for WARN/ERROR records.
	FieldErrorHint = "error_hint"
)
