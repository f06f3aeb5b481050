package logger

// Standard field names for consistent structured logging across loom.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldWorkerID  = "worker_id"
	FieldServiceID = "service_id"
	FieldService   = "service"
	FieldConnID    = "conn_id"
	FieldTraceID   = "trace_id"

	// Messaging
	FieldSender     = "sender"
	FieldReceiver   = "receiver"
	FieldResponseID = "response_id"
	FieldMsgType    = "msg_type"

	// Network
	FieldAddress  = "address"
	FieldPort     = "port"
	FieldProtocol = "protocol"
	FieldRemote   = "remote"

	// Errors and status
	FieldError  = "error"
	FieldReason = "reason"
	FieldState  = "state"

	// Counts and timing
	FieldCount      = "count"
	FieldSize       = "size"
	FieldDurationMS = "duration_ms"
)
