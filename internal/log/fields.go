package log

// Common field names for structured logging.
const (
	FieldComponent   = "component"
	FieldUserID      = "user_id"
	FieldYear        = "year"
	FieldMonth       = "month"
	FieldDay         = "day"
	FieldOperation   = "operation"
	FieldError       = "error"
	FieldMonthsAhead = "months_ahead"
	FieldEventID     = "event_id"
	FieldEventType   = "event_type"
)

// Components defines standard component names.
const (
	ComponentApp       = "app"
	ComponentEngine    = "engine"
	ComponentWorker    = "worker"
	ComponentScheduler = "scheduler"
	ComponentCLI       = "cli"
)

// Operations defines standard operation names.
const (
	OpDayEdit = "day_edit"
)
