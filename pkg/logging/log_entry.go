package logging

// LogEntry represents a structured log record with fields relevant to
// training-loop operations.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Training fields
	RunID string // Identifier of the current training run
	Step  int64  // Global optimizer-step counter, 0 when not inside a run

	// General structured data
	Fields map[string]interface{}
}
