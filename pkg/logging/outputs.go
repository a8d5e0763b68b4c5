package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ConsoleOutput formats logs for human readability.
type ConsoleOutput struct {
	mu     sync.Mutex
	writer io.Writer
	color  bool // Whether to use ANSI color codes
}

type ConsoleOutputOption func(*ConsoleOutput)

func WithColor(enabled bool) ConsoleOutputOption {
	return func(c *ConsoleOutput) {
		c.color = enabled
	}
}

func NewConsoleOutput(useStderr bool, opts ...ConsoleOutputOption) *ConsoleOutput {
	writer := os.Stdout
	if useStderr {
		writer = os.Stderr
	}

	c := &ConsoleOutput{
		writer: writer,
		color:  true, // Enable colors by default
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Helper function to get ANSI color codes for different severity levels.
func getSeverityColor(s Severity) string {
	switch s {
	case DEBUG:
		return "\033[37m" // Gray
	case INFO:
		return "\033[32m" // Green
	case WARN:
		return "\033[33m" // Yellow
	case ERROR:
		return "\033[31m" // Red
	case FATAL:
		return "\033[35m" // Magenta
	default:
		return ""
	}
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}

	var result string
	for k, v := range fields {
		result += fmt.Sprintf("%s=%v ", k, v)
	}

	return result
}

func (o *ConsoleOutput) Write(e LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	timestamp := time.Unix(0, e.Time).Format("2006-01-02 15:04:05.000")

	var levelColor, resetColor string
	if o.color {
		levelColor = getSeverityColor(e.Severity)
		resetColor = "\033[0m"
	}

	basic := fmt.Sprintf("%s %s%-5s%s [%s:%d] %s",
		timestamp,
		levelColor,
		e.Severity,
		resetColor,
		e.File,
		e.Line,
		e.Message,
	)

	if e.RunID != "" {
		basic += fmt.Sprintf(" [run=%s]", e.RunID)
	}
	if e.Step > 0 {
		basic += fmt.Sprintf(" [step=%d]", e.Step)
	}
	if len(e.Fields) > 0 {
		basic += " " + formatFields(e.Fields)
	}

	_, err := fmt.Fprintln(o.writer, basic)
	return err
}

func (o *ConsoleOutput) Sync() error { return nil }

func (o *ConsoleOutput) Close() error { return nil }

// JSONLOutput writes one JSON object per line. It is the structured sink
// for evaluation records; downstream tooling tails the file.
type JSONLOutput struct {
	mu     sync.Mutex
	writer io.Writer
	closer io.Closer
}

// NewJSONLOutput creates a JSONL output over an arbitrary writer.
func NewJSONLOutput(w io.Writer) *JSONLOutput {
	out := &JSONLOutput{writer: w}
	if c, ok := w.(io.Closer); ok {
		out.closer = c
	}
	return out
}

// NewJSONLFileOutput opens (appending) a JSONL log file.
func NewJSONLFileOutput(path string) (*JSONLOutput, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return NewJSONLOutput(f), nil
}

type jsonlRecord struct {
	Time     int64                  `json:"time"`
	Severity string                 `json:"severity"`
	Message  string                 `json:"message"`
	RunID    string                 `json:"run_id,omitempty"`
	Step     int64                  `json:"step,omitempty"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

func (o *JSONLOutput) Write(e LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec := jsonlRecord{
		Time:     e.Time,
		Severity: e.Severity.String(),
		Message:  e.Message,
		RunID:    e.RunID,
		Step:     e.Step,
		Fields:   e.Fields,
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	_, err = o.writer.Write(buf)
	return err
}

func (o *JSONLOutput) Sync() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.writer.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func (o *JSONLOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closer != nil {
		return o.closer.Close()
	}
	return nil
}
