package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a LOG_LEVEL value to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// LogContext provides context for log messages
type LogContext struct {
	RequestID   string `json:"requestId,omitempty"`
	JobID       string `json:"jobId,omitempty"`
	Backend     string `json:"backend,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	Operation   string `json:"operation,omitempty"`
}

// JSONLogEntry is one structured log line.
type JSONLogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   *LogContext            `json:"context,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes leveled logs. DEBUG, INFO and WARN go to stdout; ERROR and FATAL
// go to stderr so they stand out in platform log streams.
type Logger struct {
	mu       sync.Mutex
	stdout   io.Writer
	stderr   io.Writer
	minLevel LogLevel
	json     bool
}

// AppLogger is the process-wide logger.
var AppLogger = NewLogger()

// NewLogger creates a logger configured from LOG_LEVEL and LOG_FORMAT.
// Running under Cloud Foundry (VCAP_APPLICATION set) implies JSON output.
func NewLogger() *Logger {
	jsonOut := strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") || os.Getenv("VCAP_APPLICATION") != ""
	return &Logger{
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		minLevel: ParseLevel(os.Getenv("LOG_LEVEL")),
		json:     jsonOut,
	}
}

// SetOutput redirects both streams, mostly for tests.
func (l *Logger) SetOutput(stdout, stderr io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stdout = stdout
	l.stderr = stderr
}

// SetLevel changes the minimum level that is written.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// SetJSON toggles structured output.
func (l *Logger) SetJSON(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.json = enabled
}

func (l *Logger) Debug(format string, v ...interface{}) { l.write(DEBUG, nil, nil, format, v...) }
func (l *Logger) Info(format string, v ...interface{})  { l.write(INFO, nil, nil, format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { l.write(WARN, nil, nil, format, v...) }
func (l *Logger) Error(format string, v ...interface{}) { l.write(ERROR, nil, nil, format, v...) }

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.write(FATAL, nil, nil, format, v...)
	os.Exit(1)
}

func (l *Logger) DebugWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.write(DEBUG, ctx, nil, format, v...)
}

func (l *Logger) InfoWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.write(INFO, ctx, nil, format, v...)
}

func (l *Logger) WarnWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.write(WARN, ctx, nil, format, v...)
}

func (l *Logger) ErrorWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.write(ERROR, ctx, nil, format, v...)
}

func (l *Logger) DebugWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.write(DEBUG, nil, fields, format, v...)
}

func (l *Logger) InfoWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.write(INFO, nil, fields, format, v...)
}

func (l *Logger) WarnWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.write(WARN, nil, fields, format, v...)
}

func (l *Logger) ErrorWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.write(ERROR, nil, fields, format, v...)
}

func (l *Logger) write(level LogLevel, ctx *LogContext, fields map[string]interface{}, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.minLevel {
		return
	}

	message := format
	if len(v) > 0 {
		message = fmt.Sprintf(format, v...)
	}

	out := l.stdout
	if level >= ERROR {
		out = l.stderr
	}

	if l.json {
		entry := JSONLogEntry{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Level:     level.String(),
			Message:   message,
			Context:   ctx,
			Fields:    fields,
		}
		encoder := json.NewEncoder(out)
		encoder.SetEscapeHTML(false)
		encoder.Encode(entry)
		return
	}

	prefix := fmt.Sprintf("[%-5s] ", level.String())
	log.New(out, prefix, log.LstdFlags).Print(formatContext(ctx) + message + formatFields(fields))
}

// formatContext formats context for human-readable logs
func formatContext(ctx *LogContext) string {
	if ctx == nil {
		return ""
	}

	var parts []string
	if ctx.RequestID != "" {
		parts = append(parts, fmt.Sprintf("[Req:%s]", ctx.RequestID))
	}
	if ctx.JobID != "" {
		parts = append(parts, fmt.Sprintf("[Job:%s]", ctx.JobID))
	}
	if ctx.Backend != "" {
		parts = append(parts, fmt.Sprintf("[Backend:%s]", ctx.Backend))
	}
	if ctx.Concurrency > 0 {
		parts = append(parts, fmt.Sprintf("[Users:%d]", ctx.Concurrency))
	}
	if ctx.Operation != "" {
		parts = append(parts, fmt.Sprintf("[Op:%s]", ctx.Operation))
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "") + " "
}

// formatFields renders fields in key order so log lines are stable.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(" |")
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// WithContext returns a context logger for chaining
func (l *Logger) WithContext(ctx *LogContext) *ContextLogger {
	return &ContextLogger{logger: l, ctx: ctx}
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *Logger
	ctx    *LogContext
}

func (cl *ContextLogger) Debug(format string, v ...interface{}) {
	cl.logger.write(DEBUG, cl.ctx, nil, format, v...)
}

func (cl *ContextLogger) Info(format string, v ...interface{}) {
	cl.logger.write(INFO, cl.ctx, nil, format, v...)
}

func (cl *ContextLogger) Warn(format string, v ...interface{}) {
	cl.logger.write(WARN, cl.ctx, nil, format, v...)
}

func (cl *ContextLogger) Error(format string, v ...interface{}) {
	cl.logger.write(ERROR, cl.ctx, nil, format, v...)
}

func (cl *ContextLogger) InfoWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	cl.logger.write(INFO, cl.ctx, fields, format, v...)
}

func (cl *ContextLogger) WarnWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	cl.logger.write(WARN, cl.ctx, fields, format, v...)
}

func (cl *ContextLogger) ErrorWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	cl.logger.write(ERROR, cl.ctx, fields, format, v...)
}
