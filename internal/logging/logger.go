// Package logging provides structured logging with trace ID propagation.
// Output goes to stderr so the stdio transport keeps stdout free for
// protocol frames.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is the logging interface used across the service.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})

	DebugContext(ctx context.Context, msg string, fields ...interface{})
	InfoContext(ctx context.Context, msg string, fields ...interface{})
	WarnContext(ctx context.Context, msg string, fields ...interface{})
	ErrorContext(ctx context.Context, msg string, fields ...interface{})

	WithTraceID(traceID string) Logger
	WithComponent(component string) Logger
}

// LogLevel orders log severities.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// ParseLogLevel maps a level name to a LogLevel, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
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

// LogEntry is a single structured log record.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

type contextKey string

const traceIDKey contextKey = "trace_id"

// StructuredLogger writes JSON (or text) entries to a writer.
type StructuredLogger struct {
	level     LogLevel
	traceID   string
	component string
	useJSON   bool
	out       io.Writer
	mu        *sync.Mutex
}

// NewLogger creates a logger writing to stderr. JSON output is the default
// and can be disabled with LOG_JSON=false.
func NewLogger(level LogLevel) Logger {
	return &StructuredLogger{
		level:   level,
		useJSON: envBool("LOG_JSON", true),
		out:     os.Stderr,
		mu:      &sync.Mutex{},
	}
}

// NewLoggerWithWriter creates a logger with a custom writer, used in tests.
func NewLoggerWithWriter(level LogLevel, out io.Writer, useJSON bool) Logger {
	return &StructuredLogger{level: level, useJSON: useJSON, out: out, mu: &sync.Mutex{}}
}

func envBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
}

// WithTraceID returns a copy of the logger carrying the trace ID.
func (l *StructuredLogger) WithTraceID(traceID string) Logger {
	clone := *l
	clone.traceID = traceID
	return &clone
}

// WithComponent returns a copy of the logger carrying the component name.
func (l *StructuredLogger) WithComponent(component string) Logger {
	clone := *l
	clone.component = component
	return &clone
}

func (l *StructuredLogger) Debug(msg string, fields ...interface{}) {
	l.log(DEBUG, "DEBUG", msg, "", fields...)
}

func (l *StructuredLogger) Info(msg string, fields ...interface{}) {
	l.log(INFO, "INFO", msg, "", fields...)
}

func (l *StructuredLogger) Warn(msg string, fields ...interface{}) {
	l.log(WARN, "WARN", msg, "", fields...)
}

func (l *StructuredLogger) Error(msg string, fields ...interface{}) {
	l.log(ERROR, "ERROR", msg, "", fields...)
}

func (l *StructuredLogger) Fatal(msg string, fields ...interface{}) {
	l.log(FATAL, "FATAL", msg, "", fields...)
	os.Exit(1)
}

func (l *StructuredLogger) DebugContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(DEBUG, "DEBUG", msg, GetTraceID(ctx), fields...)
}

func (l *StructuredLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(INFO, "INFO", msg, GetTraceID(ctx), fields...)
}

func (l *StructuredLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(WARN, "WARN", msg, GetTraceID(ctx), fields...)
}

func (l *StructuredLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ERROR, "ERROR", msg, GetTraceID(ctx), fields...)
}

func (l *StructuredLogger) log(level LogLevel, name, msg, ctxTraceID string, fields ...interface{}) {
	if level < l.level {
		return
	}

	traceID := l.traceID
	if ctxTraceID != "" {
		traceID = ctxTraceID
	}

	var fieldMap map[string]interface{}
	if len(fields) > 0 {
		fieldMap = make(map[string]interface{}, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			fieldMap[fmt.Sprintf("%v", fields[i])] = fields[i+1]
		}
		if len(fields)%2 != 0 {
			fieldMap["extra"] = fields[len(fields)-1]
		}
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     name,
		Message:   msg,
		TraceID:   traceID,
		Component: l.component,
		Fields:    fieldMap,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.useJSON {
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.out, "log marshal failed: %v\n", err)
			return
		}
		fmt.Fprintln(l.out, string(data))
		return
	}
	l.writeText(entry)
}

func (l *StructuredLogger) writeText(entry LogEntry) {
	parts := []string{entry.Timestamp, "[" + entry.Level + "]"}
	if entry.TraceID != "" {
		id := entry.TraceID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, "trace:"+id)
	}
	if entry.Component != "" {
		parts = append(parts, "component:"+entry.Component)
	}
	parts = append(parts, entry.Message)
	for k, v := range entry.Fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	fmt.Fprintln(l.out, strings.Join(parts, " "))
}

var defaultLogger = NewLogger(INFO)

// SetDefaultLogger replaces the package-level logger.
func SetDefaultLogger(logger Logger) {
	defaultLogger = logger
}

func Debug(msg string, fields ...interface{}) { defaultLogger.Debug(msg, fields...) }
func Info(msg string, fields ...interface{})  { defaultLogger.Info(msg, fields...) }
func Warn(msg string, fields ...interface{})  { defaultLogger.Warn(msg, fields...) }
func Error(msg string, fields ...interface{}) { defaultLogger.Error(msg, fields...) }
func Fatal(msg string, fields ...interface{}) { defaultLogger.Fatal(msg, fields...) }

func DebugContext(ctx context.Context, msg string, fields ...interface{}) {
	defaultLogger.DebugContext(ctx, msg, fields...)
}

func InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	defaultLogger.InfoContext(ctx, msg, fields...)
}

func WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	defaultLogger.WarnContext(ctx, msg, fields...)
}

func ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	defaultLogger.ErrorContext(ctx, msg, fields...)
}

// WithComponent returns the default logger scoped to a component.
func WithComponent(component string) Logger {
	return defaultLogger.WithComponent(component)
}

// GenerateTraceID returns a fresh trace identifier.
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace ID on the context, generating one when empty.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID stored on the context, if any.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}
