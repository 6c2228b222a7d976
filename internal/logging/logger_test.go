package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{input: "debug", want: DEBUG},
		{input: "INFO", want: INFO},
		{input: "Warn", want: WARN},
		{input: "warning", want: WARN},
		{input: "error", want: ERROR},
		{input: "fatal", want: FATAL},
		{input: "bogus", want: INFO},
		{input: "", want: INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogLevel(tt.input), tt.input)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(INFO, &buf, true)

	logger.Info("something happened", "user_id", "u-1", "count", 3)

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "something happened", entry.Message)
	assert.Equal(t, "u-1", entry.Fields["user_id"])
	assert.EqualValues(t, 3, entry.Fields["count"])
	assert.NotEmpty(t, entry.Timestamp)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(WARN, &buf, true)

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "kept")
}

func TestWithComponentAndTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(INFO, &buf, true)

	scoped := logger.WithComponent("dispatcher").WithTraceID("trace-1")
	scoped.Info("scoped entry")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "dispatcher", entry.Component)
	assert.Equal(t, "trace-1", entry.TraceID)

	// The original logger is unchanged. Decode into a fresh entry so the
	// scoped values above cannot mask omitted fields.
	buf.Reset()
	logger.Info("plain entry")
	var plain LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &plain))
	assert.Empty(t, plain.Component)
	assert.Empty(t, plain.TraceID)
}

func TestContextTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(INFO, &buf, true)

	ctx := WithTraceID(context.Background(), "ctx-trace")
	logger.InfoContext(ctx, "with context")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ctx-trace", entry.TraceID)
}

func TestWithTraceIDGeneratesWhenEmpty(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestGetTraceIDMissing(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetTraceID(nil)) //nolint:staticcheck
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(INFO, &buf, false)

	logger.WithComponent("api").Info("text entry", "key", "value")

	line := buf.String()
	assert.Contains(t, line, "[INFO]")
	assert.Contains(t, line, "component:api")
	assert.Contains(t, line, "text entry")
	assert.Contains(t, line, "key=value")
}

func TestOddFieldCount(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(INFO, &buf, true)

	logger.Info("odd fields", "key", "value", "dangling")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "value", entry.Fields["key"])
	assert.Equal(t, "dangling", entry.Fields["extra"])
}
