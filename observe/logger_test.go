package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

// TestLogger_IncludesQueryFields verifies query fields are present in log output.
func TestLogger_IncludesQueryFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	meta := QueryMeta{Op: OpFetch, KeyDigest: "ab12cd34ef56ab78"}

	queryLogger := logger.WithQuery(meta)
	queryLogger.Info(context.Background(), "test message")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}

	if v, ok := logEntry["query.op"].(string); !ok || v != "fetch" {
		t.Errorf("expected query.op='fetch', got %v", logEntry["query.op"])
	}
	if v, ok := logEntry["query.key"].(string); !ok || v != "ab12cd34ef56ab78" {
		t.Errorf("expected query.key='ab12cd34ef56ab78', got %v", logEntry["query.key"])
	}
}

// TestLogger_RedactsSensitiveFields verifies mutation variables are redacted.
func TestLogger_RedactsSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "mutation settled",
		Field{Key: "variables", Value: map[string]any{"password": "hunter2"}},
		Field{Key: "token", Value: "tok_abc"},
		Field{Key: "attempt", Value: 2},
	)

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v", err)
	}

	if logEntry["variables"] != "[REDACTED]" {
		t.Errorf("expected variables redacted, got %v", logEntry["variables"])
	}
	if logEntry["token"] != "[REDACTED]" {
		t.Errorf("expected token redacted, got %v", logEntry["token"])
	}
	if v, ok := logEntry["attempt"].(float64); !ok || v != 2 {
		t.Errorf("expected attempt=2 untouched, got %v", logEntry["attempt"])
	}
}

// TestLogger_LevelFiltering verifies messages below the level are dropped.
func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)

	logger.Debug(context.Background(), "dropped")
	logger.Info(context.Background(), "dropped too")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn level, got: %s", buf.String())
	}

	logger.Warn(context.Background(), "kept")
	if buf.Len() == 0 {
		t.Fatal("expected warn output")
	}
}

// TestLogger_DefaultOpIsFetch verifies an empty Op logs as fetch.
func TestLogger_DefaultOpIsFetch(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.WithQuery(QueryMeta{KeyDigest: "deadbeefdeadbeef"}).
		Info(context.Background(), "msg")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v", err)
	}
	if logEntry["query.op"] != "fetch" {
		t.Errorf("expected query.op='fetch', got %v", logEntry["query.op"])
	}
}

// TestParseLogLevel verifies level parsing, including the fallback.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLogLevel(tt.in); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
