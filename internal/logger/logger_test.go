package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNew_JSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	l := New("signalengine", Options{Level: slog.LevelInfo, Output: &buf})
	l.Debug("hidden")
	l.Info("hello", "k", 1)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "signalengine" {
		t.Errorf("expected service attr, got %v", rec["service"])
	}
	if rec["msg"] != "hello" {
		t.Errorf("expected msg hello, got %v", rec["msg"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New("svc", Options{Format: "TEXT", Output: &buf}).Info("hello")
	if !strings.Contains(buf.String(), "service=svc") {
		t.Errorf("expected text output with service=svc, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}

	if got := TraceID(EnsureTraceID(ctx, "batch")); got != "test-trace-123" {
		t.Errorf("EnsureTraceID replaced an existing id: %q", got)
	}
	if got := TraceID(EnsureTraceID(context.Background(), "batch")); !strings.HasPrefix(got, "batch-") {
		t.Errorf("expected generated batch- id, got %q", got)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("AAPL", ts)

	if !strings.HasPrefix(tid, "AAPL-") {
		t.Errorf("expected trace id to start with 'AAPL-', got %s", tid)
	}
	if !strings.Contains(tid, "123456789") {
		t.Errorf("expected trace id to contain nanoseconds, got %s", tid)
	}
}

func TestLogWithTrace(t *testing.T) {
	ctx := context.Background()

	if attrs := LogWithTrace(ctx); attrs != nil {
		t.Errorf("expected nil attrs when no trace id, got %v", attrs)
	}

	ctx = WithTraceID(ctx, "abc-123")
	if attrs := LogWithTrace(ctx); len(attrs) == 0 {
		t.Fatal("expected non-empty attrs with trace id set")
	}
}
