// Package logger provides structured logging on log/slog with a service
// attribute on every record and trace ID propagation through
// context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Options configures the root logger.
type Options struct {
	Level  slog.Level
	Format string    // "json" (default) or "text"
	Output io.Writer // nil = os.Stdout
}

// Init creates the root logger for service and installs it as the slog
// default so slog.Info() etc. share its handler.
func Init(service string, opts Options) *slog.Logger {
	logger := New(service, opts)
	slog.SetDefault(logger)
	return logger
}

// New creates a logger without touching the slog default.
func New(service string, opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(out, ho)
	} else {
		handler = slog.NewJSONHandler(out, ho)
	}
	return slog.New(handler).With(slog.String("service", service))
}

// ParseLevel maps debug, info, warn/warning and error (any case) to a
// slog.Level. An empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID "{prefix}-{unixNano}".
func GenerateTraceID(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, ts.UnixNano())
}

// EnsureTraceID returns ctx unchanged when it already carries a trace ID,
// otherwise one derived from prefix and the current time.
func EnsureTraceID(ctx context.Context, prefix string) context.Context {
	if TraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, GenerateTraceID(prefix, time.Now()))
}

// LogWithTrace returns slog attributes including the trace ID from context.
// Usage: slog.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
