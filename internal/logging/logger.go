// Package logging provides the structured logger shared by every relay component.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type traceKey struct{}

// TraceHeader is the HTTP header that carries the trace id.
const TraceHeader = "X-Trace-ID"

// Config controls logger construction.
type Config struct {
	Level  string
	Format string // text or json
	Output io.Writer
}

// Logger wraps a logrus entry bound to a component name.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger for the named component.
func New(component string, cfg Config) *Logger {
	base := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	base.SetOutput(out)

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{entry: base.WithField("component", component)}
}

// NewDefault creates an info-level text logger writing to stderr.
func NewDefault(component string) *Logger {
	return New(component, Config{})
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return New("discard", Config{Output: io.Discard, Level: "panic"})
}

// Named returns a child logger for a sub-component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component)}
}

// WithField returns a child logger carrying an extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) with(ctx context.Context, fields map[string]interface{}) *logrus.Entry {
	e := l.entry
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	if id := TraceID(ctx); id != "" {
		e = e.WithField("trace_id", id)
	}
	return e
}

func (l *Logger) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	l.with(ctx, fields).Debug(msg)
}

func (l *Logger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.with(ctx, fields).Info(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.with(ctx, fields).Warn(msg)
}

func (l *Logger) Error(ctx context.Context, msg string, fields map[string]interface{}) {
	l.with(ctx, fields).Error(msg)
}

// LogRequest writes one access-log line.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	}
	switch {
	case status >= 500:
		l.Error(ctx, "request failed", fields)
	case status >= 400:
		l.Warn(ctx, "request rejected", fields)
	default:
		l.Info(ctx, "request handled", fields)
	}
}

// NewTraceID returns a fresh trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace id on the context.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID returns the trace id stored on ctx, or "".
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
