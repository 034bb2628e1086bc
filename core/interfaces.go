package core

import (
	"context"
	"time"
)

// Logger is the structured logging contract used throughout the fleet.
// Implementations should treat fields as structured key/value pairs suitable
// for JSON encoding.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with a component-tagging seam so every
// package stamps its log lines with a stable origin, e.g. "framework/resilience",
// "framework/workflow", "agent/technical".
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. It is the default when no logger is wired,
// matching the pattern of failing safe rather than panicking on a nil logger.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

func (NoOpLogger) InfoContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) WarnContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) DebugContext(context.Context, string, map[string]interface{}) {}

func (NoOpLogger) WithComponent(string) Logger { return NoOpLogger{} }

// ComponentLogger tags logger with component if it supports
// ComponentAwareLogger, otherwise returns it unchanged. Every package uses
// this to derive its own "framework/<name>" logger without requiring every
// caller to pass a ComponentAwareLogger explicitly.
func ComponentLogger(logger Logger, component string) Logger {
	if logger == nil {
		return NoOpLogger{}
	}
	if caw, ok := logger.(ComponentAwareLogger); ok {
		return caw.WithComponent(component)
	}
	return logger
}

// Clock is an injectable monotonic time source (C1). Production code uses
// SystemClock; tests substitute a fake to make time-dependent behaviour
// (circuit breaker sleep windows, rate limiter windows, health check
// cooldowns) deterministic.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers (C1), injectable so tests can
// assert on predictable ids.
type IDGenerator interface {
	NewID() string
}

// MetricsRegistry is the minimal contract components use to publish
// counters/gauges without depending on a concrete metrics backend; the
// Prometheus-backed implementation lives in the metrics package.
type MetricsRegistry interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// NoOpMetrics discards all measurements.
type NoOpMetrics struct{}

func (NoOpMetrics) IncCounter(string, map[string]string)                 {}
func (NoOpMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (NoOpMetrics) SetGauge(string, float64, map[string]string)         {}
