package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// logRateLimiter throttles a single log line class to once per interval,
// used to keep error logging from flooding during an incident. This mirrors
// the small interval-gated limiter gomind's own logger embeds — it is
// intentionally independent of the full ratelimit package, which governs
// outbound provider traffic, not local log volume.
type logRateLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

func (r *logRateLimiter) allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.last) < r.interval {
		return false
	}
	r.last = now
	return true
}

// StandardLogger is the production Logger/ComponentAwareLogger implementation.
// Format (JSON vs text) is resolved once at construction time from the
// environment, matching the autodetection gomind's telemetry logger performs:
// JSON when running under Kubernetes (KUBERNETES_SERVICE_HOST set) or when
// FLEET_LOG_FORMAT=json is set explicitly; human-readable text otherwise.
type StandardLogger struct {
	component string
	json      bool
	minLevel  level
	clock     Clock
	out       *os.File
	errLimit  *logRateLimiter
}

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

// NewStandardLogger constructs a root StandardLogger. Use WithComponent to
// derive component-tagged children.
func NewStandardLogger() *StandardLogger {
	return &StandardLogger{
		component: "framework",
		json:      detectJSONFormat(),
		minLevel:  detectMinLevel(),
		clock:     SystemClock{},
		out:       os.Stderr,
		errLimit:  &logRateLimiter{interval: time.Second},
	}
}

func detectJSONFormat() bool {
	switch os.Getenv("FLEET_LOG_FORMAT") {
	case "json":
		return true
	case "text":
		return false
	}
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

func detectMinLevel() level {
	switch os.Getenv("FLEET_LOG_LEVEL") {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (l *StandardLogger) WithComponent(component string) Logger {
	clone := *l
	clone.component = component
	return &clone
}

func (l *StandardLogger) log(lvl level, msg string, fields map[string]interface{}) {
	if lvl < l.minLevel {
		return
	}
	now := l.clock.Now()
	if lvl == levelError && !l.errLimit.allow(now) {
		return
	}
	if l.json {
		l.writeJSON(now, lvl, msg, fields)
		return
	}
	l.writeText(now, lvl, msg, fields)
}

func (l *StandardLogger) writeJSON(now time.Time, lvl level, msg string, fields map[string]interface{}) {
	entry := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		entry[k] = v
	}
	entry["timestamp"] = now.Format(time.RFC3339Nano)
	entry["level"] = levelName(lvl)
	entry["component"] = l.component
	entry["message"] = msg
	enc, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.out, "%s [%s] %s: %s (log-encode-error: %v)\n", now.Format(time.RFC3339), levelName(lvl), l.component, msg, err)
		return
	}
	fmt.Fprintln(l.out, string(enc))
}

func (l *StandardLogger) writeText(now time.Time, lvl level, msg string, fields map[string]interface{}) {
	fmt.Fprintf(l.out, "%s [%s] %s: %s", now.Format(time.RFC3339), levelName(lvl), l.component, msg)
	for k, v := range fields {
		fmt.Fprintf(l.out, " %s=%v", k, v)
	}
	fmt.Fprintln(l.out)
}

func levelName(lvl level) string {
	switch lvl {
	case levelDebug:
		return "DEBUG"
	case levelInfo:
		return "INFO"
	case levelWarn:
		return "WARN"
	case levelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l *StandardLogger) Info(msg string, fields map[string]interface{})  { l.log(levelInfo, msg, fields) }
func (l *StandardLogger) Warn(msg string, fields map[string]interface{})  { l.log(levelWarn, msg, fields) }
func (l *StandardLogger) Error(msg string, fields map[string]interface{}) { l.log(levelError, msg, fields) }
func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) { l.log(levelDebug, msg, fields) }

func (l *StandardLogger) InfoContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(levelInfo, msg, withTraceFields(ctx, fields))
}
func (l *StandardLogger) WarnContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(levelWarn, msg, withTraceFields(ctx, fields))
}
func (l *StandardLogger) ErrorContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(levelError, msg, withTraceFields(ctx, fields))
}
func (l *StandardLogger) DebugContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(levelDebug, msg, withTraceFields(ctx, fields))
}

type contextKey string

// WorkflowIDContextKey threads a workflow id through context so every log
// line emitted during that workflow's execution carries it automatically.
const WorkflowIDContextKey contextKey = "workflow_id"

func withTraceFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	wfID, ok := ctx.Value(WorkflowIDContextKey).(string)
	if !ok || wfID == "" {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["workflow_id"] = wfID
	return out
}
