package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStandardLogger_WithComponent_DoesNotMutateParent(t *testing.T) {
	root := NewStandardLogger()
	child := root.WithComponent("framework/resilience")

	assert.Equal(t, "framework", root.component)
	sc, ok := child.(*StandardLogger)
	assert.True(t, ok)
	assert.Equal(t, "framework/resilience", sc.component)
}

func TestLogRateLimiter_ThrottlesWithinInterval(t *testing.T) {
	rl := &logRateLimiter{interval: time.Second}
	base := time.Now()

	assert.True(t, rl.allow(base))
	assert.False(t, rl.allow(base.Add(500*time.Millisecond)))
	assert.True(t, rl.allow(base.Add(1100*time.Millisecond)))
}

func TestWithTraceFields_InjectsWorkflowID(t *testing.T) {
	ctx := context.WithValue(context.Background(), WorkflowIDContextKey, "wf-123")
	fields := withTraceFields(ctx, map[string]interface{}{"a": 1})
	assert.Equal(t, "wf-123", fields["workflow_id"])
	assert.Equal(t, 1, fields["a"])

	bare := withTraceFields(context.Background(), map[string]interface{}{"a": 1})
	assert.Nil(t, bare["workflow_id"])
}

func TestNoOpLogger_NeverPanics(t *testing.T) {
	var l ComponentAwareLogger = NoOpLogger{}
	l.Info("hi", nil)
	l.WithComponent("x").Error("boom", map[string]interface{}{"k": "v"})
}
