package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameworkError_Error(t *testing.T) {
	wrapped := errors.New("boom")

	t.Run("op and err", func(t *testing.T) {
		e := &FrameworkError{Op: "workflow.ExecuteNode", Err: wrapped}
		assert.Equal(t, "workflow.ExecuteNode: boom", e.Error())
	})

	t.Run("op id and err", func(t *testing.T) {
		e := &FrameworkError{Op: "workflow.ExecuteNode", ID: "node-1", Err: wrapped}
		assert.Equal(t, "workflow.ExecuteNode [node-1]: boom", e.Error())
	})

	t.Run("message only", func(t *testing.T) {
		e := &FrameworkError{Message: "no dice"}
		assert.Equal(t, "no dice", e.Error())
	})

	t.Run("unwraps", func(t *testing.T) {
		e := &FrameworkError{Err: wrapped}
		assert.ErrorIs(t, e, wrapped)
	})
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrConnectionFailed))
	assert.False(t, IsRetryable(ErrInvalidConfiguration))

	assert.True(t, IsNotFound(ErrWorkflowNotFound))
	assert.True(t, IsNotFound(ErrAssessmentNotFound))
	assert.False(t, IsNotFound(ErrTimeout))

	assert.True(t, IsConfigurationError(ErrMissingConfiguration))
	assert.False(t, IsConfigurationError(ErrTimeout))

	assert.True(t, IsStateError(ErrWorkflowTerminal))
	assert.False(t, IsStateError(ErrTimeout))
}

func TestRateLimitExceeded_Unwraps(t *testing.T) {
	e := &RateLimitExceeded{RetryAfterSeconds: 30, Service: "aws_pricing", Scope: "PER_SERVICE"}
	assert.ErrorIs(t, e, ErrRateLimitExceeded)
	assert.Contains(t, e.Error(), "aws_pricing")
}

func TestCircuitBreakerOpenError_Unwraps(t *testing.T) {
	e := &CircuitBreakerOpenError{Service: "aws_pricing"}
	assert.ErrorIs(t, e, ErrCircuitBreakerOpen)
}
