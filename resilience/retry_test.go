package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/core"
)

func TestRetrier_SucceedsWithoutRetryOnFirstAttempt(t *testing.T) {
	cfg := DefaultRetryConfig()
	r, err := NewRetrier(cfg, nil, core.NoOpLogger{})
	require.NoError(t, err)

	calls := 0
	err = r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_RetriesRetryableErrorsThenExhausts(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 3
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	r, err := NewRetrier(cfg, nil, core.NoOpLogger{})
	require.NoError(t, err)

	calls := 0
	failure := errors.New("transient")
	err = r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return failure
	})
	require.Error(t, err)
	var exhausted *core.RetryExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, calls)
}

func TestRetrier_NonRetryableErrorStopsImmediately(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	r, err := NewRetrier(cfg, nil, core.NoOpLogger{})
	require.NoError(t, err)

	calls := 0
	err = r.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return core.ErrNotFound
	})
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestRetrier_RateLimitErrorIsRetryable(t *testing.T) {
	assert.True(t, RetryableClassifier(&core.RateLimitExceeded{Service: "x", Scope: "GLOBAL"}))
	assert.False(t, RetryableClassifier(&core.CircuitBreakerOpenError{Service: "x"}))
}

func TestRetrier_ContextCancellationStopsRetries(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 5
	cfg.InitialDelay = 50 * time.Millisecond
	cfg.MaxDelay = 200 * time.Millisecond
	r, err := NewRetrier(cfg, nil, core.NoOpLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err = r.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Less(t, calls, 5)
}
