package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/core"
)

func newTestBreaker(t *testing.T, clock *core.FixedClock) *CircuitBreaker {
	t.Helper()
	cfg := DefaultCircuitBreakerConfig("widgets")
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.RecoveryTimeout = 10 * time.Second
	cb, err := NewCircuitBreaker(cfg, clock)
	require.NoError(t, err)
	return cb
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cb := newTestBreaker(t, clock)
	ctx := context.Background()
	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(ctx, func(ctx context.Context) error { return nil })
	var cbErr *core.CircuitBreakerOpenError
	require.ErrorAs(t, err, &cbErr)
}

func TestCircuitBreaker_HalfOpenRecoversToClosed(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cb := newTestBreaker(t, clock)
	ctx := context.Background()
	failing := func(ctx context.Context) error { return errors.New("boom") }
	succeeding := func(ctx context.Context) error { return nil }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	require.Equal(t, StateOpen, cb.GetState())

	clock.At = clock.At.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cb := newTestBreaker(t, clock)
	ctx := context.Background()
	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failing)
	}
	clock.At = clock.At.Add(11 * time.Second)
	_ = cb.Execute(ctx, failing)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_NonCountingErrorsDoNotTrip(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cb := newTestBreaker(t, clock)
	ctx := context.Background()
	notFound := func(ctx context.Context) error { return core.ErrNotFound }

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, notFound)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_ForceOpenOverridesState(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	cb.ForceOpen()
	err := cb.Execute(ctx, func(ctx context.Context) error { return nil })
	var cbErr *core.CircuitBreakerOpenError
	require.ErrorAs(t, err, &cbErr)

	cb.ClearForce()
	require.NoError(t, cb.Execute(ctx, func(ctx context.Context) error { return nil }))
}

func TestCircuitBreaker_ListenerNotifiedOnTransition(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	var mu sync.Mutex
	var transitions [][2]CircuitState
	done := make(chan struct{}, 10)
	cb.AddStateChangeListener(func(name string, from, to CircuitState) {
		mu.Lock()
		transitions = append(transitions, [2]CircuitState{from, to})
		mu.Unlock()
		done <- struct{}{}
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func(ctx context.Context) error { return errors.New("boom") })
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 1)
	assert.Equal(t, StateClosed, transitions[0][0])
	assert.Equal(t, StateOpen, transitions[0][1])
}
