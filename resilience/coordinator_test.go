package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
	"github.com/infraforge/fleet/ratelimit"
)

func newTestCoordinator(t *testing.T, clock *core.FixedClock) (*Coordinator, cache.Cache) {
	t.Helper()
	c := cache.NewInMemoryCache(clock)
	cfg := ServiceResilienceConfig{
		Name: "aws_pricing",
		CB: &CircuitBreakerConfig{
			FailureThreshold: 2,
			RecoveryTimeout:  time.Second,
			SuccessThreshold: 1,
			CallTimeout:      time.Second,
		},
		Retry:     RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2, JitterEnabled: false},
		RateLimit: ratelimit.DefaultConfig(),
	}
	coord, err := NewCoordinator(cfg, c, clock, core.NoOpLogger{})
	require.NoError(t, err)
	return coord, c
}

func TestCoordinator_SuccessfulCallRecordsFallbackSnapshot(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	coord, _ := newTestCoordinator(t, clock)

	var out map[string]interface{}
	outcome, err := coord.Call(context.Background(), ratelimit.ScopeGlobal, "", "pricing:ec2", nil, &out,
		func(ctx context.Context) (interface{}, error) {
			return map[string]interface{}{"price": 10.0}, nil
		})
	require.NoError(t, err)
	assert.False(t, outcome.Degraded)
}

func TestCoordinator_FallsBackWhenRetriesExhausted(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	coord, _ := newTestCoordinator(t, clock)

	var out map[string]interface{}
	_, err := coord.Call(context.Background(), ratelimit.ScopeGlobal, "", "pricing:ec2", map[string]interface{}{"default": true}, &out,
		func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("upstream unavailable")
		})
	require.NoError(t, err)
}

func TestCoordinator_PropagatesErrorWithNoFallbackConfigured(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	coord, _ := newTestCoordinator(t, clock)

	var out map[string]interface{}
	_, err := coord.Call(context.Background(), ratelimit.ScopeGlobal, "", "", nil, &out,
		func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("upstream unavailable")
		})
	require.Error(t, err)
}
