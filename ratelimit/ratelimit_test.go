package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
)

func newLimiterForTest(t *testing.T, cfg Config, clock *core.FixedClock) *ServiceLimiter {
	t.Helper()
	c := cache.NewInMemoryCache(clock)
	sl, err := NewServiceLimiter("aws_pricing", cfg, c, clock, core.NoOpLogger{})
	require.NoError(t, err)
	return sl
}

func TestSlidingWindow_AllowsExactlyLimitWithinWindow(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 5
	cfg.WindowSize = time.Minute
	sl := newLimiterForTest(t, cfg, clock)

	ctx := context.Background()
	var allowed, denied int
	for i := 0; i < 7; i++ {
		res, err := sl.CheckLimit(ctx, "aws_pricing", ScopeGlobal, "")
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		} else {
			denied++
			assert.InDelta(t, cfg.WindowSize.Seconds(), res.RetryAfter.Seconds(), 1)
		}
	}
	assert.Equal(t, 5, allowed)
	assert.Equal(t, 2, denied)
}

func TestSlidingWindow_WindowExpiryAllowsNewBurst(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 2
	cfg.WindowSize = time.Minute
	sl := newLimiterForTest(t, cfg, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := sl.CheckLimit(ctx, "aws_pricing", ScopeGlobal, "")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := sl.CheckLimit(ctx, "aws_pricing", ScopeGlobal, "")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	clock.At = clock.At.Add(cfg.WindowSize + time.Second)
	res, err = sl.CheckLimit(ctx, "aws_pricing", ScopeGlobal, "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucket_RespectsRefillAndBurst(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cfg := DefaultConfig()
	cfg.Algorithm = AlgorithmTokenBucket
	cfg.BurstCapacity = 2
	cfg.RefillRate = 1.0
	sl := newLimiterForTest(t, cfg, clock)
	ctx := context.Background()

	res, err := sl.CheckLimit(ctx, "aws_pricing", ScopeGlobal, "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = sl.CheckLimit(ctx, "aws_pricing", ScopeGlobal, "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = sl.CheckLimit(ctx, "aws_pricing", ScopeGlobal, "")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	clock.At = clock.At.Add(2 * time.Second)
	res, err = sl.CheckLimit(ctx, "aws_pricing", ScopeGlobal, "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestFixedWindow_CountsPerQuantum(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cfg := DefaultConfig()
	cfg.Algorithm = AlgorithmFixedWindow
	cfg.RequestsPerMinute = 2
	cfg.WindowSize = time.Minute
	sl := newLimiterForTest(t, cfg, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := sl.CheckLimit(ctx, "aws_pricing", ScopeGlobal, "")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := sl.CheckLimit(ctx, "aws_pricing", ScopeGlobal, "")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestAdaptive_BoundsStayWithinRange(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cfg := DefaultConfig()
	cfg.Algorithm = AlgorithmAdaptive
	cfg.RequestsPerMinute = 100
	cfg.AdaptiveThreshold = 0.8
	sl := newLimiterForTest(t, cfg, clock)

	// Drive a low success rate for several adjustment periods: limit should
	// shrink but never below 0.1*base.
	for period := 0; period < 10; period++ {
		for i := 0; i < 20; i++ {
			sl.adaptive.recordOutcome(clock.At, i < 2) // 10% success
		}
		clock.At = clock.At.Add(61 * time.Second)
		assert.GreaterOrEqual(t, sl.adaptive.limit(), 10)
	}

	// Now drive a high success rate: limit should recover but never exceed 2*base.
	for period := 0; period < 20; period++ {
		for i := 0; i < 20; i++ {
			sl.adaptive.recordOutcome(clock.At, true)
		}
		clock.At = clock.At.Add(61 * time.Second)
		assert.LessOrEqual(t, sl.adaptive.limit(), 200)
	}
}

func TestReset_ClearsAllBucketVariants(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	cfg := DefaultConfig()
	sl := newLimiterForTest(t, cfg, clock)
	ctx := context.Background()

	_, err := sl.CheckLimit(ctx, "aws_pricing", ScopeGlobal, "")
	require.NoError(t, err)
	require.NoError(t, sl.Reset(ctx, "aws_pricing", ScopeGlobal, ""))
}
