package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
)

func TestFallbackManager_PrefersRecentOverStale(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	c := cache.NewInMemoryCache(clock)
	fm := NewFallbackManager(c, core.NoOpLogger{})

	fm.RecordSuccess(context.Background(), "pricing:ec2", map[string]interface{}{"price": 1.0})
	fm.RecordSuccess(context.Background(), "pricing:ec2", map[string]interface{}{"price": 2.0})

	var out map[string]interface{}
	outcome, err := fm.Resolve(context.Background(), "pricing:ec2", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, FallbackRecentCache, outcome.Strategy)
	assert.False(t, outcome.Degraded)
	assert.Equal(t, 2.0, out["price"])
}

func TestFallbackManager_FallsBackToStaleWhenRecentExpired(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	c := cache.NewInMemoryCache(clock)
	fm := NewFallbackManager(c, core.NoOpLogger{})
	fm.recentTTL = time.Minute
	fm.staleTTL = time.Hour

	fm.RecordSuccess(context.Background(), "pricing:ec2", map[string]interface{}{"price": 3.0})
	clock.At = clock.At.Add(2 * time.Minute)

	var out map[string]interface{}
	outcome, err := fm.Resolve(context.Background(), "pricing:ec2", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, FallbackStaleCache, outcome.Strategy)
	assert.True(t, outcome.Degraded)
}

func TestFallbackManager_FallsBackToDefaultThenSynthetic(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	c := cache.NewInMemoryCache(clock)
	fm := NewFallbackManager(c, core.NoOpLogger{})

	var out map[string]interface{}
	outcome, err := fm.Resolve(context.Background(), "pricing:rds", map[string]interface{}{"default": true}, &out)
	require.NoError(t, err)
	assert.Equal(t, FallbackDefault, outcome.Strategy)
	assert.True(t, outcome.Degraded)

	for prefix, shape := range DefaultSyntheticCatalog() {
		fm.RegisterSynthetic(prefix, shape)
	}
	outcome, err = fm.Resolve(context.Background(), "pricing:rds", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, FallbackDegradedSynth, outcome.Strategy)
	data, ok := outcome.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{}, data["services"])
	assert.Equal(t, true, data["degraded_mode"])
}

func TestFallbackManager_ReturnsFallbackFailedWhenNothingMatches(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	c := cache.NewInMemoryCache(clock)
	fm := NewFallbackManager(c, core.NoOpLogger{})

	var out map[string]interface{}
	_, err := fm.Resolve(context.Background(), "unregistered:key", nil, &out)
	require.Error(t, err)
	var ff *core.FallbackFailed
	require.ErrorAs(t, err, &ff)
}
