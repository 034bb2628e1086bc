package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/core"
)

func TestInMemoryCache_SetGetExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &core.FixedClock{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewInMemoryCache(clock)

	require.NoError(t, c.Set(ctx, "k", "v", time.Second))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	clock.At = clock.At.Add(2 * time.Second)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryCache_IncrBy(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(nil)

	n, err := c.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.IncrBy(ctx, "counter", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestInMemoryCache_SlidingWindowPrimitives(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(nil)

	require.NoError(t, c.ZAdd(ctx, "rl", ZMember{Score: 1, Member: "a"}, ZMember{Score: 2, Member: "b"}, ZMember{Score: 3, Member: "c"}))

	count, err := c.ZCount(ctx, "rl", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, c.ZRemRangeByScore(ctx, "rl", 0, 2))
	card, err := c.ZCard(ctx, "rl")
	require.NoError(t, err)
	assert.Equal(t, int64(1), card)
}

func TestInMemoryCache_LPushBounded(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.LPushBounded(ctx, "hist", strconv.Itoa(i), 3))
	}
	vals, err := c.LRange(ctx, "hist", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3", "2"}, vals)
}

func TestInMemoryCache_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(nil)

	err := c.CompareAndSwap(ctx, "k", func(current string, exists bool) (string, time.Duration, error) {
		assert.False(t, exists)
		return "1", 0, nil
	})
	require.NoError(t, err)

	err = c.CompareAndSwap(ctx, "k", func(current string, exists bool) (string, time.Duration, error) {
		assert.True(t, exists)
		assert.Equal(t, "1", current)
		return "2", 0, nil
	})
	require.NoError(t, err)

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", val)
}

func TestInMemoryCache_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache(nil)

	ch, cancel, err := c.Subscribe(ctx, "events:WORKFLOW_COMPLETED")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, c.Publish(ctx, "events:WORKFLOW_COMPLETED", `{"id":"1"}`))

	select {
	case msg := <-ch:
		assert.Equal(t, "events:WORKFLOW_COMPLETED", msg.Channel)
		assert.Equal(t, `{"id":"1"}`, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
