package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
)

func TestBus_PublishNotConnectedBeforeStart(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	c := cache.NewInMemoryCache(clock)
	bus := NewBus(c, clock, nil, core.NoOpLogger{})

	err := bus.Publish(context.Background(), core.Event{Type: core.EventWorkflowStarted})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotConnected)
}

func TestBus_PublishDispatchesToLocalSubscribers(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	c := cache.NewInMemoryCache(clock)
	bus := NewBus(c, clock, nil, core.NoOpLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx, []core.EventType{core.EventWorkflowStarted})

	var mu sync.Mutex
	var received []core.Event
	done := make(chan struct{}, 1)
	bus.Subscribe(core.EventWorkflowStarted, func(e core.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	require.NoError(t, bus.Emit(ctx, core.EventWorkflowStarted, map[string]interface{}{"workflow_id": "wf-1"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, core.EventWorkflowStarted, received[0].Type)
}

func TestBus_HistoryIsBoundedAndClearable(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	c := cache.NewInMemoryCache(clock)
	bus := NewBus(c, clock, nil, core.NoOpLogger{})
	bus.historySize = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx, []core.EventType{core.EventDataUpdated})

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Emit(ctx, core.EventDataUpdated, nil))
	}

	hist, err := bus.GetHistory(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, hist, 3)

	require.NoError(t, bus.ClearHistory(ctx))
	hist, err = bus.GetHistory(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, hist)
}
