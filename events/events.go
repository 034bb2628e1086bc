// Package events implements C11: a distributed event bus layered over C3
// (cache pub/sub), with a bounded last-N history and at-least-once delivery;
// each callback runs in its own goroutine, so the order in which callbacks
// see events of one channel is not guaranteed. Grounded on itsneelabh/gomind's
// orchestration/cache.go subscriber-fanout idiom and core/redis_client.go's
// reconnect-with-backoff pattern.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
)

const (
	historyKey           = "event_history"
	defaultHistorySize   = 1000
	maxReconnectAttempts = 5
)

// Callback is a local subscriber invoked for every event of a subscribed
// type. Panics/errors inside a callback are recovered so they never block
// other subscribers (§4.4 guarantee).
type Callback func(event core.Event)

// Bus is the C11 event manager: publishes to and dispatches from the
// distributed cache pub/sub, keeping a bounded history in the shared cache.
type Bus struct {
	cache       cache.Cache
	clock       core.Clock
	idGen       core.IDGenerator
	logger      core.Logger
	historySize int64

	mu          sync.RWMutex
	subscribers map[core.EventType][]Callback

	connMu     sync.Mutex
	connected  bool
	cancelFns  []context.CancelFunc
}

func NewBus(c cache.Cache, clock core.Clock, idGen core.IDGenerator, logger core.Logger) *Bus {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if idGen == nil {
		idGen = core.UUIDGenerator{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Bus{
		cache:       c,
		clock:       clock,
		idGen:       idGen,
		logger:      core.ComponentLogger(logger, "framework/events"),
		historySize: defaultHistorySize,
		subscribers: make(map[core.EventType][]Callback),
	}
}

func channelName(t core.EventType) string { return "events:" + string(t) }

// Start subscribes to every known event type's channel and begins
// dispatching locally, reconnecting with exponential backoff (up to 5
// attempts) on transport error per §4.4.
func (b *Bus) Start(ctx context.Context, types []core.EventType) {
	for _, t := range types {
		typ := t
		childCtx, cancel := context.WithCancel(ctx)
		b.connMu.Lock()
		b.cancelFns = append(b.cancelFns, cancel)
		b.connMu.Unlock()
		go b.listenLoop(childCtx, typ)
	}
	b.connMu.Lock()
	b.connected = true
	b.connMu.Unlock()
}

// Stop cancels every listener goroutine.
func (b *Bus) Stop() {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	for _, cancel := range b.cancelFns {
		cancel()
	}
	b.cancelFns = nil
	b.connected = false
}

func (b *Bus) listenLoop(ctx context.Context, t core.EventType) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, unsubscribe, err := b.cache.Subscribe(ctx, channelName(t))
		if err != nil {
			attempt++
			if attempt > maxReconnectAttempts {
				b.logger.Error("event bus subscribe failed permanently", map[string]interface{}{"type": string(t), "error": err.Error()})
				return
			}
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			b.logger.Warn("event bus subscribe error, retrying", map[string]interface{}{"type": string(t), "attempt": attempt, "backoff_ms": backoff.Milliseconds()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				continue
			}
		}
		attempt = 0
		b.drain(ctx, msgs)
		_ = unsubscribe()
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *Bus) drain(ctx context.Context, msgs <-chan cache.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event core.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("failed to decode event payload", map[string]interface{}{"channel": msg.Channel, "error": err.Error()})
				continue
			}
			b.dispatchLocal(event)
		}
	}
}

func (b *Bus) dispatchLocal(event core.Event) {
	b.mu.RLock()
	callbacks := append([]Callback{}, b.subscribers[event.Type]...)
	b.mu.RUnlock()

	for _, cb := range callbacks {
		go func(cb Callback) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event subscriber callback panicked", map[string]interface{}{"panic": fmt.Sprintf("%v", r)})
				}
			}()
			cb(event)
		}(cb)
	}
}

// Subscribe registers a local callback for events of a given type.
func (b *Bus) Subscribe(t core.EventType, cb Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], cb)
}

// Unsubscribe clears all local callbacks for a type. Individual-callback
// removal is not needed by any caller in this system (every subscriber is
// scoped to a connection's lifetime and torn down wholesale).
func (b *Bus) Unsubscribe(t core.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, t)
}

// Publish serializes and publishes an event to the distributed bus, trims
// the bounded history, and returns core.ErrNotConnected if the bus has not
// been started (§4.4: "while disconnected, publish attempts raise
// NotConnected").
func (b *Bus) Publish(ctx context.Context, event core.Event) error {
	b.connMu.Lock()
	connected := b.connected
	b.connMu.Unlock()
	if !connected {
		return core.NewFrameworkError("Bus.Publish", "events", core.ErrNotConnected)
	}
	if event.ID == "" {
		event.ID = b.idGen.NewID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.clock.Now()
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err := b.cache.Publish(ctx, channelName(event.Type), string(encoded)); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConnectionFailed, err)
	}
	if err := b.cache.LPushBounded(ctx, historyKey, string(encoded), b.historySize); err != nil {
		b.logger.Warn("failed to append event history", map[string]interface{}{"error": err.Error()})
	}

	// Local subscribers are notified exclusively through listenLoop's own
	// subscription to the channel just published on, not dispatched here
	// directly — that would otherwise fire every local callback twice.
	return nil
}

// Emit is a convenience wrapper building an Event from a type and payload.
func (b *Bus) Emit(ctx context.Context, t core.EventType, data map[string]interface{}) error {
	return b.Publish(ctx, core.Event{Type: t, Data: data})
}

// GetHistory returns up to limit of the most recent published events across
// all types, most recent first.
func (b *Bus) GetHistory(ctx context.Context, limit int64) ([]core.Event, error) {
	if limit <= 0 || limit > b.historySize {
		limit = b.historySize
	}
	raw, err := b.cache.LRange(ctx, historyKey, 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("fetch event history: %w", err)
	}
	out := make([]core.Event, 0, len(raw))
	for _, r := range raw {
		var event core.Event
		if err := json.Unmarshal([]byte(r), &event); err != nil {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

// ClearHistory empties the shared event history list.
func (b *Bus) ClearHistory(ctx context.Context) error {
	return b.cache.Delete(ctx, historyKey)
}
