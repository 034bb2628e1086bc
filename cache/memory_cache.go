package cache

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/infraforge/fleet/core"
)

// InMemoryCache is a development-only Cache implementation (§9 design note:
// "in-memory fallback... treat as development-only; production must use the
// distributed bus"), generalizing gomind's orchestration.SimpleCache TTL
// eviction pattern to the full Cache contract including sorted sets and
// pub/sub fan-out within a single process.
type InMemoryCache struct {
	mu    sync.Mutex
	clock core.Clock

	values map[string]valueEntry
	zsets  map[string]map[string]float64
	lists  map[string][]string

	subsMu sync.Mutex
	subs   map[string][]chan Message
}

type valueEntry struct {
	value     string
	expiresAt time.Time
	hasTTL    bool
}

// NewInMemoryCache constructs an empty in-memory cache.
func NewInMemoryCache(clock core.Clock) *InMemoryCache {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &InMemoryCache{
		clock:  clock,
		values: make(map[string]valueEntry),
		zsets:  make(map[string]map[string]float64),
		lists:  make(map[string][]string),
		subs:   make(map[string][]chan Message),
	}
}

func (c *InMemoryCache) expired(e valueEntry) bool {
	return e.hasTTL && c.clock.Now().After(e.expiresAt)
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.values[key]
	if !ok || c.expired(e) {
		delete(c.values, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := valueEntry{value: value}
	if ttl > 0 {
		e.hasTTL = true
		e.expiresAt = c.clock.Now().Add(ttl)
	}
	c.values[key] = e
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
		delete(c.zsets, k)
		delete(c.lists, k)
	}
	return nil
}

func (c *InMemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

func (c *InMemoryCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.values[key]
	if !ok || c.expired(e) {
		return -2 * time.Second, nil
	}
	if !e.hasTTL {
		return -1 * time.Second, nil
	}
	return e.expiresAt.Sub(c.clock.Now()), nil
}

func (c *InMemoryCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.values[key]
	if !ok {
		return nil
	}
	e.hasTTL = true
	e.expiresAt = c.clock.Now().Add(ttl)
	c.values[key] = e
	return nil
}

func (c *InMemoryCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.IncrBy(ctx, key, 1)
}

func (c *InMemoryCache) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.values[key]
	var cur int64
	if ok && !c.expired(e) && e.value != "" {
		cur, _ = strconv.ParseInt(e.value, 10, 64)
	}
	cur += delta
	c.values[key] = valueEntry{value: strconv.FormatInt(cur, 10), hasTTL: ok && e.hasTTL, expiresAt: e.expiresAt}
	return cur, nil
}

func (c *InMemoryCache) ZAdd(ctx context.Context, key string, members ...ZMember) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.zsets[key]
	if !ok {
		set = make(map[string]float64)
		c.zsets[key] = set
	}
	for _, m := range members {
		set[m.Member] = m.Score
	}
	return nil
}

func (c *InMemoryCache) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.zsets[key]
	if !ok {
		return nil
	}
	for member, score := range set {
		if score >= min && score <= max {
			delete(set, member)
		}
	}
	return nil
}

func (c *InMemoryCache) ZCount(ctx context.Context, key string, min, max float64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.zsets[key]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, score := range set {
		if score >= min && score <= max {
			n++
		}
	}
	return n, nil
}

func (c *InMemoryCache) ZCard(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.zsets[key])), nil
}

func (c *InMemoryCache) CompareAndSwap(ctx context.Context, key string, fn func(current string, exists bool) (next string, ttl time.Duration, err error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.values[key]
	if ok && c.expired(e) {
		ok = false
	}
	next, ttl, err := fn(e.value, ok)
	if err != nil {
		return err
	}
	ne := valueEntry{value: next}
	if ttl > 0 {
		ne.hasTTL = true
		ne.expiresAt = c.clock.Now().Add(ttl)
	}
	c.values[key] = ne
	return nil
}

func (c *InMemoryCache) LPushBounded(ctx context.Context, key string, value string, maxLen int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := append([]string{value}, c.lists[key]...)
	if int64(len(list)) > maxLen {
		list = list[:maxLen]
	}
	c.lists[key] = list
	return nil
}

func (c *InMemoryCache) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.lists[key]
	n := int64(len(list))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (c *InMemoryCache) Publish(ctx context.Context, channel string, payload string) error {
	c.subsMu.Lock()
	subs := append([]chan Message(nil), c.subs[channel]...)
	c.subsMu.Unlock()

	msg := Message{Channel: channel, Payload: payload}
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			// slow subscriber: drop rather than block the publisher (§5 back-pressure).
		}
	}
	return nil
}

func (c *InMemoryCache) Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error) {
	out := make(chan Message, 64)
	c.subsMu.Lock()
	for _, ch := range channels {
		c.subs[ch] = append(c.subs[ch], out)
	}
	c.subsMu.Unlock()

	cancel := func() error {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		for _, ch := range channels {
			list := c.subs[ch]
			for i, candidate := range list {
				if candidate == out {
					c.subs[ch] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
		close(out)
		return nil
	}
	return out, cancel, nil
}

func (c *InMemoryCache) HealthCheck(ctx context.Context) error { return nil }

func (c *InMemoryCache) Close() error { return nil }

// sortedMembers returns the zset's members ordered by score.
func (c *InMemoryCache) sortedMembers(key string) []ZMember {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.zsets[key]
	members := make([]ZMember, 0, len(set))
	for m, s := range set {
		members = append(members, ZMember{Member: m, Score: s})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Score < members[j].Score })
	return members
}
