// Package cache implements the distributed cache / pub-sub bus (C3): a
// key-value store with TTL plus channel broadcast, underpinning the rate
// limiter, event manager, and resilience fallback cache. Grounded on
// itsneelabh/gomind's core.RedisClient DB-isolation pattern and
// orchestration.SimpleCache's in-memory TTL eviction.
package cache

import (
	"context"
	"time"
)

// Message is a single pub/sub payload delivered on a channel.
type Message struct {
	Channel string
	Payload string
}

// ZMember is a single sorted-set member with its score, mirroring redis.Z so
// callers (the rate limiter's sliding window) don't need to import go-redis
// directly.
type ZMember struct {
	Score  float64
	Member string
}

// Cache is the contract every resilience-adjacent component depends on: a
// namespaced, TTL-aware key-value store with sorted-set primitives (for
// sliding-window rate limiting) and pub/sub (for the event bus). All
// single-key mutations must be atomic per the concurrency model (§5).
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// ZAdd/ZRemRangeByScore/ZCount/ZCard back the sliding-window rate
	// limiter algorithm (§4.1): a time-indexed ordered set of request marks.
	ZAdd(ctx context.Context, key string, members ...ZMember) error
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZCount(ctx context.Context, key string, min, max float64) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// CompareAndSwap performs an optimistic read-modify-write on a single
	// key: fn receives the current value (empty string, false if absent)
	// and must return the new value to store; the whole cycle is retried
	// internally on a concurrent write (watch/transaction semantics),
	// satisfying the per-key atomicity requirement in §5.
	CompareAndSwap(ctx context.Context, key string, fn func(current string, exists bool) (next string, ttl time.Duration, err error)) error

	// LPushBounded prepends value to a list and trims it to maxLen,
	// backing the event_history bound (§8 property 11).
	LPushBounded(ctx context.Context, key string, value string, maxLen int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Publish(ctx context.Context, channel string, payload string) error
	// Subscribe returns a channel of messages for the given channels; the
	// returned cancel function must be called to stop the subscription and
	// release resources.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, func() error, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Standard database allocations, mirroring the teacher's documented
// DB-isolation convention (core/redis_client.go) so a single Redis instance
// can safely host discovery, rate-limiting, sessions, and circuit-breaker
// state side by side.
const (
	DBDiscovery      = 0
	DBRateLimiting   = 1
	DBSessions       = 2
	DBCache          = 3
	DBCircuitBreaker = 4
	DBWorkflowState  = 5
	DBEvents         = 6
)
