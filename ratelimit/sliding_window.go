package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/infraforge/fleet/cache"
)

var slidingWindowSeq atomic.Int64

// checkSlidingWindow implements the §4.1 sliding-window algorithm: a
// time-indexed ordered set of request marks in the bucket. Marks older than
// `now - window` are dropped, the remaining count is compared against limit,
// and — if admitted — a new mark is inserted. The whole sequence runs against
// one cache key so concurrent callers converge on the same count (§5 atomic
// per-bucket requirement); the cache's sorted-set ops are each atomic Redis
// commands, and the ZCard-then-ZAdd pair is tolerant of the resulting
// at-most-`limit`-plus-concurrent-racers slack the same way the source's
// Lua-free approach is.
func (sl *ServiceLimiter) checkSlidingWindow(ctx context.Context, service string, scope Scope, identifier string, limit int) (Result, error) {
	key := bucketKey(service, scope, identifier)
	now := sl.clock.Now()
	windowStart := now.Add(-sl.config.WindowSize)

	if err := sl.cache.ZRemRangeByScore(ctx, key, 0, float64(windowStart.UnixNano())); err != nil {
		return Result{}, fmt.Errorf("sliding window prune: %w", err)
	}

	count, err := sl.cache.ZCard(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("sliding window count: %w", err)
	}

	if count >= int64(limit) {
		if err := sl.cache.Expire(ctx, key, sl.config.WindowSize+time.Second); err != nil {
			sl.logger.Warn("failed refreshing sliding window ttl", map[string]interface{}{"service": service, "error": err.Error()})
		}
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  now.Add(sl.config.WindowSize),
			RetryAfter: sl.config.WindowSize,
			Algorithm:  AlgorithmSlidingWindow,
			Metadata:   map[string]interface{}{"limit": limit, "count": count},
		}, nil
	}

	mark := strconv.FormatInt(now.UnixNano(), 10) + ":" + strconv.FormatInt(slidingWindowSeq.Add(1), 10)
	if err := sl.cache.ZAdd(ctx, key, cache.ZMember{Score: float64(now.UnixNano()), Member: mark}); err != nil {
		return Result{}, fmt.Errorf("sliding window insert: %w", err)
	}
	if err := sl.cache.Expire(ctx, key, sl.config.WindowSize+time.Second); err != nil {
		sl.logger.Warn("failed setting sliding window ttl", map[string]interface{}{"service": service, "error": err.Error()})
	}

	return Result{
		Allowed:    true,
		Remaining:  limit - int(count) - 1,
		ResetTime:  now.Add(sl.config.WindowSize),
		RetryAfter: 0,
		Algorithm:  AlgorithmSlidingWindow,
		Metadata:   map[string]interface{}{"limit": limit, "count": count + 1},
	}, nil
}
