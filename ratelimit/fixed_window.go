package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// checkFixedWindow implements §4.1's fixed-window algorithm: a simple
// counter keyed per floored time quantum. Because the quantum is baked into
// the key itself, Cache.Incr is sufficient to keep the counter atomic per
// bucket without a compare-and-swap round trip.
func (sl *ServiceLimiter) checkFixedWindow(ctx context.Context, service string, scope Scope, identifier string) (Result, error) {
	now := sl.clock.Now()
	quantum := now.Truncate(sl.config.WindowSize)
	key := bucketKey(service, scope, identifier) + ":fixed:" + strconv.FormatInt(quantum.Unix(), 10)

	count, err := sl.cache.Incr(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("fixed window incr: %w", err)
	}
	if count == 1 {
		if err := sl.cache.Expire(ctx, key, sl.config.WindowSize+time.Second); err != nil {
			sl.logger.Warn("failed setting fixed window ttl", map[string]interface{}{"service": service, "error": err.Error()})
		}
	}

	resetTime := quantum.Add(sl.config.WindowSize)
	limit := int64(sl.config.RequestsPerMinute)
	if count > limit {
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  resetTime,
			RetryAfter: resetTime.Sub(now),
			Algorithm:  AlgorithmFixedWindow,
			Metadata:   map[string]interface{}{"limit": limit, "count": count},
		}, nil
	}

	return Result{
		Allowed:    true,
		Remaining:  int(limit - count),
		ResetTime:  resetTime,
		RetryAfter: 0,
		Algorithm:  AlgorithmFixedWindow,
		Metadata:   map[string]interface{}{"limit": limit, "count": count},
	}, nil
}
