package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// tokenBucketState is the persisted {tokens, last_refill} shape from §3/§4.1.
type tokenBucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

// checkTokenBucket implements §4.1's token bucket: refill proportionally to
// elapsed time capped at burst_capacity, then admit if at least one token is
// available. The whole read-refill-decrement-write cycle runs inside
// Cache.CompareAndSwap so concurrent callers never observe a stale bucket
// (§5 atomic-per-key requirement).
func (sl *ServiceLimiter) checkTokenBucket(ctx context.Context, service string, scope Scope, identifier string) (Result, error) {
	key := bucketKey(service, scope, identifier) + ":bucket"
	now := sl.clock.Now()

	var result Result
	err := sl.cache.CompareAndSwap(ctx, key, func(current string, exists bool) (string, time.Duration, error) {
		state := tokenBucketState{Tokens: float64(sl.config.BurstCapacity), LastRefill: now}
		if exists && current != "" {
			if err := json.Unmarshal([]byte(current), &state); err != nil {
				return "", 0, fmt.Errorf("decode token bucket state: %w", err)
			}
		}

		elapsed := now.Sub(state.LastRefill).Seconds()
		if elapsed > 0 {
			state.Tokens = math.Min(state.Tokens+elapsed*sl.config.RefillRate, float64(sl.config.BurstCapacity))
			state.LastRefill = now
		}

		if state.Tokens < 1 {
			deficit := 1 - state.Tokens
			retryAfter := time.Duration(math.Ceil(deficit/sl.config.RefillRate)) * time.Second
			result = Result{
				Allowed:    false,
				Remaining:  0,
				ResetTime:  now.Add(retryAfter),
				RetryAfter: retryAfter,
				Algorithm:  AlgorithmTokenBucket,
				Metadata:   map[string]interface{}{"tokens": state.Tokens},
			}
		} else {
			state.Tokens--
			result = Result{
				Allowed:    true,
				Remaining:  int(state.Tokens),
				ResetTime:  now,
				RetryAfter: 0,
				Algorithm:  AlgorithmTokenBucket,
				Metadata:   map[string]interface{}{"tokens": state.Tokens},
			}
		}

		encoded, err := json.Marshal(state)
		if err != nil {
			return "", 0, fmt.Errorf("encode token bucket state: %w", err)
		}
		return string(encoded), 0, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("token bucket check: %w", err)
	}
	return result, nil
}
