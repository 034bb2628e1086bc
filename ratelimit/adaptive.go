package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// outcomeSample is one recorded call result, kept for the adaptive success
// rate window (§4.1: "observed success rate of the last <=100 requests in
// the last 5 min").
type outcomeSample struct {
	at      time.Time
	success bool
}

const (
	adaptiveMaxSamples   = 100
	adaptiveSampleWindow = 5 * time.Minute
	adaptiveAdjustPeriod = 60 * time.Second
)

// adaptiveState tracks the dynamic limit and recent outcomes for one
// service's adaptive limiter (§9 Open Question 2: tracked per-instance by
// default). An optional shared aggregation mode layers in cache-backed
// counts; see adaptiveState.recordSharedOutcome and
// ServiceLimiter.RecordOutcome.
type adaptiveState struct {
	mu            sync.Mutex
	base          int
	current       float64
	lastAdjustAt  time.Time
	adjustCount   int
	samples       []outcomeSample
	config        Config
}

func newAdaptiveState(cfg Config) *adaptiveState {
	return &adaptiveState{
		base:    cfg.RequestsPerMinute,
		current: float64(cfg.RequestsPerMinute),
		config:  cfg,
	}
}

// recordOutcome appends a sample and, if at least adaptiveAdjustPeriod has
// elapsed since the last adjustment, recomputes the dynamic limit.
func (a *adaptiveState) recordOutcome(now time.Time, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples = append(a.samples, outcomeSample{at: now, success: success})
	a.pruneLocked(now)

	if a.lastAdjustAt.IsZero() {
		a.lastAdjustAt = now
		return
	}
	if now.Sub(a.lastAdjustAt) < adaptiveAdjustPeriod {
		return
	}
	a.adjustLocked(now)
}

func (a *adaptiveState) pruneLocked(now time.Time) {
	cutoff := now.Add(-adaptiveSampleWindow)
	kept := a.samples[:0]
	for _, s := range a.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	if len(kept) > adaptiveMaxSamples {
		kept = kept[len(kept)-adaptiveMaxSamples:]
	}
	a.samples = kept
}

func (a *adaptiveState) adjustLocked(now time.Time) {
	if len(a.samples) == 0 {
		a.lastAdjustAt = now
		return
	}
	a.applyRateLocked(a.localRateLocked(), now)
}

func (a *adaptiveState) localRateLocked() float64 {
	var successes int
	for _, s := range a.samples {
		if s.success {
			successes++
		}
	}
	return float64(successes) / float64(len(a.samples))
}

func (a *adaptiveState) applyRateLocked(rate float64, now time.Time) {
	base := float64(a.base)
	switch {
	case rate < a.config.AdaptiveThreshold:
		a.current = math.Max(a.current*a.config.BackoffFactor, 0.1*base)
	case rate > 0.95:
		a.current = math.Min(a.current*a.config.RecoveryFactor, 2*base)
	}
	a.lastAdjustAt = now
	a.adjustCount++
}

// recordSharedOutcome folds a cache-aggregated success rate (contributed by
// every instance sharing this service's cache, via ServiceLimiter's opt-in
// shared-aggregation mode) in with this instance's own recent rate, so a
// single instance's limit converges towards the fleet-wide observed rate
// rather than only its own traffic slice.
func (a *adaptiveState) recordSharedOutcome(now time.Time, sharedSuccesses, sharedTotal int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sharedTotal <= 0 || len(a.samples) == 0 {
		return
	}
	blended := (a.localRateLocked() + float64(sharedSuccesses)/float64(sharedTotal)) / 2
	a.applyRateLocked(blended, now)
}

func (a *adaptiveState) limit() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	limit := int(math.Round(a.current))
	if limit < 1 {
		limit = 1
	}
	return limit
}

// RecordOutcome is called by the resilience coordinator (C8) after a primary
// call completes, feeding the adaptive algorithm's success-rate tracking.
// It is a no-op for non-adaptive algorithms. When a cache handle is present
// (the opt-in shared-aggregation mode), it also folds in every instance's
// rolling counts under rate_limit:<service>:adaptive:{success,total}.
func (sl *ServiceLimiter) RecordOutcome(ctx context.Context, success bool) {
	if sl.adaptive == nil {
		return
	}
	now := sl.clock.Now()
	sl.adaptive.recordOutcome(now, success)

	if sl.cache == nil {
		return
	}
	successDelta := int64(0)
	if success {
		successDelta = 1
	}
	successKey := fmt.Sprintf("rate_limit:%s:adaptive:success", sl.service)
	totalKey := fmt.Sprintf("rate_limit:%s:adaptive:total", sl.service)
	sharedSuccesses, err := sl.cache.IncrBy(ctx, successKey, successDelta)
	if err != nil {
		sl.logger.Warn("failed to record shared adaptive success", map[string]interface{}{"service": sl.service, "error": err.Error()})
		return
	}
	sharedTotal, err := sl.cache.IncrBy(ctx, totalKey, 1)
	if err != nil {
		sl.logger.Warn("failed to record shared adaptive total", map[string]interface{}{"service": sl.service, "error": err.Error()})
		return
	}
	_ = sl.cache.Expire(ctx, successKey, adaptiveSampleWindow)
	_ = sl.cache.Expire(ctx, totalKey, adaptiveSampleWindow)
	sl.adaptive.recordSharedOutcome(now, sharedSuccesses, sharedTotal)
}

func (sl *ServiceLimiter) checkAdaptive(ctx context.Context, service string, scope Scope, identifier string) (Result, error) {
	limit := sl.adaptive.limit()
	result, err := sl.checkSlidingWindow(ctx, service, scope, identifier, limit)
	if err != nil {
		return Result{}, err
	}
	result.Algorithm = AlgorithmAdaptive
	if result.Metadata == nil {
		result.Metadata = map[string]interface{}{}
	}
	result.Metadata["adaptive_limit"] = limit
	result.Metadata["base_limit"] = sl.adaptive.base
	return result, nil
}
