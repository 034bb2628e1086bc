package resilience

import (
	"context"
	"fmt"

	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
	"github.com/infraforge/fleet/ratelimit"
)

// ServiceResilienceConfig bundles the per-service tuning for the four
// composed primitives as one nested config per primitive; the flat
// core.ServiceResilienceConfig carries the same tuning under its own field
// names.
type ServiceResilienceConfig struct {
	Name        string
	CB          *CircuitBreakerConfig
	Retry       RetryConfig
	RateLimit   ratelimit.Config
	FallbackKey string
	DefaultData interface{}
}

// Outcome is resilientCall's return shape: the underlying result data,
// which strategy ultimately served it, and whether the response is
// degraded.
type Outcome struct {
	Data     interface{}
	Degraded bool
	Strategy FallbackStrategy
}

// Coordinator composes rate limiting, circuit breaking, retry and fallback
// into the single resilientCall primitive every external call goes
// through (§4.2): the rate limiter is consulted first (a denial is
// retryable but never counts as a circuit failure), then the circuit
// breaker admits or rejects, the retrier wraps the breaker-guarded call
// with backoff, and if retries are exhausted the fallback chain takes
// over instead of propagating the error.
type Coordinator struct {
	name     string
	limiter  ratelimit.Limiter
	breaker  *CircuitBreaker
	retrier  *Retrier
	fallback *FallbackManager
	logger   core.Logger
}

// NewCoordinator wires the four primitives for one named service.
func NewCoordinator(cfg ServiceResilienceConfig, c cache.Cache, clock core.Clock, logger core.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cfg.CB == nil {
		cfg.CB = DefaultCircuitBreakerConfig(cfg.Name)
	}
	cfg.CB.Name = cfg.Name
	cfg.CB.Logger = logger

	breaker, err := NewCircuitBreaker(cfg.CB, clock)
	if err != nil {
		return nil, err
	}

	retrier, err := NewRetrier(cfg.Retry, RetryableClassifier, logger)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.NewServiceLimiter(cfg.Name, cfg.RateLimit, c, clock, logger)
	if err != nil {
		return nil, err
	}

	fm := NewFallbackManager(c, logger)
	for prefix, shape := range DefaultSyntheticCatalog() {
		fm.RegisterSynthetic(prefix, shape)
	}

	return &Coordinator{
		name:     cfg.Name,
		limiter:  limiter,
		breaker:  breaker,
		retrier:  retrier,
		fallback: fm,
		logger:   core.ComponentLogger(logger, "framework/resilience"),
	}, nil
}

// CircuitBreaker exposes the underlying breaker for control-plane routes
// (force-open/force-closed/reset/state).
func (c *Coordinator) CircuitBreaker() *CircuitBreaker { return c.breaker }

// Call is the resilientCall(service, fallback_key?, default_data?, fn)
// primitive from §4.2. fn performs the actual external call and returns the
// decoded result or an error. out receives a fallback decode target used
// only when every primary attempt fails.
func (c *Coordinator) Call(ctx context.Context, scope ratelimit.Scope, identifier string, fallbackKey string, defaultData interface{}, out interface{}, fn func(ctx context.Context) (interface{}, error)) (Outcome, error) {
	// The rate-limit check is admitted into the retry loop itself (not
	// resolved to a fallback on first denial): RetryableClassifier treats
	// RateLimitExceeded as transient, so a single Call can still recover once
	// the window refills within MaxAttempts, per the "subject to backoff"
	// handling of a rate-limit denial (§4.2/§7).
	var result interface{}
	callErr := c.retrier.Do(ctx, c.name, func(callCtx context.Context) error {
		rlResult, err := c.limiter.CheckLimit(callCtx, c.name, scope, identifier)
		if err != nil {
			return fmt.Errorf("rate limit check for %s: %w", c.name, err)
		}
		if !rlResult.Allowed {
			return &core.RateLimitExceeded{
				RetryAfterSeconds: int64(rlResult.RetryAfter.Seconds()),
				Service:           c.name,
				Scope:             string(scope),
			}
		}
		return c.breaker.Execute(callCtx, func(execCtx context.Context) error {
			res, err := fn(execCtx)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})

	if limiterSupportsAdaptive, ok := c.limiter.(interface {
		RecordOutcome(ctx context.Context, success bool)
	}); ok {
		limiterSupportsAdaptive.RecordOutcome(ctx, callErr == nil)
	}

	if callErr != nil {
		return c.resolveFallback(ctx, fallbackKey, defaultData, out, callErr)
	}

	c.fallback.RecordSuccess(ctx, fallbackKey, result)
	return Outcome{Data: result, Degraded: false}, nil
}

func (c *Coordinator) resolveFallback(ctx context.Context, fallbackKey string, defaultData interface{}, out interface{}, primaryErr error) (Outcome, error) {
	if fallbackKey == "" && defaultData == nil {
		return Outcome{}, primaryErr
	}

	fallbackOutcome, fbErr := c.fallback.Resolve(ctx, fallbackKey, defaultData, out)
	if fbErr != nil {
		c.logger.Warn("fallback chain exhausted", map[string]interface{}{
			"service": c.name, "fallback_key": fallbackKey, "primary_error": primaryErr.Error(),
		})
		return Outcome{}, primaryErr
	}

	c.logger.Info("serving degraded response via fallback", map[string]interface{}{
		"service": c.name, "fallback_key": fallbackKey, "strategy": string(fallbackOutcome.Strategy), "primary_error": primaryErr.Error(),
	})
	return Outcome{Data: fallbackOutcome.Data, Degraded: fallbackOutcome.Degraded, Strategy: fallbackOutcome.Strategy}, nil
}
