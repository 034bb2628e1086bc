package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/infraforge/fleet/core"
)

// RetryConfig is the bounded exponential-backoff-with-jitter configuration
// from §4.2, adapted from the teacher's retry.go.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig mirrors the teacher's defaults, tuned to spec values.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

func (c RetryConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return core.NewFrameworkError("RetryConfig.Validate", "resilience", fmt.Errorf("%w: max_attempts must be positive", core.ErrInvalidConfiguration))
	}
	if c.InitialDelay <= 0 {
		return core.NewFrameworkError("RetryConfig.Validate", "resilience", fmt.Errorf("%w: initial_delay must be positive", core.ErrInvalidConfiguration))
	}
	if c.MaxDelay < c.InitialDelay {
		return core.NewFrameworkError("RetryConfig.Validate", "resilience", fmt.Errorf("%w: max_delay must be >= initial_delay", core.ErrInvalidConfiguration))
	}
	if c.BackoffFactor < 1 {
		return core.NewFrameworkError("RetryConfig.Validate", "resilience", fmt.Errorf("%w: backoff_factor must be >= 1", core.ErrInvalidConfiguration))
	}
	return nil
}

// RetryableClassifier reports whether an error is worth retrying. Rate-limit
// denials are retryable but circuit-breaker-open and validation errors are
// not (§4.2: "rate limit denial is retryable, not a circuit breaker
// failure").
func RetryableClassifier(err error) bool {
	if err == nil {
		return false
	}
	var rle *core.RateLimitExceeded
	if asRateLimit(err, &rle) {
		return true
	}
	var cbe *core.CircuitBreakerOpenError
	if asCircuitOpen(err, &cbe) {
		return false
	}
	if core.IsConfigurationError(err) || core.IsNotFound(err) || core.IsStateError(err) {
		return false
	}
	return true
}

func asRateLimit(err error, target **core.RateLimitExceeded) bool {
	if rle, ok := err.(*core.RateLimitExceeded); ok {
		*target = rle
		return true
	}
	return false
}

func asCircuitOpen(err error, target **core.CircuitBreakerOpenError) bool {
	if cbe, ok := err.(*core.CircuitBreakerOpenError); ok {
		*target = cbe
		return true
	}
	return false
}

// Retrier runs an operation with bounded exponential backoff and optional
// additive jitter (see backoff).
type Retrier struct {
	config     RetryConfig
	classifier func(error) bool
	logger     core.Logger
	rng        *rand.Rand
}

func NewRetrier(config RetryConfig, classifier func(error) bool, logger core.Logger) (*Retrier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		classifier = RetryableClassifier
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Retrier{
		config:     config,
		classifier: classifier,
		logger:     core.ComponentLogger(logger, "framework/resilience"),
		rng:        rand.New(rand.NewSource(1)),
	}, nil
}

// Do executes fn up to MaxAttempts times, sleeping with exponential backoff
// between attempts. It returns the last error wrapped in core.RetryExhausted
// once attempts are exhausted, or immediately on a non-retryable error.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", core.ErrContextCanceled, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !r.classifier(lastErr) {
			return lastErr
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Debug("retrying after failure", map[string]interface{}{
			"op": op, "attempt": attempt, "delay_ms": delay.Milliseconds(), "error": lastErr.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", core.ErrContextCanceled, ctx.Err())
		case <-timer.C:
		}
	}

	return &core.RetryExhausted{Attempts: r.config.MaxAttempts, LastErr: lastErr}
}

// backoff computes exponential delay capped at MaxDelay, with 0-10%
// additive jitter layered on top so the delay never drops below the base
// exponential value.
func (r *Retrier) backoff(attempt int) time.Duration {
	raw := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	capped := math.Min(raw, float64(r.config.MaxDelay))
	if !r.config.JitterEnabled {
		return time.Duration(capped)
	}
	jittered := capped + r.rng.Float64()*0.1*capped
	return time.Duration(jittered)
}
