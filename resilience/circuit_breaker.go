// Package resilience implements C5 (circuit breaker), C6 (retry engine),
// C7 (fallback manager) and C8 (resilience coordinator), composed into the
// single resilientCall primitive used to wrap every external call. Grounded
// on itsneelabh/gomind's resilience package: the atomic, lock-light state
// machine in circuit_breaker.go and the exponential-backoff retry loop in
// retry.go, adapted to the simpler consecutive-failure/consecutive-success
// counting model §4.2 specifies (rather than the teacher's sliding
// error-rate window).
package resilience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infraforge/fleet/core"
)

// CircuitState mirrors core.CircuitBreakerState as a lighter-weight int for
// atomic.Value storage, following the teacher's CircuitState pattern.
type CircuitState int32

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s CircuitState) ToCoreState() core.CircuitBreakerState {
	switch s {
	case StateOpen:
		return core.CircuitOpen
	case StateHalfOpen:
		return core.CircuitHalfOpen
	default:
		return core.CircuitClosed
	}
}

// MetricsCollector is the circuit breaker's metrics seam, matching the
// teacher's interface shape so a Prometheus-backed implementation can be
// dropped in without touching the state machine.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string, errorType string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (noopMetrics) RecordSuccess(string)                  {}
func (noopMetrics) RecordFailure(string, string)          {}
func (noopMetrics) RecordStateChange(string, string, string) {}
func (noopMetrics) RecordRejection(string)                {}

// ErrorClassifier determines which errors count toward the circuit's
// failure threshold.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier excludes user/programming errors from counting
// against the breaker, matching the teacher's DefaultErrorClassifier:
// configuration, not-found, state and cancellation errors never count, and
// every other error (timeouts and unclassified errors included) does.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsConfigurationError(err) {
		return false
	}
	if core.IsNotFound(err) {
		return false
	}
	if core.IsStateError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrContextCanceled) {
		return false
	}
	return true
}

// CircuitBreakerConfig holds the §4.2 circuit breaker tuning.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	CallTimeout      time.Duration
	ErrorClassifier  ErrorClassifier
	Logger           core.Logger
	Metrics          MetricsCollector
}

// DefaultCircuitBreakerConfig mirrors the teacher's DefaultConfig shape,
// tuned to spec defaults.
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
		CallTimeout:      10 * time.Second,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           core.NoOpLogger{},
		Metrics:          noopMetrics{},
	}
}

func (c *CircuitBreakerConfig) Validate() error {
	if c.Name == "" {
		return core.NewFrameworkError("CircuitBreakerConfig.Validate", "resilience", fmt.Errorf("%w: name is required", core.ErrMissingConfiguration))
	}
	if c.FailureThreshold <= 0 {
		return core.NewFrameworkError("CircuitBreakerConfig.Validate", "resilience", fmt.Errorf("%w: failure_threshold must be positive", core.ErrInvalidConfiguration))
	}
	if c.SuccessThreshold <= 0 {
		return core.NewFrameworkError("CircuitBreakerConfig.Validate", "resilience", fmt.Errorf("%w: success_threshold must be positive", core.ErrInvalidConfiguration))
	}
	if c.RecoveryTimeout <= 0 {
		return core.NewFrameworkError("CircuitBreakerConfig.Validate", "resilience", fmt.Errorf("%w: recovery_timeout must be positive", core.ErrInvalidConfiguration))
	}
	if c.ErrorClassifier == nil {
		c.ErrorClassifier = DefaultErrorClassifier
	}
	if c.Logger == nil {
		c.Logger = core.NoOpLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
	return nil
}

// CircuitBreaker implements the §4.2 CLOSED/OPEN/HALF_OPEN state machine
// with atomic state for the hot read path and a mutex only around actual
// transitions, following the teacher's lock-light design.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	state          atomic.Int32
	stateChangedAt atomic.Value // time.Time
	lastFailureAt  atomic.Value // time.Time

	consecutiveFailures  atomic.Int32
	consecutiveSuccesses atomic.Int32

	halfOpenInFlight atomic.Int32

	forceOpen   atomic.Bool
	forceClosed atomic.Bool

	clock core.Clock

	mu        sync.Mutex
	listeners []func(name string, from, to CircuitState)
}

// NewCircuitBreaker validates config and returns a CLOSED circuit breaker.
func NewCircuitBreaker(config *CircuitBreakerConfig, clock core.Clock) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	cb := &CircuitBreaker{config: config, clock: clock}
	cb.state.Store(int32(StateClosed))
	cb.stateChangedAt.Store(clock.Now())
	cb.lastFailureAt.Store(time.Time{})
	return cb, nil
}

func (cb *CircuitBreaker) GetState() CircuitState {
	return CircuitState(cb.state.Load())
}

// AddStateChangeListener registers a callback invoked on every transition.
func (cb *CircuitBreaker) AddStateChangeListener(fn func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, fn)
}

// Allow reports whether a call may proceed, performing the OPEN->HALF_OPEN
// transition if the recovery timeout has elapsed (§4.2 table row 2: "now -
// last_failure_time >= recovery_timeout on next call").
func (cb *CircuitBreaker) Allow() bool {
	if cb.forceClosed.Load() {
		return true
	}
	if cb.forceOpen.Load() {
		return false
	}

	switch cb.GetState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		return cb.halfOpenInFlight.Add(1) <= int32(cb.config.SuccessThreshold)
	case StateOpen:
		lastFailure, _ := cb.lastFailureAt.Load().(time.Time)
		if cb.clock.Now().Sub(lastFailure) >= cb.config.RecoveryTimeout {
			cb.transition(StateOpen, StateHalfOpen)
			return cb.halfOpenInFlight.Add(1) <= int32(cb.config.SuccessThreshold)
		}
		return false
	default:
		return false
	}
}

// Execute runs fn if the circuit admits the call, tracking the outcome.
// Timeouts count as failures (§4.2: "Timeouts count as failures").
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.Allow() {
		cb.config.Metrics.RecordRejection(cb.config.Name)
		return &core.CircuitBreakerOpenError{Service: cb.config.Name}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if cb.config.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cb.config.CallTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in circuit breaker call: %v\n%s", r, debug.Stack())
			}
		}()
		done <- fn(callCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = fmt.Errorf("%w: %v", core.ErrTimeout, callCtx.Err())
	}

	cb.recordOutcome(err)
	return err
}

func (cb *CircuitBreaker) recordOutcome(err error) {
	counts := cb.config.ErrorClassifier(err)
	if !counts {
		if err == nil {
			cb.onSuccess()
		}
		return
	}
	cb.onFailure(err)
}

func (cb *CircuitBreaker) onSuccess() {
	cb.config.Metrics.RecordSuccess(cb.config.Name)
	cb.consecutiveFailures.Store(0)

	if cb.GetState() == StateHalfOpen {
		successes := cb.consecutiveSuccesses.Add(1)
		if successes >= int32(cb.config.SuccessThreshold) {
			cb.transition(StateHalfOpen, StateClosed)
		}
		return
	}
	cb.consecutiveSuccesses.Add(1)
}

func (cb *CircuitBreaker) onFailure(err error) {
	errType := fmt.Sprintf("%T", err)
	cb.config.Metrics.RecordFailure(cb.config.Name, errType)
	cb.lastFailureAt.Store(cb.clock.Now())
	cb.consecutiveSuccesses.Store(0)

	if cb.GetState() == StateHalfOpen {
		// §4.2 table row 4: HALF_OPEN -> OPEN on any failure.
		cb.transition(StateHalfOpen, StateOpen)
		return
	}

	failures := cb.consecutiveFailures.Add(1)
	if failures >= int32(cb.config.FailureThreshold) && cb.GetState() == StateClosed {
		cb.transition(StateClosed, StateOpen)
	}
}

func (cb *CircuitBreaker) transition(from, to CircuitState) {
	cb.mu.Lock()
	if cb.GetState() != from {
		cb.mu.Unlock()
		return
	}
	cb.state.Store(int32(to))
	cb.stateChangedAt.Store(cb.clock.Now())
	if to == StateHalfOpen {
		cb.halfOpenInFlight.Store(0)
		cb.consecutiveSuccesses.Store(0)
	}
	if to == StateClosed {
		cb.consecutiveFailures.Store(0)
		cb.consecutiveSuccesses.Store(0)
	}
	listeners := append([]func(string, CircuitState, CircuitState){}, cb.listeners...)
	cb.mu.Unlock()

	cb.config.Logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.config.Name, "from": from.String(), "to": to.String(),
	})
	cb.config.Metrics.RecordStateChange(cb.config.Name, from.String(), to.String())
	for _, l := range listeners {
		go l(cb.config.Name, from, to)
	}
}

// ForceOpen/ForceClosed/ClearForce provide the manual override carried from
// the teacher (§7 supplemented feature) backing the
// /circuit-breakers/{service}/reset control-plane contract.
func (cb *CircuitBreaker) ForceOpen()   { cb.forceOpen.Store(true); cb.forceClosed.Store(false) }
func (cb *CircuitBreaker) ForceClosed() { cb.forceClosed.Store(true); cb.forceOpen.Store(false) }
func (cb *CircuitBreaker) ClearForce() {
	cb.forceOpen.Store(false)
	cb.forceClosed.Store(false)
}

// Reset returns the breaker to CLOSED with all counters zeroed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.state.Store(int32(StateClosed))
	cb.stateChangedAt.Store(cb.clock.Now())
	cb.consecutiveFailures.Store(0)
	cb.consecutiveSuccesses.Store(0)
	cb.halfOpenInFlight.Store(0)
	cb.mu.Unlock()
}
