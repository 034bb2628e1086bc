// Package health implements C9, the health-check manager: periodic probes
// of registered components, consecutive-failure/success tracking, and
// rate-limited auto-recovery, grounded on the probe/status shape in
// itsneelabh/gomind's telemetry/health.go generalized from a single
// telemetry-subsystem check into a registry of many components.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/infraforge/fleet/core"
)

// ComponentKind selects the default recovery strategy set (§4.3).
type ComponentKind string

const (
	KindDatabase    ComponentKind = "database"
	KindCache       ComponentKind = "cache"
	KindExternalAPI ComponentKind = "external_api"
	KindAgent       ComponentKind = "agent"
	KindGeneric     ComponentKind = "generic"
)

const (
	defaultFailureThreshold = 3
	recoveryCooldown        = 5 * time.Minute
	maxHistoryPerComponent  = 100
)

// CheckFunc is a component's async probe, returning the raw result fields
// from §4.3's performCheck() contract.
type CheckFunc func(ctx context.Context) (status core.HealthStatus, details map[string]interface{}, checkErr error)

// RecoveryStrategy attempts to restore a component to health; a nil error
// from its Run means it succeeded.
type RecoveryStrategy struct {
	Name string
	Run  func(ctx context.Context) error
}

// RecoveryStats accumulates outcomes for one component's recovery attempts.
type RecoveryStats struct {
	Attempts  int
	Successes int
	Failures  int
	LastAt    time.Time
	LastError string
}

type componentState struct {
	mu                  sync.Mutex
	name                string
	kind                ComponentKind
	critical            bool
	check               CheckFunc
	timeout             time.Duration
	failureThreshold    int
	strategies          []RecoveryStrategy
	consecutiveFailures int
	consecutiveSuccess  int
	recovering          bool
	lastRecoveryAt      time.Time
	recoveryStats       RecoveryStats
	history             []core.HealthCheckResult
	latest              core.HealthCheckResult
}

// Manager is the C9 health-check registry and recovery coordinator.
type Manager struct {
	mu         sync.RWMutex
	components map[string]*componentState
	clock      core.Clock
	logger     core.Logger
	autoRecover bool
}

func NewManager(clock core.Clock, logger core.Logger, autoRecover bool) *Manager {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Manager{
		components:  make(map[string]*componentState),
		clock:       clock,
		logger:      core.ComponentLogger(logger, "framework/health"),
		autoRecover: autoRecover,
	}
}

// Register adds a component to the registry with the default recovery
// strategies for its kind unless custom strategies are supplied.
func (m *Manager) Register(name string, kind ComponentKind, critical bool, timeout time.Duration, check CheckFunc, strategies []RecoveryStrategy) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if strategies == nil {
		strategies = DefaultStrategies(kind)
	}
	cs := &componentState{
		name:             name,
		kind:             kind,
		critical:         critical,
		check:            check,
		timeout:          timeout,
		failureThreshold: defaultFailureThreshold,
		strategies:       strategies,
	}
	m.mu.Lock()
	m.components[name] = cs
	m.mu.Unlock()
}

// SetFailureThreshold overrides the default consecutive-failure threshold
// for one component.
func (m *Manager) SetFailureThreshold(name string, threshold int) {
	m.mu.RLock()
	cs, ok := m.components[name]
	m.mu.RUnlock()
	if !ok || threshold <= 0 {
		return
	}
	cs.mu.Lock()
	cs.failureThreshold = threshold
	cs.mu.Unlock()
}

// CheckOne runs a single component's probe immediately, updates its
// tracking state, and triggers auto-recovery if the failure threshold is
// crossed.
func (m *Manager) CheckOne(ctx context.Context, name string) (core.HealthCheckResult, error) {
	m.mu.RLock()
	cs, ok := m.components[name]
	m.mu.RUnlock()
	if !ok {
		return core.HealthCheckResult{}, core.NewFrameworkError("Manager.CheckOne", "health", fmt.Errorf("%w: component %q", core.ErrNotFound, name))
	}
	return m.runCheck(ctx, cs), nil
}

func (m *Manager) runCheck(ctx context.Context, cs *componentState) core.HealthCheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, cs.timeout)
	defer cancel()

	start := m.clock.Now()
	status, details, checkErr := cs.check(checkCtx)
	elapsed := m.clock.Now().Sub(start)

	result := core.HealthCheckResult{
		Status:         status,
		ResponseTimeMs: float64(elapsed.Microseconds()) / 1000.0,
		Details:        details,
		CheckedAt:      m.clock.Now(),
	}
	if checkErr != nil {
		result.Status = core.HealthUnhealthy
		result.Error = checkErr.Error()
	}

	cs.mu.Lock()
	cs.latest = result
	cs.history = append(cs.history, result)
	if len(cs.history) > maxHistoryPerComponent {
		cs.history = cs.history[len(cs.history)-maxHistoryPerComponent:]
	}

	if result.Status == core.HealthHealthy {
		cs.consecutiveSuccess++
		cs.consecutiveFailures = 0
		cs.recovering = false
	} else {
		cs.consecutiveFailures++
		cs.consecutiveSuccess = 0
	}

	shouldRecover := m.autoRecover && cs.consecutiveFailures >= cs.failureThreshold && !cs.recovering
	if shouldRecover {
		cs.recovering = true
	}
	cs.mu.Unlock()

	if shouldRecover {
		go m.attemptRecovery(context.Background(), cs)
	}

	return result
}

// attemptRecovery runs registered strategies in order until one succeeds,
// rate-limited to once per recoveryCooldown per component.
func (m *Manager) attemptRecovery(ctx context.Context, cs *componentState) {
	cs.mu.Lock()
	since := m.clock.Now().Sub(cs.lastRecoveryAt)
	if !cs.lastRecoveryAt.IsZero() && since < recoveryCooldown {
		cs.mu.Unlock()
		return
	}
	cs.lastRecoveryAt = m.clock.Now()
	strategies := append([]RecoveryStrategy{}, cs.strategies...)
	cs.mu.Unlock()

	var lastErr error
	succeeded := false
	for _, strat := range strategies {
		err := strat.Run(ctx)
		cs.mu.Lock()
		cs.recoveryStats.Attempts++
		if err == nil {
			cs.recoveryStats.Successes++
		} else {
			cs.recoveryStats.Failures++
			cs.recoveryStats.LastError = err.Error()
		}
		cs.recoveryStats.LastAt = m.clock.Now()
		cs.mu.Unlock()

		if err == nil {
			m.logger.Info("recovery strategy succeeded", map[string]interface{}{"component": cs.name, "strategy": strat.Name})
			succeeded = true
			break
		}
		lastErr = err
		m.logger.Warn("recovery strategy failed", map[string]interface{}{"component": cs.name, "strategy": strat.Name, "error": err.Error()})
	}

	if !succeeded && lastErr != nil {
		m.logger.Error("all recovery strategies exhausted", map[string]interface{}{"component": cs.name, "error": lastErr.Error()})
	}
}

// SystemStatus reports the worst status across critical components (§4.3:
// "a single UNHEALTHY critical component forces system status UNHEALTHY").
func (m *Manager) SystemStatus() core.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	worst := core.HealthHealthy
	seenAny := false
	for _, cs := range m.components {
		cs.mu.Lock()
		status := cs.latest.Status
		critical := cs.critical
		cs.mu.Unlock()
		if status == "" {
			status = core.HealthUnknown
		}
		if critical {
			seenAny = true
			worst = worseStatus(worst, status)
		}
	}
	if !seenAny {
		return core.HealthUnknown
	}
	return worst
}

func worseStatus(a, b core.HealthStatus) core.HealthStatus {
	rank := map[core.HealthStatus]int{
		core.HealthHealthy:   0,
		core.HealthDegraded:  1,
		core.HealthUnknown:   2,
		core.HealthUnhealthy: 3,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Snapshot returns the latest result for every registered component.
func (m *Manager) Snapshot() map[string]core.HealthCheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]core.HealthCheckResult, len(m.components))
	for name, cs := range m.components {
		cs.mu.Lock()
		out[name] = cs.latest
		cs.mu.Unlock()
	}
	return out
}

// History returns up to limit of the most recent results for a component,
// most recent last.
func (m *Manager) History(name string, limit int) ([]core.HealthCheckResult, error) {
	m.mu.RLock()
	cs, ok := m.components[name]
	m.mu.RUnlock()
	if !ok {
		return nil, core.NewFrameworkError("Manager.History", "health", fmt.Errorf("%w: component %q", core.ErrNotFound, name))
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if limit <= 0 || limit > len(cs.history) {
		limit = len(cs.history)
	}
	out := make([]core.HealthCheckResult, limit)
	copy(out, cs.history[len(cs.history)-limit:])
	return out, nil
}

// RecoveryStatsFor returns the accumulated recovery attempt stats for a
// component.
func (m *Manager) RecoveryStatsFor(name string) (RecoveryStats, error) {
	m.mu.RLock()
	cs, ok := m.components[name]
	m.mu.RUnlock()
	if !ok {
		return RecoveryStats{}, core.NewFrameworkError("Manager.RecoveryStatsFor", "health", fmt.Errorf("%w: component %q", core.ErrNotFound, name))
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.recoveryStats, nil
}

// RunAll checks every registered component, returning per-component
// results. Used by the periodic monitoring loop and the manual
// POST /health/component/{name}/check control-plane route (run against a
// single component via CheckOne).
func (m *Manager) RunAll(ctx context.Context) map[string]core.HealthCheckResult {
	m.mu.RLock()
	components := make([]*componentState, 0, len(m.components))
	for _, cs := range m.components {
		components = append(components, cs)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	resultsMu := sync.Mutex{}
	results := make(map[string]core.HealthCheckResult, len(components))
	for _, cs := range components {
		wg.Add(1)
		go func(cs *componentState) {
			defer wg.Done()
			result := m.runCheck(ctx, cs)
			resultsMu.Lock()
			results[cs.name] = result
			resultsMu.Unlock()
		}(cs)
	}
	wg.Wait()
	return results
}

// Monitor runs RunAll on interval until ctx is canceled, matching the
// teacher's periodic-goroutine convention used throughout orchestration/.
func (m *Manager) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunAll(ctx)
		}
	}
}
