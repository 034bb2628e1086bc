// Package failover implements C10: per-service endpoint pools with
// active-passive, round-robin, and weighted selection strategies, cooldown
// and auto-failback; all pool and endpoint state is guarded by a single
// mutex.
package failover

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/infraforge/fleet/core"
)

// TriggerReason records why a failover transition happened (§4.3).
type TriggerReason string

const (
	TriggerConsecutiveFailures TriggerReason = "consecutive_failures"
	TriggerResponseTime        TriggerReason = "response_time_threshold"
	TriggerErrorRate           TriggerReason = "error_rate_threshold"
	TriggerManual              TriggerReason = "manual"
)

// ServiceConfig tunes one service's endpoint pool.
type ServiceConfig struct {
	Strategy              core.FailoverStrategy
	FailureThreshold      int
	ResponseTimeThreshold time.Duration
	ErrorRateThreshold    float64
	Cooldown              time.Duration
	AutoFailback          bool
	FailbackHealthChecks  int
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Strategy:              core.FailoverActivePassive,
		FailureThreshold:      3,
		ResponseTimeThreshold: 5 * time.Second,
		ErrorRateThreshold:    0.5,
		Cooldown:              300 * time.Second,
		AutoFailback:          true,
		FailbackHealthChecks:  3,
	}
}

type endpointState struct {
	endpoint      core.ServiceEndpoint
	cooldownUntil time.Time
	healthyStreak int
	rrCursor      bool
}

// Orchestrator manages failover for a set of named services, each with its
// own ordered endpoint pool.
type Orchestrator struct {
	mu       sync.Mutex
	services map[string]*servicePool
	clock    core.Clock
	logger   core.Logger
	idGen    core.IDGenerator
	rng      *rand.Rand
	onEvent  func(core.FailoverEvent)
}

type servicePool struct {
	config    ServiceConfig
	endpoints []*endpointState
	rrIndex   int
	current   string
}

func NewOrchestrator(clock core.Clock, idGen core.IDGenerator, logger core.Logger, onEvent func(core.FailoverEvent)) *Orchestrator {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if idGen == nil {
		idGen = core.UUIDGenerator{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Orchestrator{
		services: make(map[string]*servicePool),
		clock:    clock,
		idGen:    idGen,
		logger:   core.ComponentLogger(logger, "framework/failover"),
		rng:      rand.New(rand.NewSource(1)),
		onEvent:  onEvent,
	}
}

// RegisterService seeds a service's endpoint pool. Endpoints are sorted by
// priority ascending (lower = higher priority) for active-passive
// selection.
func (o *Orchestrator) RegisterService(name string, config ServiceConfig, endpoints []core.ServiceEndpoint) {
	states := make([]*endpointState, len(endpoints))
	for i, ep := range endpoints {
		states[i] = &endpointState{endpoint: ep}
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].endpoint.Priority < states[j].endpoint.Priority
	})

	o.mu.Lock()
	o.services[name] = &servicePool{config: config, endpoints: states}
	o.mu.Unlock()
}

// GetCurrent returns the endpoint the named service should use right now,
// per the configured strategy (§4.3).
func (o *Orchestrator) GetCurrent(name string) (core.ServiceEndpoint, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pool, ok := o.services[name]
	if !ok {
		return core.ServiceEndpoint{}, core.NewFrameworkError("Orchestrator.GetCurrent", "failover", fmt.Errorf("%w: service %q", core.ErrNotFound, name))
	}

	switch pool.config.Strategy {
	case core.FailoverRoundRobin:
		return o.roundRobin(pool)
	case core.FailoverWeighted:
		return o.weighted(pool)
	default:
		return o.activePassive(pool)
	}
}

func (o *Orchestrator) activePassive(pool *servicePool) (core.ServiceEndpoint, error) {
	for _, es := range pool.endpoints {
		if es.endpoint.IsActive && es.endpoint.IsHealthy {
			return es.endpoint, nil
		}
	}
	for _, es := range pool.endpoints {
		if es.endpoint.IsActive {
			return es.endpoint, nil
		}
	}
	return core.ServiceEndpoint{}, &core.FrameworkError{Op: "Orchestrator.activePassive", Kind: "failover", Message: "no active endpoints available"}
}

func (o *Orchestrator) roundRobin(pool *servicePool) (core.ServiceEndpoint, error) {
	n := len(pool.endpoints)
	if n == 0 {
		return core.ServiceEndpoint{}, &core.FrameworkError{Op: "Orchestrator.roundRobin", Kind: "failover", Message: "no endpoints registered"}
	}
	for i := 0; i < n; i++ {
		idx := (pool.rrIndex + i) % n
		es := pool.endpoints[idx]
		if es.endpoint.IsHealthy {
			pool.rrIndex = (idx + 1) % n
			return es.endpoint, nil
		}
	}
	for i := 0; i < n; i++ {
		idx := (pool.rrIndex + i) % n
		es := pool.endpoints[idx]
		if es.endpoint.IsActive {
			pool.rrIndex = (idx + 1) % n
			return es.endpoint, nil
		}
	}
	return core.ServiceEndpoint{}, &core.FrameworkError{Op: "Orchestrator.roundRobin", Kind: "failover", Message: "no active endpoints available"}
}

func (o *Orchestrator) weighted(pool *servicePool) (core.ServiceEndpoint, error) {
	var total float64
	var healthy []*endpointState
	for _, es := range pool.endpoints {
		if es.endpoint.IsHealthy && es.endpoint.Weight > 0 {
			healthy = append(healthy, es)
			total += es.endpoint.Weight
		}
	}
	if len(healthy) == 0 {
		return o.activePassive(pool)
	}
	r := o.rng.Float64() * total
	var acc float64
	for _, es := range healthy {
		acc += es.endpoint.Weight
		if r <= acc {
			return es.endpoint, nil
		}
	}
	return healthy[len(healthy)-1].endpoint, nil
}

// ReportResult feeds a probe outcome for one endpoint into the failover
// state machine, triggering failover/failback as needed.
func (o *Orchestrator) ReportResult(serviceName, endpointName string, healthy bool, responseTime time.Duration, errorRate float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pool, ok := o.services[serviceName]
	if !ok {
		return
	}
	var target *endpointState
	for _, es := range pool.endpoints {
		if es.endpoint.Name == endpointName {
			target = es
			break
		}
	}
	if target == nil {
		return
	}

	now := o.clock.Now()
	if now.Before(target.cooldownUntil) {
		return
	}

	target.endpoint.LastHealthCheck = now
	target.endpoint.LatestResponseTime = responseTime
	target.endpoint.LatestErrorRate = errorRate

	if healthy {
		target.endpoint.ConsecutiveSuccesses++
		target.endpoint.ConsecutiveFailures = 0
		target.healthyStreak++
		if !target.endpoint.IsHealthy && pool.config.AutoFailback && target.healthyStreak >= pool.config.FailbackHealthChecks {
			o.transition(serviceName, target, true, TriggerManual, "failback after sustained health")
		}
		return
	}

	target.endpoint.ConsecutiveFailures++
	target.endpoint.ConsecutiveSuccesses = 0
	target.healthyStreak = 0

	switch {
	case target.endpoint.ConsecutiveFailures >= pool.config.FailureThreshold:
		o.transition(serviceName, target, false, TriggerConsecutiveFailures, "consecutive failure threshold breached")
	case pool.config.ResponseTimeThreshold > 0 && responseTime > pool.config.ResponseTimeThreshold:
		o.transition(serviceName, target, false, TriggerResponseTime, "response time threshold breached")
	case pool.config.ErrorRateThreshold > 0 && errorRate > pool.config.ErrorRateThreshold:
		o.transition(serviceName, target, false, TriggerErrorRate, "error rate threshold breached")
	}
}

func (o *Orchestrator) transition(serviceName string, es *endpointState, toHealthy bool, reason TriggerReason, detail string) {
	pool := o.services[serviceName]
	fromName := es.endpoint.Name
	es.endpoint.IsHealthy = toHealthy
	if !toHealthy {
		es.cooldownUntil = o.clock.Now().Add(pool.config.Cooldown)
	}

	toName := es.endpoint.Name
	if !toHealthy {
		if next, err := o.activePassive(pool); err == nil {
			toName = next.Name
		}
	}

	event := core.FailoverEvent{
		ID:           o.idGen.NewID(),
		Service:      serviceName,
		FromEndpoint: fromName,
		ToEndpoint:   toName,
		Reason:       fmt.Sprintf("%s: %s", reason, detail),
		Strategy:     pool.config.Strategy,
		Timestamp:    o.clock.Now(),
	}
	o.logger.Info("failover transition", map[string]interface{}{
		"service": serviceName, "endpoint": es.endpoint.Name, "healthy": toHealthy, "reason": string(reason),
	})
	if o.onEvent != nil {
		go o.onEvent(event)
	}
}

// ManualFailover forces an endpoint unhealthy (triggering failover away from
// it) regardless of observed probes, for the control-plane manual-failover
// route.
func (o *Orchestrator) ManualFailover(serviceName, endpointName string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	pool, ok := o.services[serviceName]
	if !ok {
		return core.NewFrameworkError("Orchestrator.ManualFailover", "failover", fmt.Errorf("%w: service %q", core.ErrNotFound, serviceName))
	}
	for _, es := range pool.endpoints {
		if es.endpoint.Name == endpointName {
			o.transition(serviceName, es, false, TriggerManual, "manual failover requested")
			return nil
		}
	}
	return core.NewFrameworkError("Orchestrator.ManualFailover", "failover", fmt.Errorf("%w: endpoint %q", core.ErrNotFound, endpointName))
}

// Endpoints returns the current pool state for a service, used by the
// control-plane status route.
func (o *Orchestrator) Endpoints(serviceName string) ([]core.ServiceEndpoint, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pool, ok := o.services[serviceName]
	if !ok {
		return nil, core.NewFrameworkError("Orchestrator.Endpoints", "failover", fmt.Errorf("%w: service %q", core.ErrNotFound, serviceName))
	}
	out := make([]core.ServiceEndpoint, len(pool.endpoints))
	for i, es := range pool.endpoints {
		out[i] = es.endpoint
	}
	return out, nil
}
