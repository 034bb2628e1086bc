package failover

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/core"
)

func endpoints() []core.ServiceEndpoint {
	return []core.ServiceEndpoint{
		{Name: "primary", Priority: 0, Weight: 2, IsActive: true, IsHealthy: true},
		{Name: "secondary", Priority: 1, Weight: 1, IsActive: true, IsHealthy: true},
	}
}

func TestOrchestrator_ActivePassive_PrefersLowestPriorityHealthy(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	o := NewOrchestrator(clock, nil, core.NoOpLogger{}, nil)
	cfg := DefaultServiceConfig()
	cfg.Strategy = core.FailoverActivePassive
	o.RegisterService("pricing-api", cfg, endpoints())

	ep, err := o.GetCurrent("pricing-api")
	require.NoError(t, err)
	assert.Equal(t, "primary", ep.Name)
}

func TestOrchestrator_RoundRobin_Cycles(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	o := NewOrchestrator(clock, nil, core.NoOpLogger{}, nil)
	cfg := DefaultServiceConfig()
	cfg.Strategy = core.FailoverRoundRobin
	o.RegisterService("pricing-api", cfg, endpoints())

	first, err := o.GetCurrent("pricing-api")
	require.NoError(t, err)
	second, err := o.GetCurrent("pricing-api")
	require.NoError(t, err)
	assert.NotEqual(t, first.Name, second.Name)
}

func TestOrchestrator_ConsecutiveFailuresTriggerFailover(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	var events []core.FailoverEvent
	o := NewOrchestrator(clock, nil, core.NoOpLogger{}, func(e core.FailoverEvent) { events = append(events, e) })
	cfg := DefaultServiceConfig()
	cfg.FailureThreshold = 2
	o.RegisterService("pricing-api", cfg, endpoints())

	o.ReportResult("pricing-api", "primary", false, 0, 0)
	o.ReportResult("pricing-api", "primary", false, 0, 0)

	ep, err := o.GetCurrent("pricing-api")
	require.NoError(t, err)
	assert.Equal(t, "secondary", ep.Name)

	require.Eventually(t, func() bool { return len(events) >= 1 }, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_CooldownBlocksImmediateRefailover(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	o := NewOrchestrator(clock, nil, core.NoOpLogger{}, nil)
	cfg := DefaultServiceConfig()
	cfg.FailureThreshold = 1
	cfg.Cooldown = time.Minute
	cfg.FailbackHealthChecks = 1
	o.RegisterService("pricing-api", cfg, endpoints())

	o.ReportResult("pricing-api", "primary", false, 0, 0)
	eps, err := o.Endpoints("pricing-api")
	require.NoError(t, err)
	require.False(t, eps[0].IsHealthy)

	o.ReportResult("pricing-api", "primary", true, 0, 0)
	eps, err = o.Endpoints("pricing-api")
	require.NoError(t, err)
	assert.False(t, eps[0].IsHealthy, "still within cooldown, report should be ignored")
}

func TestOrchestrator_ManualFailover(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	o := NewOrchestrator(clock, nil, core.NoOpLogger{}, nil)
	o.RegisterService("pricing-api", DefaultServiceConfig(), endpoints())

	require.NoError(t, o.ManualFailover("pricing-api", "primary"))
	ep, err := o.GetCurrent("pricing-api")
	require.NoError(t, err)
	assert.Equal(t, "secondary", ep.Name)
}

func TestOrchestrator_WeightedPicksFromHealthyOnly(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	o := NewOrchestrator(clock, nil, core.NoOpLogger{}, nil)
	cfg := DefaultServiceConfig()
	cfg.Strategy = core.FailoverWeighted
	eps := endpoints()
	eps[0].IsHealthy = false
	o.RegisterService("pricing-api", cfg, eps)

	ep, err := o.GetCurrent("pricing-api")
	require.NoError(t, err)
	assert.Equal(t, "secondary", ep.Name)
}
