package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
	"github.com/infraforge/fleet/events"
	"github.com/infraforge/fleet/resilience"
	"github.com/infraforge/fleet/store"
	"github.com/infraforge/fleet/workflow"
)

func newTestEngine(t *testing.T) (*workflow.Engine, store.Store) {
	t.Helper()
	clock := &core.FixedClock{At: time.Now()}
	idGen := &core.SequentialIDGenerator{Prefix: "rec"}
	c := cache.NewInMemoryCache(clock)
	st := store.NewInMemoryStore(clock)
	cs := workflow.NewCheckpointStore(st, c)
	bus := events.NewBus(c, clock, idGen, core.NoOpLogger{})

	cfg := core.DefaultEngineConfig()
	cfg.MaxParallelNodes = 4
	e := workflow.NewEngine(cfg, cs, st, bus, clock, idGen, core.NoOpLogger{})
	Register(e, map[string]*resilience.Coordinator{}, idGen, clock)
	return e, st
}

func TestRegister_StrategicAgentProducesRecommendation(t *testing.T) {
	e, st := newTestEngine(t)

	nodes := []core.Node{
		{ID: "n1", Name: "strategic", Type: core.NodeTypeAgent, Config: map[string]interface{}{"role": RoleStrategic}},
	}
	id, err := e.CreateWorkflow(context.Background(), core.Assessment{
		ID:                   "a-1",
		BusinessRequirements: map[string]interface{}{"budget": "low"},
	}, nodes)
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background(), id))

	ws, err := st.GetWorkflowState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowCompleted, ws.Status)
	assert.Equal(t, core.NodeCompleted, ws.NodeResults["n1"].Status)
}

func TestRegister_ComplianceServiceRunsAsProfessionalServiceNode(t *testing.T) {
	e, st := newTestEngine(t)

	nodes := []core.Node{
		{ID: "n1", Name: "compliance", Type: core.NodeTypeProfessionalService, Config: map[string]interface{}{"service": ServiceCompliance}},
	}
	id, err := e.CreateWorkflow(context.Background(), core.Assessment{ID: "a-2"}, nodes)
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background(), id))

	ws, err := st.GetWorkflowState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowCompleted, ws.Status)
	assert.Equal(t, core.NodeCompleted, ws.NodeResults["n1"].Status)
}

func TestDeterministicFallback_MarksOutputDegraded(t *testing.T) {
	out := DeterministicFallback(RoleTechnical)()
	assert.Equal(t, true, out.Data["degraded"])
	assert.Equal(t, RoleTechnical, out.Data["role"])
}
