package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
	"github.com/infraforge/fleet/events"
	"github.com/infraforge/fleet/resilience"
	"github.com/infraforge/fleet/ratelimit"
	"github.com/infraforge/fleet/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	clock := &core.FixedClock{At: time.Now()}
	idGen := &core.SequentialIDGenerator{Prefix: "wf"}
	c := cache.NewInMemoryCache(clock)
	st := store.NewInMemoryStore(clock)
	cs := NewCheckpointStore(st, c)
	bus := events.NewBus(c, clock, idGen, core.NoOpLogger{})

	cfg := core.DefaultEngineConfig()
	cfg.MaxParallelNodes = 4
	e := NewEngine(cfg, cs, st, bus, clock, idGen, core.NoOpLogger{})
	return e, st
}

func simpleNodes() []core.Node {
	return []core.Node{
		{ID: "n1", Name: "strategic", Type: core.NodeTypeAgent, Config: map[string]interface{}{"role": "strategic"}},
		{ID: "n2", Name: "technical", Type: core.NodeTypeAgent, Config: map[string]interface{}{"role": "technical"}, Dependencies: []string{"n1"}},
		{ID: "n3", Name: "synth", Type: core.NodeTypeSynthesis, Dependencies: []string{"n2"}},
	}
}

func TestEngine_RunsAgentsThroughSynthesis(t *testing.T) {
	e, _ := newTestEngine(t)

	e.RegisterAgent("strategic", func(ctx context.Context, a core.Assessment, sd map[string]interface{}) (AgentOutput, error) {
		return AgentOutput{
			Recommendations: []core.Recommendation{{ID: "r1", Category: "cost", ConfidenceScore: 0.9}},
			ConfidenceScore: 0.9,
		}, nil
	}, nil, nil)
	e.RegisterAgent("technical", func(ctx context.Context, a core.Assessment, sd map[string]interface{}) (AgentOutput, error) {
		return AgentOutput{
			Recommendations: []core.Recommendation{{ID: "r2", Category: "cost", ConfidenceScore: 0.7}},
			ConfidenceScore: 0.7,
		}, nil
	}, nil, nil)

	id, err := e.CreateWorkflow(context.Background(), core.Assessment{ID: "a-1"}, simpleNodes())
	require.NoError(t, err)

	require.NoError(t, e.Run(context.Background(), id))

	ws, err := e.checkpoints.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowCompleted, ws.Status)
	assert.Equal(t, float64(100), ws.Assessment.CompletionPercentage)
	assert.Equal(t, core.NodeCompleted, ws.NodeResults["n3"].Status)
	assert.InDelta(t, 0.7, ws.NodeResults["n3"].ConfidenceScore, 0.001)
}

func TestEngine_AgentFailureSubstitutesDeterministicFallback(t *testing.T) {
	e, _ := newTestEngine(t)

	e.RegisterAgent("strategic", func(ctx context.Context, a core.Assessment, sd map[string]interface{}) (AgentOutput, error) {
		return AgentOutput{}, errors.New("boom")
	}, nil, func() AgentOutput {
		return AgentOutput{Data: map[string]interface{}{"degraded": true}, ConfidenceScore: 0.1}
	})
	e.RegisterAgent("technical", func(ctx context.Context, a core.Assessment, sd map[string]interface{}) (AgentOutput, error) {
		return AgentOutput{ConfidenceScore: 0.5}, nil
	}, nil, nil)

	id, err := e.CreateWorkflow(context.Background(), core.Assessment{ID: "a-2"}, simpleNodes())
	require.NoError(t, err)

	require.NoError(t, e.Run(context.Background(), id))

	ws, err := e.checkpoints.Load(context.Background(), id)
	require.NoError(t, err)
	// medium error tolerance (default) records the node's own failure but
	// lets the rest of the workflow proceed on the substituted fallback data
	assert.Equal(t, core.WorkflowCompleted, ws.Status)
	assert.Equal(t, core.NodeFailed, ws.NodeResults["n1"].Status)
	assert.Contains(t, ws.FailedAgents, "strategic")
	assert.NotContains(t, ws.CompletedAgents, "strategic")
	assert.Equal(t, true, ws.NodeResults["n1"].Data["degraded"])
	assert.Equal(t, core.NodeCompleted, ws.NodeResults["n2"].Status)
}

func TestEngine_WithResilienceCoordinator_FallsBackAfterRetriesExhausted(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	idGen := &core.SequentialIDGenerator{Prefix: "wf"}
	c := cache.NewInMemoryCache(clock)
	st := store.NewInMemoryStore(clock)
	cs := NewCheckpointStore(st, c)
	bus := events.NewBus(c, clock, idGen, core.NoOpLogger{})
	cfg := core.DefaultEngineConfig()
	e := NewEngine(cfg, cs, st, bus, clock, idGen, core.NoOpLogger{})

	rc := resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	coordinator, err := resilience.NewCoordinator(resilience.ServiceResilienceConfig{
		Name:  "strategic",
		CB:    resilience.DefaultCircuitBreakerConfig("strategic"),
		Retry: rc,
		RateLimit: ratelimit.Config{
			Algorithm: ratelimit.AlgorithmTokenBucket, RequestsPerMinute: 1000, RequestsPerHour: 100000,
			BurstCapacity: 100, RefillRate: 100, WindowSize: time.Minute, AdaptiveThreshold: 0.8, BackoffFactor: 0.5, RecoveryFactor: 1.1,
		},
	}, c, clock, core.NoOpLogger{})
	require.NoError(t, err)

	e.RegisterAgent("strategic", func(ctx context.Context, a core.Assessment, sd map[string]interface{}) (AgentOutput, error) {
		return AgentOutput{}, errors.New("always fails")
	}, coordinator, func() AgentOutput {
		return AgentOutput{ConfidenceScore: 0.2, Data: map[string]interface{}{"synthetic": true}}
	})
	e.RegisterAgent("technical", func(ctx context.Context, a core.Assessment, sd map[string]interface{}) (AgentOutput, error) {
		return AgentOutput{ConfidenceScore: 0.6}, nil
	}, nil, nil)

	id, err := e.CreateWorkflow(context.Background(), core.Assessment{ID: "a-3"}, simpleNodes())
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background(), id))

	ws, err := e.checkpoints.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowCompleted, ws.Status)
	assert.Equal(t, core.NodeFailed, ws.NodeResults["n1"].Status)
	assert.Contains(t, ws.FailedAgents, "strategic")
	assert.Equal(t, true, ws.NodeResults["n1"].Data["synthetic"])
	assert.Equal(t, core.NodeCompleted, ws.NodeResults["n2"].Status)
}

func TestEngine_Cancel_MarksWorkflowCancelled(t *testing.T) {
	e, _ := newTestEngine(t)

	block := make(chan struct{})
	e.RegisterAgent("strategic", func(ctx context.Context, a core.Assessment, sd map[string]interface{}) (AgentOutput, error) {
		<-block
		return AgentOutput{}, ctx.Err()
	}, nil, func() AgentOutput { return AgentOutput{} })
	e.RegisterAgent("technical", func(ctx context.Context, a core.Assessment, sd map[string]interface{}) (AgentOutput, error) {
		return AgentOutput{}, nil
	}, nil, nil)

	id, err := e.CreateWorkflow(context.Background(), core.Assessment{ID: "a-4"}, simpleNodes())
	require.NoError(t, err)

	runDone := make(chan struct{})
	go func() {
		_ = e.Run(context.Background(), id)
		close(runDone)
	}()

	// give the run loop time to mark the node RUNNING
	time.Sleep(20 * time.Millisecond)
	accepted, err := e.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, accepted)
	close(block)

	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	ws, err := e.checkpoints.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, core.WorkflowCancelled, ws.Status)
}

func TestEngine_Cleanup_RemovesOldTerminalWorkflows(t *testing.T) {
	e, st := newTestEngine(t)

	old := core.WorkflowState{
		WorkflowID: "wf-old", AssessmentID: "a-5", Status: core.WorkflowCompleted,
		EndTime: time.Now().Add(-1000 * time.Hour),
	}
	require.NoError(t, st.SaveWorkflowState(context.Background(), old))

	n, err := e.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
