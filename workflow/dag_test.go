package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/core"
)

func TestDAG_GetReadyNodes_OnlyEntryPointsInitially(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", nil)
	d.AddNode("b", []string{"a"})
	d.AddNode("c", []string{"a"})

	require.NoError(t, d.Validate())
	assert.ElementsMatch(t, []string{"a"}, d.GetReadyNodes())
}

func TestDAG_GetReadyNodes_UnlocksDependentsAfterCompletion(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", nil)
	d.AddNode("b", []string{"a"})

	d.MarkRunning("a")
	d.MarkCompleted("a")

	assert.ElementsMatch(t, []string{"b"}, d.GetReadyNodes())
}

func TestDAG_Validate_DetectsMissingDependency(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", []string{"ghost"})
	require.Error(t, d.Validate())
}

func TestDAG_Validate_DetectsCycle(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", []string{"b"})
	d.AddNode("b", []string{"a"})
	require.Error(t, d.Validate())
}

func TestDAG_MarkFailed_CascadesSkipToDependents(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", nil)
	d.AddNode("b", []string{"a"})
	d.AddNode("c", []string{"b"})

	d.MarkRunning("a")
	d.MarkFailed("a", true)

	nb, _ := d.Node("b")
	nc, _ := d.Node("c")
	assert.Equal(t, core.NodeSkipped, nb.Status)
	assert.Equal(t, core.NodeSkipped, nc.Status)
	assert.True(t, d.IsComplete())
	assert.True(t, d.HasFailure())
}

func TestDAG_MarkFailed_WithoutCascadeLeavesDependentsEligible(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", nil)
	d.AddNode("b", []string{"a"})

	d.MarkRunning("a")
	d.MarkFailed("a", false)

	assert.ElementsMatch(t, []string{"b"}, d.GetReadyNodes())
	assert.True(t, d.HasFailure())
}

func TestDAG_ResetPending_RequeuesRunningNodes(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", nil)
	d.MarkRunning("a")

	d.ResetPending()

	n, _ := d.Node("a")
	assert.Equal(t, core.NodePending, n.Status)
}

func TestDAG_Statistics_ReportsLevelsAndCounts(t *testing.T) {
	d := NewDAG()
	d.AddNode("a", nil)
	d.AddNode("b", nil)
	d.AddNode("c", []string{"a", "b"})

	d.MarkRunning("a")
	d.MarkCompleted("a")
	d.MarkRunning("b")
	d.MarkCompleted("b")

	stats := d.Statistics()
	assert.Equal(t, 3, stats.TotalNodes)
	assert.Equal(t, 2, stats.CompletedNodes)
	assert.Equal(t, 1, stats.PendingNodes)
	assert.Equal(t, 2, stats.MaxParallelism)
	assert.Equal(t, 2, stats.Depth)
}
