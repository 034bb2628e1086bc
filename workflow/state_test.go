package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infraforge/fleet/cache"
	"github.com/infraforge/fleet/core"
	"github.com/infraforge/fleet/store"
)

func newCheckpointStore() *CheckpointStore {
	clock := &core.FixedClock{At: time.Now()}
	return NewCheckpointStore(store.NewInMemoryStore(clock), cache.NewInMemoryCache(clock))
}

func TestCheckpointStore_SaveThenLoad_PrefersCacheCopy(t *testing.T) {
	cs := newCheckpointStore()
	ws := core.WorkflowState{WorkflowID: "wf-1", AssessmentID: "a-1", Status: core.WorkflowRunning}

	require.NoError(t, cs.Save(context.Background(), ws))

	loaded, err := cs.Load(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", loaded.AssessmentID)
	assert.Equal(t, core.WorkflowRunning, loaded.Status)
}

func TestCheckpointStore_Load_FallsBackToStoreOnCacheMiss(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	st := store.NewInMemoryStore(clock)
	c := cache.NewInMemoryCache(clock)
	cs := NewCheckpointStore(st, c)

	ws := core.WorkflowState{WorkflowID: "wf-2", AssessmentID: "a-2", Status: core.WorkflowCompleted}
	require.NoError(t, st.SaveWorkflowState(context.Background(), ws))

	loaded, err := cs.Load(context.Background(), "wf-2")
	require.NoError(t, err)
	assert.Equal(t, "a-2", loaded.AssessmentID)
}

func TestCheckpointStore_CleanupOlderThan_RemovesTerminalRecords(t *testing.T) {
	clock := &core.FixedClock{At: time.Now()}
	st := store.NewInMemoryStore(clock)
	c := cache.NewInMemoryCache(clock)
	cs := NewCheckpointStore(st, c)

	old := core.WorkflowState{
		WorkflowID: "wf-old", AssessmentID: "a-3", Status: core.WorkflowCompleted,
		EndTime: clock.Now().Add(-100 * time.Hour),
	}
	require.NoError(t, cs.Save(context.Background(), old))

	n, err := cs.CleanupOlderThan(context.Background(), 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.GetWorkflowState(context.Background(), "wf-old")
	require.Error(t, err)
}
