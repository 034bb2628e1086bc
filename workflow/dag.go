// Package workflow implements C12: the DAG engine driving a workflow's
// nodes through PENDING -> RUNNING -> COMPLETED/FAILED/SKIPPED, per-node
// dispatch by type, checkpointing, cancellation and cleanup. Grounded on
// itsneelabh/gomind's orchestration/workflow_dag.go and
// orchestration/workflow_state.go.
package workflow

import (
	"fmt"
	"sync"

	"github.com/infraforge/fleet/core"
)

// DAGNode tracks one node's dependency edges and execution status within
// the graph; core.Node (in the store/wire model) carries the richer
// per-node business data, this is purely the scheduling view.
type DAGNode struct {
	ID           string
	Dependencies []string
	Dependents   []string
	Status       core.NodeStatus
}

// DAG is the scheduling graph for one workflow execution.
type DAG struct {
	mu    sync.RWMutex
	nodes map[string]*DAGNode
}

func NewDAG() *DAG {
	return &DAG{nodes: make(map[string]*DAGNode)}
}

// AddNode inserts or updates a node's dependency list and rebuilds the
// dependents index.
func (d *DAG) AddNode(id string, dependencies []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.nodes[id]; ok {
		existing.Dependencies = dependencies
	} else {
		d.nodes[id] = &DAGNode{ID: id, Dependencies: dependencies, Status: core.NodePending}
	}
	d.rebuildDependents()
}

func (d *DAG) rebuildDependents() {
	for _, n := range d.nodes {
		n.Dependents = nil
	}
	for id, n := range d.nodes {
		for _, dep := range n.Dependencies {
			if depNode, ok := d.nodes[dep]; ok {
				found := false
				for _, existing := range depNode.Dependents {
					if existing == id {
						found = true
						break
					}
				}
				if !found {
					depNode.Dependents = append(depNode.Dependents, id)
				}
			}
		}
	}
}

// Validate rejects missing-dependency references and circular dependencies.
func (d *DAG) Validate() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for id, node := range d.nodes {
		for _, dep := range node.Dependencies {
			if _, ok := d.nodes[dep]; !ok {
				return core.NewFrameworkError("DAG.Validate", "workflow", fmt.Errorf("node %q depends on unknown node %q", id, dep))
			}
		}
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	for id := range d.nodes {
		if !visited[id] {
			if d.hasCycle(id, visited, recStack) {
				return core.NewFrameworkError("DAG.Validate", "workflow", fmt.Errorf("circular dependency detected at %q", id))
			}
		}
	}
	return nil
}

func (d *DAG) hasCycle(id string, visited, recStack map[string]bool) bool {
	visited[id] = true
	recStack[id] = true
	defer func() { recStack[id] = false }()

	node := d.nodes[id]
	for _, dep := range node.Dependencies {
		if !visited[dep] {
			if d.hasCycle(dep, visited, recStack) {
				return true
			}
		} else if recStack[dep] {
			return true
		}
	}
	return false
}

// GetReadyNodes returns pending nodes whose dependencies are all done:
// COMPLETED, SKIPPED or FAILED (see allDependenciesDone).
func (d *DAG) GetReadyNodes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ready []string
	for id, node := range d.nodes {
		if node.Status == core.NodePending && d.allDependenciesDone(id) {
			ready = append(ready, id)
		}
	}
	return ready
}

// allDependenciesDone treats FAILED the same as COMPLETED/SKIPPED: a node
// whose failure was not cascaded (medium/high tolerance) must still unlock
// its dependents so they can run against the substituted fallback data.
func (d *DAG) allDependenciesDone(id string) bool {
	node := d.nodes[id]
	for _, dep := range node.Dependencies {
		depNode := d.nodes[dep]
		switch depNode.Status {
		case core.NodeCompleted, core.NodeSkipped, core.NodeFailed:
		default:
			return false
		}
	}
	return true
}

func (d *DAG) setStatus(id string, status core.NodeStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if node, ok := d.nodes[id]; ok {
		node.Status = status
	}
}

func (d *DAG) MarkRunning(id string)   { d.setStatus(id, core.NodeRunning) }
func (d *DAG) MarkCompleted(id string) { d.setStatus(id, core.NodeCompleted) }

// SeedStatus forces a node's status without triggering cascade logic, used
// to replay a persisted WorkflowState's per-node results onto a freshly
// built DAG when resuming an execution.
func (d *DAG) SeedStatus(id string, status core.NodeStatus) { d.setStatus(id, status) }

// MarkFailed marks a node failed. When cascade is true its still-pending
// dependents are transitively skipped, matching the teacher's
// cascading-skip behavior; this is reserved for "low" error tolerance. When
// cascade is false the node is left FAILED but dependents are not touched,
// so GetReadyNodes can still pick them up once their other dependencies
// finish (they run against the failed agent's substituted fallback data).
func (d *DAG) MarkFailed(id string, cascade bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if node, ok := d.nodes[id]; ok {
		node.Status = core.NodeFailed
		if cascade {
			d.skipDependents(id)
		}
	}
}

func (d *DAG) skipDependents(id string) {
	node := d.nodes[id]
	for _, dep := range node.Dependents {
		if depNode := d.nodes[dep]; depNode != nil && depNode.Status == core.NodePending {
			depNode.Status = core.NodeSkipped
			d.skipDependents(dep)
		}
	}
}

// ResetPending requeues any RUNNING node as PENDING, used on resume after a
// crash (§4.5 Checkpointing: "RUNNING nodes at crash time are re-queued as
// PENDING").
func (d *DAG) ResetPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, node := range d.nodes {
		if node.Status == core.NodeRunning {
			node.Status = core.NodePending
		}
	}
}

// IsComplete reports whether every node reached a terminal state.
func (d *DAG) IsComplete() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, node := range d.nodes {
		if node.Status == core.NodePending || node.Status == core.NodeRunning {
			return false
		}
	}
	return true
}

// HasFailure reports whether any node is FAILED.
func (d *DAG) HasFailure() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, node := range d.nodes {
		if node.Status == core.NodeFailed {
			return true
		}
	}
	return false
}

func (d *DAG) Node(id string) (DAGNode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	node, ok := d.nodes[id]
	if !ok {
		return DAGNode{}, false
	}
	return *node, true
}

// GetExecutionLevels groups nodes by the level at which they become
// eligible to run, used for Statistics' MaxParallelism and for
// documentation/visualization purposes.
func (d *DAG) GetExecutionLevels() [][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var levels [][]string
	processed := make(map[string]bool)

	for {
		var level []string
		for id, node := range d.nodes {
			if processed[id] {
				continue
			}
			ready := true
			for _, dep := range node.Dependencies {
				if !processed[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			break
		}
		for _, id := range level {
			processed[id] = true
		}
		levels = append(levels, level)
	}
	return levels
}

// Statistics mirrors the teacher's DAGStatistics, used by the control-plane
// workflow-inspection route.
type Statistics struct {
	TotalNodes     int
	PendingNodes   int
	RunningNodes   int
	CompletedNodes int
	FailedNodes    int
	SkippedNodes   int
	MaxParallelism int
	Depth          int
}

func (d *DAG) Statistics() Statistics {
	d.mu.RLock()
	stats := Statistics{TotalNodes: len(d.nodes)}
	for _, node := range d.nodes {
		switch node.Status {
		case core.NodePending:
			stats.PendingNodes++
		case core.NodeRunning:
			stats.RunningNodes++
		case core.NodeCompleted:
			stats.CompletedNodes++
		case core.NodeFailed:
			stats.FailedNodes++
		case core.NodeSkipped:
			stats.SkippedNodes++
		}
	}
	d.mu.RUnlock()

	levels := d.GetExecutionLevels()
	for _, level := range levels {
		if len(level) > stats.MaxParallelism {
			stats.MaxParallelism = len(level)
		}
	}
	stats.Depth = len(levels)
	return stats
}
