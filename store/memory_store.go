package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/infraforge/fleet/core"
)

// InMemoryStore is a development/test Store implementation with no external
// dependency, mirroring the teacher's general pattern of pairing every
// Redis-backed component with an in-memory test double
// (orchestration.InMemoryStateStore).
type InMemoryStore struct {
	mu              sync.RWMutex
	clock           core.Clock
	assessments     map[string]core.Assessment
	recommendations map[string]core.Recommendation
	workflowStates  map[string]core.WorkflowState
	reports         map[string]core.Report
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore(clock core.Clock) *InMemoryStore {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &InMemoryStore{
		clock:           clock,
		assessments:     make(map[string]core.Assessment),
		recommendations: make(map[string]core.Recommendation),
		workflowStates:  make(map[string]core.WorkflowState),
		reports:         make(map[string]core.Report),
	}
}

func (s *InMemoryStore) SaveAssessment(ctx context.Context, a core.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[a.ID] = a
	return nil
}

func (s *InMemoryStore) GetAssessment(ctx context.Context, id string) (core.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[id]
	if !ok {
		return core.Assessment{}, core.NewFrameworkError("InMemoryStore.GetAssessment", "store", core.ErrAssessmentNotFound)
	}
	return a, nil
}

func (s *InMemoryStore) SaveRecommendation(ctx context.Context, r core.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recommendations[r.ID] = r
	return nil
}

func (s *InMemoryStore) ListRecommendations(ctx context.Context, assessmentID string) ([]core.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Recommendation
	for _, r := range s.recommendations {
		if r.AssessmentID == assessmentID {
			out = append(out, r)
		}
	}
	sortRecommendations(out)
	return out, nil
}

func (s *InMemoryStore) ListRecommendationsByAgent(ctx context.Context, assessmentID, agentName string) ([]core.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Recommendation
	for _, r := range s.recommendations {
		if r.AssessmentID == assessmentID && r.AgentName == agentName {
			out = append(out, r)
		}
	}
	sortRecommendations(out)
	return out, nil
}

func sortRecommendations(rs []core.Recommendation) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.Before(rs[j].CreatedAt) })
}

func (s *InMemoryStore) SaveWorkflowState(ctx context.Context, ws core.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflowStates[ws.WorkflowID] = ws
	return nil
}

func (s *InMemoryStore) GetWorkflowState(ctx context.Context, workflowID string) (core.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workflowStates[workflowID]
	if !ok {
		return core.WorkflowState{}, core.NewFrameworkError("InMemoryStore.GetWorkflowState", "store", core.ErrWorkflowNotFound)
	}
	return ws, nil
}

func (s *InMemoryStore) ListWorkflowStates(ctx context.Context, limit int) ([]core.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.WorkflowState, 0, len(s.workflowStates))
	for _, ws := range s.workflowStates {
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) DeleteWorkflowStatesOlderThan(ctx context.Context, maxAgeSeconds int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.clock.Now().Add(-time.Duration(maxAgeSeconds) * time.Second)
	var deleted int
	for id, ws := range s.workflowStates {
		if !ws.Status.IsTerminal() {
			continue
		}
		if ws.EndTime.Before(cutoff) {
			delete(s.workflowStates, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryStore) SaveReport(ctx context.Context, r core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = r
	return nil
}

func (s *InMemoryStore) GetReport(ctx context.Context, id string) (core.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return core.Report{}, core.NewFrameworkError("InMemoryStore.GetReport", "store", core.ErrNotFound)
	}
	return r, nil
}

func (s *InMemoryStore) HealthCheck(ctx context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
