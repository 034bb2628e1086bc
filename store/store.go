// Package store implements the persistent document store (C2): assessments,
// recommendations, reports, and workflow snapshots. The teacher has no
// persistent-store dependency of its own, so this is pack enrichment grounded
// on jackc/pgx/v5's pool/JSONB idiom (seen in wisbric/nightowl and
// codeready-toolchain/tarsy), using a Postgres JSONB column per collection to
// emulate the document-store shape §6 names ("Persistence layout").
package store

import (
	"context"

	"github.com/infraforge/fleet/core"
)

// Store is the C2 contract: a document store keyed by id, one table per
// collection named in §6 ("assessments", "recommendations", "workflow_states",
// "reports"). Ownership rules from §3 apply: Assessment is owned by the
// request layer (Store.SaveAssessment may be called by either layer);
// WorkflowState is exclusively written by the workflow engine.
type Store interface {
	SaveAssessment(ctx context.Context, a core.Assessment) error
	GetAssessment(ctx context.Context, id string) (core.Assessment, error)

	SaveRecommendation(ctx context.Context, r core.Recommendation) error
	ListRecommendations(ctx context.Context, assessmentID string) ([]core.Recommendation, error)
	ListRecommendationsByAgent(ctx context.Context, assessmentID, agentName string) ([]core.Recommendation, error)

	SaveWorkflowState(ctx context.Context, ws core.WorkflowState) error
	GetWorkflowState(ctx context.Context, workflowID string) (core.WorkflowState, error)
	ListWorkflowStates(ctx context.Context, limit int) ([]core.WorkflowState, error)
	DeleteWorkflowStatesOlderThan(ctx context.Context, maxAge int64) (int, error)

	SaveReport(ctx context.Context, r core.Report) error
	GetReport(ctx context.Context, id string) (core.Report, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
