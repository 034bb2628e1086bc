package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/infraforge/fleet/core"
)

// PostgresStore is the production Store implementation: each collection
// named in §6 lives in its own table with an `id text primary key` and a
// `doc jsonb` column, so the relational database behaves as a document
// store while still letting operators run ordinary SQL against it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger core.Logger
}

// Schema is the DDL PostgresStore expects; callers run migrations
// out-of-band (the core does not embed a migration runner, matching the
// Non-goal excluding CRUD/provisioning wiring).
const Schema = `
CREATE TABLE IF NOT EXISTS assessments (
	id text PRIMARY KEY,
	principal_id text NOT NULL,
	doc jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS recommendations (
	id text PRIMARY KEY,
	assessment_id text NOT NULL,
	agent_name text NOT NULL,
	doc jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_recommendations_assessment ON recommendations (assessment_id);
CREATE INDEX IF NOT EXISTS idx_recommendations_agent ON recommendations (assessment_id, agent_name);
CREATE TABLE IF NOT EXISTS workflow_states (
	id text PRIMARY KEY,
	doc jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS reports (
	id text PRIMARY KEY,
	assessment_id text NOT NULL,
	doc jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);
`

// NewPostgresStore connects a pgxpool.Pool from a DSN and verifies
// connectivity with a bounded ping.
func NewPostgresStore(ctx context.Context, dsn string, logger core.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, core.NewFrameworkError("NewPostgresStore", "store", fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err))
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, core.NewFrameworkError("NewPostgresStore", "store", fmt.Errorf("%w: %v", core.ErrConnectionFailed, err))
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// NewPostgresStoreFromPool adapts an already-constructed pool (e.g. one
// pointed at a test container).
func NewPostgresStoreFromPool(pool *pgxpool.Pool, logger core.Logger) *PostgresStore {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) SaveAssessment(ctx context.Context, a core.Assessment) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return core.NewFrameworkError("PostgresStore.SaveAssessment", "store", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO assessments (id, principal_id, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET principal_id = $2, doc = $3, updated_at = now()`,
		a.ID, a.PrincipalID, doc)
	if err != nil {
		return core.NewFrameworkError("PostgresStore.SaveAssessment", "store", err)
	}
	return nil
}

func (s *PostgresStore) GetAssessment(ctx context.Context, id string) (core.Assessment, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM assessments WHERE id = $1`, id).Scan(&doc)
	if err == pgx.ErrNoRows {
		return core.Assessment{}, core.NewFrameworkError("PostgresStore.GetAssessment", "store", core.ErrAssessmentNotFound)
	}
	if err != nil {
		return core.Assessment{}, core.NewFrameworkError("PostgresStore.GetAssessment", "store", err)
	}
	var a core.Assessment
	if err := json.Unmarshal(doc, &a); err != nil {
		return core.Assessment{}, core.NewFrameworkError("PostgresStore.GetAssessment", "store", err)
	}
	return a, nil
}

func (s *PostgresStore) SaveRecommendation(ctx context.Context, r core.Recommendation) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return core.NewFrameworkError("PostgresStore.SaveRecommendation", "store", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO recommendations (id, assessment_id, agent_name, doc, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET doc = $4`,
		r.ID, r.AssessmentID, r.AgentName, doc)
	if err != nil {
		return core.NewFrameworkError("PostgresStore.SaveRecommendation", "store", err)
	}
	return nil
}

func (s *PostgresStore) ListRecommendations(ctx context.Context, assessmentID string) ([]core.Recommendation, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM recommendations WHERE assessment_id = $1 ORDER BY created_at`, assessmentID)
	if err != nil {
		return nil, core.NewFrameworkError("PostgresStore.ListRecommendations", "store", err)
	}
	defer rows.Close()
	return scanRecommendations(rows)
}

func (s *PostgresStore) ListRecommendationsByAgent(ctx context.Context, assessmentID, agentName string) ([]core.Recommendation, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM recommendations WHERE assessment_id = $1 AND agent_name = $2 ORDER BY created_at`, assessmentID, agentName)
	if err != nil {
		return nil, core.NewFrameworkError("PostgresStore.ListRecommendationsByAgent", "store", err)
	}
	defer rows.Close()
	return scanRecommendations(rows)
}

func scanRecommendations(rows pgx.Rows) ([]core.Recommendation, error) {
	var out []core.Recommendation
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, core.NewFrameworkError("scanRecommendations", "store", err)
		}
		var r core.Recommendation
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, core.NewFrameworkError("scanRecommendations", "store", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewFrameworkError("scanRecommendations", "store", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveWorkflowState(ctx context.Context, ws core.WorkflowState) error {
	doc, err := json.Marshal(ws)
	if err != nil {
		return core.NewFrameworkError("PostgresStore.SaveWorkflowState", "store", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_states (id, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET doc = $2, updated_at = now()`,
		ws.WorkflowID, doc)
	if err != nil {
		return core.NewFrameworkError("PostgresStore.SaveWorkflowState", "store", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflowState(ctx context.Context, workflowID string) (core.WorkflowState, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM workflow_states WHERE id = $1`, workflowID).Scan(&doc)
	if err == pgx.ErrNoRows {
		return core.WorkflowState{}, core.NewFrameworkError("PostgresStore.GetWorkflowState", "store", core.ErrWorkflowNotFound)
	}
	if err != nil {
		return core.WorkflowState{}, core.NewFrameworkError("PostgresStore.GetWorkflowState", "store", err)
	}
	var ws core.WorkflowState
	if err := json.Unmarshal(doc, &ws); err != nil {
		return core.WorkflowState{}, core.NewFrameworkError("PostgresStore.GetWorkflowState", "store", err)
	}
	return ws, nil
}

func (s *PostgresStore) ListWorkflowStates(ctx context.Context, limit int) ([]core.WorkflowState, error) {
	// A non-positive limit lists every record (LIMIT NULL means no limit).
	var lim interface{} = limit
	if limit <= 0 {
		lim = nil
	}
	rows, err := s.pool.Query(ctx, `SELECT doc FROM workflow_states ORDER BY updated_at DESC LIMIT $1`, lim)
	if err != nil {
		return nil, core.NewFrameworkError("PostgresStore.ListWorkflowStates", "store", err)
	}
	defer rows.Close()
	var out []core.WorkflowState
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, core.NewFrameworkError("PostgresStore.ListWorkflowStates", "store", err)
		}
		var ws core.WorkflowState
		if err := json.Unmarshal(doc, &ws); err != nil {
			return nil, core.NewFrameworkError("PostgresStore.ListWorkflowStates", "store", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteWorkflowStatesOlderThan(ctx context.Context, maxAgeSeconds int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflow_states WHERE updated_at < now() - ($1 || ' seconds')::interval AND doc->>'status' IN ('COMPLETED','FAILED','CANCELLED')`, maxAgeSeconds)
	if err != nil {
		return 0, core.NewFrameworkError("PostgresStore.DeleteWorkflowStatesOlderThan", "store", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, r core.Report) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return core.NewFrameworkError("PostgresStore.SaveReport", "store", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reports (id, assessment_id, doc, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET doc = $3`,
		r.ID, r.AssessmentID, doc)
	if err != nil {
		return core.NewFrameworkError("PostgresStore.SaveReport", "store", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (core.Report, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM reports WHERE id = $1`, id).Scan(&doc)
	if err == pgx.ErrNoRows {
		return core.Report{}, core.NewFrameworkError("PostgresStore.GetReport", "store", core.ErrNotFound)
	}
	if err != nil {
		return core.Report{}, core.NewFrameworkError("PostgresStore.GetReport", "store", err)
	}
	var r core.Report
	if err := json.Unmarshal(doc, &r); err != nil {
		return core.Report{}, core.NewFrameworkError("PostgresStore.GetReport", "store", err)
	}
	return r, nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return core.NewFrameworkError("PostgresStore.HealthCheck", "store", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
