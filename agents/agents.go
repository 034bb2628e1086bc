// Package agents supplies the concrete capability implementations the
// workflow engine (C12) dispatches to: a handful of deterministic,
// stub-analysis agent and professional-service functions, one per role
// named in the overview ("strategic, technical, research, compliance,
// cost-modelling, reporting"). The actual prompting/provider-SDK strategy
// behind a production agent is out of scope here; these stand-ins exist so
// the engine's dispatch contract has something real to exercise end to end.
//
// Deliberately a flat set of functions tagged by role rather than a class
// hierarchy: the engine only needs a capability (an AgentFunc or a
// ProfessionalServiceFunc), never an agent's identity beyond its role name.
package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/infraforge/fleet/core"
	"github.com/infraforge/fleet/resilience"
	"github.com/infraforge/fleet/workflow"
)

// Role names registered with the workflow engine's RegisterAgent /
// RegisterProfessionalService calls; these are the exact strings a Node's
// Config["role"]/Config["service"] is expected to carry.
const (
	RoleStrategic = "strategic"
	RoleTechnical = "technical"
	RoleResearch  = "research"

	ServiceCompliance = "compliance"
	ServiceCostModel  = "cost_modeling"
	ServiceReporting  = "reporting"
)

// requirementKeys extracts a sorted snapshot of the keys of the
// assessment's requirement maps so a stub's output is a deterministic
// function of its input rather than hardcoded.
func requirementKeys(a core.Assessment) []string {
	keys := make([]string, 0, len(a.BusinessRequirements)+len(a.TechnicalRequirements))
	for k := range a.BusinessRequirements {
		keys = append(keys, k)
	}
	for k := range a.TechnicalRequirements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func recommendation(idGen core.IDGenerator, clock core.Clock, assessmentID, agentName, category string, confidence float64) core.Recommendation {
	return core.Recommendation{
		ID:              idGen.NewID(),
		AssessmentID:    assessmentID,
		AgentName:       agentName,
		Title:           fmt.Sprintf("%s review for %s", category, assessmentID),
		Summary:         fmt.Sprintf("%s-tier analysis produced a %s-confidence recommendation.", agentName, core.DeriveConfidenceLevel(confidence)),
		ConfidenceScore: confidence,
		ConfidenceLevel: core.DeriveConfidenceLevel(confidence),
		Category:        category,
		Priority:        "medium",
		Cost:            core.CostEstimate{},
		CreatedAt:       clock.Now(),
	}
}

// NewStrategicAgent builds the AgentFunc for the "strategic" role: a
// high-level, requirement-count-weighted confidence score.
func NewStrategicAgent(idGen core.IDGenerator, clock core.Clock) workflow.AgentFunc {
	return func(ctx context.Context, a core.Assessment, sharedData map[string]interface{}) (workflow.AgentOutput, error) {
		keys := requirementKeys(a)
		confidence := 0.6 + 0.05*float64(len(keys))
		if confidence > 0.95 {
			confidence = 0.95
		}
		rec := recommendation(idGen, clock, a.ID, RoleStrategic, "strategy", confidence)
		return workflow.AgentOutput{
			Recommendations: []core.Recommendation{rec},
			ConfidenceScore: confidence,
			Data:            map[string]interface{}{"requirement_keys": keys},
		}, nil
	}
}

// NewTechnicalAgent builds the AgentFunc for the "technical" role. It
// slightly raises its own confidence when sharedData holds a "synthesis:n1"
// record (written by a synthesis node with id "n1" that ran before it) — a
// minimal illustration of §4.5's "sharedData" channel between dependency and
// dependent nodes.
func NewTechnicalAgent(idGen core.IDGenerator, clock core.Clock) workflow.AgentFunc {
	return func(ctx context.Context, a core.Assessment, sharedData map[string]interface{}) (workflow.AgentOutput, error) {
		confidence := 0.7
		if _, ok := sharedData["synthesis:n1"]; ok {
			confidence = 0.75
		}
		rec := recommendation(idGen, clock, a.ID, RoleTechnical, "architecture", confidence)
		return workflow.AgentOutput{
			Recommendations: []core.Recommendation{rec},
			ConfidenceScore: confidence,
		}, nil
	}
}

// NewResearchAgent builds the AgentFunc for the "research" role.
func NewResearchAgent(idGen core.IDGenerator, clock core.Clock) workflow.AgentFunc {
	return func(ctx context.Context, a core.Assessment, sharedData map[string]interface{}) (workflow.AgentOutput, error) {
		confidence := 0.65
		rec := recommendation(idGen, clock, a.ID, RoleResearch, "market", confidence)
		return workflow.AgentOutput{
			Recommendations: []core.Recommendation{rec},
			ConfidenceScore: confidence,
		}, nil
	}
}

// deterministicFallback returns a low-confidence, explicitly-degraded
// AgentOutput, used as every stub agent's registered fallback.
func deterministicFallback(role string) func() workflow.AgentOutput {
	return func() workflow.AgentOutput {
		return workflow.AgentOutput{
			ConfidenceScore: 0.2,
			Data:            map[string]interface{}{"degraded": true, "role": role},
		}
	}
}

// DeterministicFallback exposes deterministicFallback for callers wiring
// agents with a resilience.Coordinator, where the fallback func must be
// supplied alongside the AgentFunc.
func DeterministicFallback(role string) func() workflow.AgentOutput {
	return deterministicFallback(role)
}

// NewComplianceService builds the ProfessionalServiceFunc for the
// "compliance" professional-service node. Per the engine's opacity
// contract (§4.5), only {status, quality_score, summary} are read back by
// the engine; any richer body belongs in a store-persisted report, not in
// this return value.
func NewComplianceService() workflow.ProfessionalServiceFunc {
	return func(ctx context.Context, sharedData map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{
			"status":        "ok",
			"quality_score": 0.8,
			"summary":       "no blocking compliance findings",
		}, nil
	}
}

// NewCostModelingService builds the ProfessionalServiceFunc for the
// "cost_modeling" professional-service node.
func NewCostModelingService() workflow.ProfessionalServiceFunc {
	return func(ctx context.Context, sharedData map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{
			"status":        "ok",
			"quality_score": 0.75,
			"summary":       "cost model produced monthly/annual estimates",
		}, nil
	}
}

// NewReportingService builds the ProfessionalServiceFunc for the
// "reporting" professional-service node.
func NewReportingService() workflow.ProfessionalServiceFunc {
	return func(ctx context.Context, sharedData map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{
			"status":        "ok",
			"quality_score": 0.9,
			"summary":       "multi-audience report generated",
		}, nil
	}
}

// Register wires every stub agent and professional service into an engine.
// coordinators is an optional per-role resilience.Coordinator map (nil
// entries, or a nil map entirely, mean "call the function directly, no
// circuit breaker/retry/rate-limit wrapper").
func Register(e *workflow.Engine, coordinators map[string]*resilience.Coordinator, idGen core.IDGenerator, clock core.Clock) {
	e.RegisterAgent(RoleStrategic, NewStrategicAgent(idGen, clock), coordinators[RoleStrategic], DeterministicFallback(RoleStrategic))
	e.RegisterAgent(RoleTechnical, NewTechnicalAgent(idGen, clock), coordinators[RoleTechnical], DeterministicFallback(RoleTechnical))
	e.RegisterAgent(RoleResearch, NewResearchAgent(idGen, clock), coordinators[RoleResearch], DeterministicFallback(RoleResearch))

	e.RegisterProfessionalService(ServiceCompliance, NewComplianceService())
	e.RegisterProfessionalService(ServiceCostModel, NewCostModelingService())
	e.RegisterProfessionalService(ServiceReporting, NewReportingService())
}
