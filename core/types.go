package core

import (
	"encoding/json"
	"time"
)

// AssessmentStatus is the lifecycle status of an Assessment (§3).
type AssessmentStatus string

const (
	AssessmentDraft           AssessmentStatus = "DRAFT"
	AssessmentInProgress      AssessmentStatus = "IN_PROGRESS"
	AssessmentAgentAnalysis   AssessmentStatus = "AGENT_ANALYSIS"
	AssessmentGeneratingReport AssessmentStatus = "GENERATING_REPORT"
	AssessmentCompleted       AssessmentStatus = "COMPLETED"
	AssessmentFailed          AssessmentStatus = "FAILED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s AssessmentStatus) IsTerminal() bool {
	return s == AssessmentCompleted || s == AssessmentFailed
}

// ProgressRecord tracks a human-readable progress snapshot for an assessment.
type ProgressRecord struct {
	CurrentStep    string    `json:"current_step"`
	CompletedSteps int       `json:"completed_steps"`
	TotalSteps     int       `json:"total_steps"`
	Message        string    `json:"message"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Assessment is the request-layer artefact describing an organisation's
// infrastructure needs (A in §3). The core never destroys it; it is created
// by the request layer and mutated only by the workflow engine (C12).
type Assessment struct {
	ID                   string                 `json:"id"`
	PrincipalID          string                 `json:"principal_id"`
	BusinessRequirements map[string]interface{} `json:"business_requirements"`
	TechnicalRequirements map[string]interface{} `json:"technical_requirements"`
	Status               AssessmentStatus       `json:"status"`
	CompletionPercentage float64                `json:"completion_percentage"`
	Progress             ProgressRecord         `json:"progress"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
	Metadata             map[string]interface{} `json:"metadata"`
}

// ConfidenceLevel is derived from a Recommendation's confidence score via
// fixed thresholds (§3): >=0.8 HIGH, >=0.6 MEDIUM, else LOW.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "LOW"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceHigh   ConfidenceLevel = "HIGH"
)

// DeriveConfidenceLevel applies the fixed threshold rule from §3.
func DeriveConfidenceLevel(score float64) ConfidenceLevel {
	switch {
	case score >= 0.8:
		return ConfidenceHigh
	case score >= 0.6:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// CloudProvider enumerates the provider tags a ServiceRecommendation can carry.
type CloudProvider string

const (
	ProviderAWS     CloudProvider = "AWS"
	ProviderAzure   CloudProvider = "AZURE"
	ProviderGCP     CloudProvider = "GCP"
	ProviderAlibaba CloudProvider = "ALIBABA"
	ProviderIBM     CloudProvider = "IBM"
	ProviderMulti   CloudProvider = "MULTI"
)

// CostEstimate carries the monthly/setup/annual cost breakdown for a
// Recommendation.
type CostEstimate struct {
	MonthlyCost float64            `json:"monthly_cost"`
	SetupCost   float64            `json:"setup_cost"`
	AnnualCost  float64            `json:"annual_cost"`
	Breakdown   map[string]float64 `json:"breakdown,omitempty"`
	ROI         float64            `json:"roi,omitempty"`
}

// ServiceRecommendation is a nested, provider-specific suggestion within a
// Recommendation (§3).
type ServiceRecommendation struct {
	Provider            CloudProvider          `json:"provider"`
	ServiceName         string                 `json:"service_name"`
	MonthlyCostEstimate float64                `json:"monthly_cost_estimate"`
	SetupComplexity     string                 `json:"setup_complexity"`
	Configuration       map[string]interface{} `json:"configuration,omitempty"`
	Reasons             []string               `json:"reasons,omitempty"`
}

// Recommendation is produced by exactly one named agent for exactly one
// Assessment (R in §3). Summary must stay at or under 500 characters.
type Recommendation struct {
	ID                string                   `json:"id"`
	AssessmentID      string                   `json:"assessment_id"`
	AgentName         string                   `json:"agent_name"`
	Title             string                   `json:"title"`
	Summary           string                   `json:"summary"`
	ConfidenceScore   float64                  `json:"confidence_score"`
	ConfidenceLevel   ConfidenceLevel          `json:"confidence_level"`
	Category          string                   `json:"category"`
	Priority          string                   `json:"priority"`
	Cost              CostEstimate             `json:"cost"`
	Services          []ServiceRecommendation  `json:"services,omitempty"`
	ImplementationSteps []string               `json:"implementation_steps,omitempty"`
	Risks             []string                 `json:"risks,omitempty"`
	Tags              []string                 `json:"tags,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
}

// MaxSummaryLength is the invariant bound on Recommendation.Summary (§3).
const MaxSummaryLength = 500

// NodeType enumerates the workflow DAG node kinds (§3, §4.5).
type NodeType string

const (
	NodeTypeAgent               NodeType = "AGENT"
	NodeTypeSynthesis           NodeType = "SYNTHESIS"
	NodeTypeDecision            NodeType = "DECISION"
	NodeTypeProfessionalService NodeType = "PROFESSIONAL_SERVICE"
	NodeTypeValidation          NodeType = "VALIDATION"
)

// NodeStatus is the lifecycle status of a single DAG node within a workflow
// execution (§3).
type NodeStatus string

const (
	NodePending   NodeStatus = "PENDING"
	NodeRunning   NodeStatus = "RUNNING"
	NodeCompleted NodeStatus = "COMPLETED"
	NodeFailed    NodeStatus = "FAILED"
	NodeCancelled NodeStatus = "CANCELLED"
	NodeSkipped   NodeStatus = "SKIPPED"
)

// Node is a static unit of work in a workflow DAG (N in §3). It does not
// change for the lifetime of one WorkflowState.
type Node struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Type         NodeType               `json:"type"`
	Config       map[string]interface{} `json:"config"`
	Dependencies []string               `json:"dependencies"`
	Timeout      time.Duration          `json:"timeout"`
}

// NodeResult is the per-node outcome recorded in WorkflowState once a node
// leaves RUNNING.
type NodeResult struct {
	Status          NodeStatus             `json:"status"`
	Recommendations []Recommendation       `json:"recommendations,omitempty"`
	Data            map[string]interface{} `json:"data,omitempty"`
	ConfidenceScore float64                `json:"confidence_score,omitempty"`
	ExecutionTime   time.Duration          `json:"execution_time,omitempty"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
	Error           string                 `json:"error,omitempty"`
	CompletedAt     time.Time              `json:"completed_at,omitempty"`
}

// WorkflowStatus is the overall lifecycle status of a workflow execution (§3).
type WorkflowStatus string

const (
	WorkflowInitialized WorkflowStatus = "INITIALIZED"
	WorkflowRunning     WorkflowStatus = "RUNNING"
	WorkflowCompleted   WorkflowStatus = "COMPLETED"
	WorkflowFailed      WorkflowStatus = "FAILED"
	WorkflowCancelled   WorkflowStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further node transitions
// (§8 property 2: terminal finality).
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// WorkflowMessage is a bounded log entry attached to a WorkflowState.
type WorkflowMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Text      string    `json:"text"`
}

// MaxWorkflowMessages bounds the message log kept on WorkflowState.
const MaxWorkflowMessages = 200

// WorkflowState is the exclusive state of one workflow execution, 1-to-1
// with a running assessment execution (W in §3). It is writable only by the
// workflow engine (C12); all other readers must go through C2/C3.
type WorkflowState struct {
	WorkflowID       string                 `json:"workflow_id"`
	AssessmentID     string                 `json:"assessment_id"`
	Assessment       Assessment             `json:"assessment"`
	SharedData       map[string]interface{} `json:"shared_data"`
	Nodes            map[string]*Node       `json:"nodes"`
	NodeResults      map[string]NodeResult  `json:"node_results"`
	CompletedAgents  []string               `json:"completed_agents"`
	FailedAgents     []string               `json:"failed_agents"`
	CurrentAgent     string                 `json:"current_agent,omitempty"`
	Status           WorkflowStatus         `json:"status"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time,omitempty"`
	Messages         []WorkflowMessage      `json:"messages"`
	Progress         ProgressRecord         `json:"progress"`
	Error            string                 `json:"error,omitempty"`
}

// ServiceEndpoint is a single failover target for a named service (E in §3).
type ServiceEndpoint struct {
	Name                string        `json:"name"`
	URL                 string        `json:"url"`
	Weight              float64       `json:"weight"`
	Priority            int           `json:"priority"`
	IsActive            bool          `json:"is_active"`
	IsHealthy           bool          `json:"is_healthy"`
	LastHealthCheck     time.Time     `json:"last_health_check"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	LatestResponseTime  time.Duration `json:"latest_response_time"`
	LatestErrorRate     float64       `json:"latest_error_rate"`
}

// EventType enumerates every event kind the bus carries (§4.4): workflow and
// agent lifecycle events plus C13 transport events.
type EventType string

const (
	EventAgentStarted           EventType = "AGENT_STARTED"
	EventAgentCompleted         EventType = "AGENT_COMPLETED"
	EventAgentFailed            EventType = "AGENT_FAILED"
	EventWorkflowStarted        EventType = "WORKFLOW_STARTED"
	EventWorkflowCompleted      EventType = "WORKFLOW_COMPLETED"
	EventWorkflowFailed         EventType = "WORKFLOW_FAILED"
	EventDataUpdated            EventType = "DATA_UPDATED"
	EventUserInputReceived      EventType = "USER_INPUT_RECEIVED"
	EventRecommendationGenerated EventType = "RECOMMENDATION_GENERATED"
	EventReportGenerated        EventType = "REPORT_GENERATED"

	EventNotification  EventType = "NOTIFICATION"
	EventAlert         EventType = "ALERT"
	EventUserJoined    EventType = "USER_JOINED"
	EventUserLeft      EventType = "USER_LEFT"
	EventCursorUpdate  EventType = "CURSOR_UPDATE"
	EventFormUpdate    EventType = "FORM_UPDATE"
	EventHeartbeat     EventType = "HEARTBEAT"
	EventError         EventType = "ERROR"
	EventMetricsUpdate EventType = "METRICS_UPDATE"
	EventWorkflowProgress EventType = "WORKFLOW_PROGRESS"
	EventAgentStatus   EventType = "AGENT_STATUS"
	EventStepCompleted EventType = "STEP_COMPLETED"
)

// Event is an immutable-after-publication fact distributed by the event bus
// (Ev in §3).
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Producer  string                 `json:"producer"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// WorkflowIDFromMetadata extracts the workflow_id carried in event metadata,
// if any.
func (e Event) WorkflowIDFromMetadata() string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata["workflow_id"].(string); ok {
		return v
	}
	return ""
}

// RoomIDFromMetadata extracts the optional room_id carried in event metadata.
func (e Event) RoomIDFromMetadata() string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata["room_id"].(string); ok {
		return v
	}
	return ""
}

// CircuitBreakerState enumerates the three circuit breaker states (§4.2).
type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "CLOSED"
	CircuitOpen     CircuitBreakerState = "OPEN"
	CircuitHalfOpen CircuitBreakerState = "HALF_OPEN"
)

// Report is a generated, audience-specific document. Its internal Body is
// opaque to the engine (§9 Open Question 3; see also §4.5 professional
// service node contract) beyond what it chooses to persist.
type Report struct {
	ID           string          `json:"id"`
	AssessmentID string          `json:"assessment_id"`
	Audience     string          `json:"audience"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Body         json.RawMessage `json:"body"`
}

// FailoverStrategy enumerates the endpoint-selection strategies C10 supports
// (§4.3).
type FailoverStrategy string

const (
	FailoverActivePassive FailoverStrategy = "ACTIVE_PASSIVE"
	FailoverRoundRobin    FailoverStrategy = "ROUND_ROBIN"
	FailoverWeighted      FailoverStrategy = "WEIGHTED"
)

// FailoverEvent records a single endpoint transition for a service (§7
// supplemented feature, grounded on original_source failover.py).
type FailoverEvent struct {
	ID           string    `json:"id"`
	Service      string    `json:"service"`
	FromEndpoint string    `json:"from_endpoint"`
	ToEndpoint   string    `json:"to_endpoint"`
	Reason       string    `json:"reason"`
	Strategy     FailoverStrategy `json:"strategy"`
	Timestamp    time.Time `json:"timestamp"`
}

// HealthStatus enumerates the states a health check can report (§4.3).
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthUnknown   HealthStatus = "UNKNOWN"
)

// HealthCheckResult is the outcome of one component probe (§4.3).
type HealthCheckResult struct {
	Status         HealthStatus           `json:"status"`
	ResponseTimeMs float64                `json:"response_time_ms"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Error          string                 `json:"error,omitempty"`
	CheckedAt      time.Time              `json:"checked_at"`
}
