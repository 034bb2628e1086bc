package workflow

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/infraforge/fleet/core"
	"github.com/infraforge/fleet/events"
	"github.com/infraforge/fleet/ratelimit"
	"github.com/infraforge/fleet/resilience"
	"github.com/infraforge/fleet/store"
)

// cancelGracePeriod bounds how long the engine waits for an in-flight node
// to honour a cancellation signal before abandoning it (§4.5 Cancellation;
// §5 "nodes must honour cancellation ... or be abandoned"). It is engine-
// internal rather than configurable since no operator-facing knob for it is
// exposed anywhere in the external interface surface.
const cancelGracePeriod = 15 * time.Second

// AgentOutput is the uniform shape every agent node dispatch produces,
// whether from a live call or a fallback substitution (§4.5 agent node
// contract).
type AgentOutput struct {
	Recommendations []core.Recommendation  `json:"recommendations"`
	Data            map[string]interface{} `json:"data"`
	ConfidenceScore float64                `json:"confidence_score"`
	Metrics         map[string]interface{} `json:"metrics"`
}

// AgentFunc is the capability every registered agent role implements: run
// once against the shared assessment context and either produce an
// AgentOutput or an error (handled upstream via resilientCall).
type AgentFunc func(ctx context.Context, assessment core.Assessment, sharedData map[string]interface{}) (AgentOutput, error)

// ProfessionalServiceFunc backs the professional-service node dispatch
// (compliance engine, cost modeller, report generator): opaque beyond
// {status, quality_score?, summary?} (§4.5).
type ProfessionalServiceFunc func(ctx context.Context, sharedData map[string]interface{}) (map[string]interface{}, error)

type registeredAgent struct {
	fn          AgentFunc
	coordinator *resilience.Coordinator
	fallback    func() AgentOutput
}

// Engine is the C12 workflow engine: DAG-driven node dispatch, checkpointed
// state, progress reporting, cancellation, and cleanup. Grounded on
// itsneelabh/gomind's orchestration/workflow_dag.go node-execution loop,
// generalized to the dispatch-by-node-type and dual-write checkpointing
// contract.
type Engine struct {
	cfg         core.EngineConfig
	checkpoints *CheckpointStore
	store       store.Store
	bus         *events.Bus
	clock       core.Clock
	idGen       core.IDGenerator
	logger      core.Logger

	mu           sync.Mutex
	agents       map[string]registeredAgent
	professional map[string]ProfessionalServiceFunc
	cancelFns    map[string]context.CancelFunc
}

func NewEngine(cfg core.EngineConfig, checkpoints *CheckpointStore, st store.Store, bus *events.Bus, clock core.Clock, idGen core.IDGenerator, logger core.Logger) *Engine {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if idGen == nil {
		idGen = core.UUIDGenerator{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Engine{
		cfg:          cfg,
		checkpoints:  checkpoints,
		store:        st,
		bus:          bus,
		clock:        clock,
		idGen:        idGen,
		logger:       core.ComponentLogger(logger, "framework/workflow"),
		agents:       make(map[string]registeredAgent),
		professional: make(map[string]ProfessionalServiceFunc),
		cancelFns:    make(map[string]context.CancelFunc),
	}
}

// RegisterAgent binds an agent role's implementation, its resilience
// coordinator (rate limit/circuit breaker/retry/fallback), and the
// deterministic fallback structure substituted when every resilient attempt
// is exhausted (§4.5: "substitutes a deterministic fallback structure
// specific to the agent role so the workflow continues").
func (e *Engine) RegisterAgent(role string, fn AgentFunc, coordinator *resilience.Coordinator, fallback func() AgentOutput) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[role] = registeredAgent{fn: fn, coordinator: coordinator, fallback: fallback}
}

// RegisterProfessionalService binds a named professional-service
// implementation (compliance engine, cost modeller, report generator, …).
func (e *Engine) RegisterProfessionalService(name string, fn ProfessionalServiceFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.professional[name] = fn
}

// CreateWorkflow assembles the initial WorkflowState for an assessment and
// persists it (graph assembly, §4.5). It does not start execution; call Run
// to drive it.
func (e *Engine) CreateWorkflow(ctx context.Context, assessment core.Assessment, nodes []core.Node) (string, error) {
	nodeMap := make(map[string]*core.Node, len(nodes))
	for i := range nodes {
		n := nodes[i]
		nodeMap[n.ID] = &n
	}

	ws := core.WorkflowState{
		WorkflowID:   e.idGen.NewID(),
		AssessmentID: assessment.ID,
		Assessment:   assessment,
		SharedData:   make(map[string]interface{}),
		Nodes:        nodeMap,
		NodeResults:  make(map[string]core.NodeResult),
		Status:       core.WorkflowInitialized,
		StartTime:    e.clock.Now(),
	}

	if err := e.checkpoints.Save(ctx, ws); err != nil {
		return "", err
	}
	return ws.WorkflowID, nil
}

func buildDAG(ws core.WorkflowState) *DAG {
	dag := NewDAG()
	for id, n := range ws.Nodes {
		dag.AddNode(id, n.Dependencies)
	}
	for id, res := range ws.NodeResults {
		dag.SeedStatus(id, res.Status)
	}
	dag.ResetPending()
	return dag
}

// Run drives a workflow's DAG to completion or cancellation, checkpointing
// after every node transition.
func (e *Engine) Run(parentCtx context.Context, workflowID string) error {
	ws, err := e.checkpoints.Load(parentCtx, workflowID)
	if err != nil {
		return err
	}

	dag := buildDAG(ws)
	if err := dag.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parentCtx)
	e.mu.Lock()
	e.cancelFns[workflowID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancelFns, workflowID)
		e.mu.Unlock()
		cancel()
	}()

	var wsMu sync.Mutex

	if ws.Status == core.WorkflowInitialized {
		ws.Status = core.WorkflowRunning
		wsMu.Lock()
		e.checkpoint(ctx, &ws)
		wsMu.Unlock()
		if e.bus != nil {
			_ = e.bus.Emit(ctx, core.EventWorkflowStarted, map[string]interface{}{"workflow_id": workflowID})
		}
	}

	cancelled := false
	for !dag.IsComplete() {
		if ctx.Err() != nil {
			cancelled = true
			e.abandonRemaining(&wsMu, &ws, dag)
			break
		}

		ready := dag.GetReadyNodes()
		if len(ready) == 0 {
			break
		}

		bound := e.cfg.MaxParallelNodes
		if bound <= 0 {
			bound = 1
		}
		sem := make(chan struct{}, bound)
		var wg sync.WaitGroup
		for _, id := range ready {
			id := id
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				e.runNode(ctx, &wsMu, &ws, dag, id)
			}()
		}

		batchDone := make(chan struct{})
		go func() { wg.Wait(); close(batchDone) }()
		select {
		case <-batchDone:
		case <-ctx.Done():
			// Give in-flight nodes a chance to honour cancellation at their
			// next suspension point before abandoning them (§4.5/§5).
			select {
			case <-batchDone:
			case <-time.After(cancelGracePeriod):
			}
		}
	}

	// A cancelled run's context is already Done; persist the final
	// checkpoint on a detached context so the write itself isn't aborted.
	finalCtx := ctx
	if cancelled {
		finalCtx = context.Background()
	}
	wsMu.Lock()
	if cancelled {
		e.finalizeCancelled(finalCtx, &ws)
	} else {
		e.finalize(finalCtx, &ws, dag)
	}
	wsMu.Unlock()
	return nil
}

// Cancel requests cancellation of a running workflow (§4.5 Cancellation).
// The signal propagates to every in-flight node's context; nodes that do
// not complete within cancelGracePeriod are abandoned by the Run loop.
func (e *Engine) Cancel(ctx context.Context, workflowID string) (bool, error) {
	e.mu.Lock()
	cancel, ok := e.cancelFns[workflowID]
	e.mu.Unlock()
	if !ok {
		return false, nil
	}

	ws, err := e.checkpoints.Load(ctx, workflowID)
	if err != nil {
		return false, err
	}
	if ws.Status.IsTerminal() {
		return false, nil
	}
	ws.Status = core.WorkflowCancelled
	ws.EndTime = e.clock.Now()
	if err := e.checkpoints.Save(ctx, ws); err != nil {
		return false, err
	}
	cancel()
	return true, nil
}

// ResumeAll reloads every non-terminal workflow from the store and resumes
// it, requeuing RUNNING nodes as PENDING per the crash-resume contract.
// Intended to be called once at process startup.
func (e *Engine) ResumeAll(ctx context.Context) error {
	all, err := e.store.ListWorkflowStates(ctx, 0)
	if err != nil {
		return fmt.Errorf("list workflow states for resume: %w", err)
	}
	for _, ws := range all {
		if ws.Status.IsTerminal() {
			continue
		}
		id := ws.WorkflowID
		go func() {
			if err := e.Run(context.Background(), id); err != nil {
				e.logger.Error("resumed workflow run failed", map[string]interface{}{"workflow_id": id, "error": err.Error()})
			}
		}()
	}
	return nil
}

// Cleanup removes terminal workflow records older than the configured
// retention window (§4.5 Cleanup).
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	maxAge := time.Duration(e.cfg.WorkflowCleanupMaxAgeHours) * time.Hour
	return e.checkpoints.CleanupOlderThan(ctx, maxAge)
}

// abandonRemaining force-cancels every node the DAG still has PENDING or
// RUNNING once the run loop observes a cancelled context; any node still
// RUNNING at this point already had cancelGracePeriod to finish inside the
// batch wait that detected the cancellation.
func (e *Engine) abandonRemaining(wsMu *sync.Mutex, ws *core.WorkflowState, dag *DAG) {
	wsMu.Lock()
	defer wsMu.Unlock()
	for id := range ws.Nodes {
		node, ok := dag.Node(id)
		if !ok {
			continue
		}
		if node.Status == core.NodePending || node.Status == core.NodeRunning {
			dag.SeedStatus(id, core.NodeCancelled)
			ws.NodeResults[id] = core.NodeResult{Status: core.NodeCancelled, CompletedAt: e.clock.Now()}
		}
	}
}

func (e *Engine) runNode(ctx context.Context, wsMu *sync.Mutex, ws *core.WorkflowState, dag *DAG, id string) {
	wsMu.Lock()
	node := ws.Nodes[id]
	dag.MarkRunning(id)
	ws.NodeResults[id] = core.NodeResult{Status: core.NodeRunning}
	e.checkpoint(ctx, ws)
	wsMu.Unlock()

	start := e.clock.Now()
	nodeCtx := ctx
	var cancel context.CancelFunc
	if node.Timeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, node.Timeout)
		defer cancel()
	}

	var result core.NodeResult
	switch node.Type {
	case core.NodeTypeAgent:
		result = e.runAgentNode(nodeCtx, ws, node)
	case core.NodeTypeSynthesis:
		result = e.runSynthesisNode(ws, node)
	case core.NodeTypeProfessionalService:
		result = e.runProfessionalServiceNode(nodeCtx, ws, node)
	case core.NodeTypeValidation:
		result = e.runValidationNode(ws, node)
	case core.NodeTypeDecision:
		result = e.runDecisionNode(ws, node)
	default:
		result = core.NodeResult{Status: core.NodeFailed, Error: fmt.Sprintf("unknown node type %q", node.Type)}
	}
	result.ExecutionTime = e.clock.Now().Sub(start)
	result.CompletedAt = e.clock.Now()

	if ctx.Err() != nil {
		// A cancelled context always wins over a tolerance-driven COMPLETED
		// substitution: the node was abandoned mid-flight, not recovered.
		result.Status = core.NodeCancelled
	}

	wsMu.Lock()
	ws.NodeResults[id] = result
	if result.Status == core.NodeCompleted {
		dag.MarkCompleted(id)
		ws.CompletedAgents = appendUnique(ws.CompletedAgents, node.Name)
	} else if result.Status == core.NodeCancelled {
		dag.SeedStatus(id, core.NodeCancelled)
	} else {
		dag.MarkFailed(id, e.cfg.ErrorTolerance == core.ErrorToleranceLow)
		ws.FailedAgents = appendUnique(ws.FailedAgents, node.Name)
	}
	e.appendMessage(ws, fmt.Sprintf("node %s (%s) -> %s", id, node.Name, result.Status))
	e.bumpProgress(ws, dag)
	e.checkpoint(ctx, ws)
	wsMu.Unlock()
}

func (e *Engine) runAgentNode(ctx context.Context, ws *core.WorkflowState, node *core.Node) core.NodeResult {
	role, _ := node.Config["role"].(string)
	e.mu.Lock()
	agent, ok := e.agents[role]
	e.mu.Unlock()
	if !ok {
		return core.NodeResult{Status: core.NodeFailed, Error: fmt.Sprintf("no agent registered for role %q", role)}
	}

	if e.bus != nil {
		_ = e.bus.Emit(ctx, core.EventAgentStarted, map[string]interface{}{
			"workflow_id": ws.WorkflowID, "step_id": node.ID, "role": role,
		})
	}

	fallbackKey := "agent:" + role
	var defaultData interface{}
	if agent.fallback != nil {
		defaultData = outputToMap(agent.fallback())
	}

	var out map[string]interface{}
	var outcome resilience.Outcome
	var err error
	if agent.coordinator != nil {
		outcome, err = agent.coordinator.Call(ctx, ratelimit.ScopeGlobal, role, fallbackKey, defaultData, &out, func(callCtx context.Context) (interface{}, error) {
			return agent.fn(callCtx, ws.Assessment, ws.SharedData)
		})
	} else {
		var direct AgentOutput
		direct, err = agent.fn(ctx, ws.Assessment, ws.SharedData)
		outcome = resilience.Outcome{Data: direct}
	}

	// A response served by the coordinator's fallback chain still counts as
	// a failed call, like a direct failure with a substituted fallback.
	success := err == nil && outcome.Strategy == ""
	output := normalizeAgentOutput(outcome.Data)
	if err != nil {
		success = false
		if agent.fallback != nil {
			output = agent.fallback()
		}
	}

	if e.bus != nil {
		_ = e.bus.Emit(ctx, core.EventAgentCompleted, map[string]interface{}{
			"workflow_id": ws.WorkflowID, "step_id": node.ID, "role": role, "success": success, "degraded": outcome.Degraded,
		})
		if !success {
			_ = e.bus.Emit(ctx, core.EventAgentFailed, map[string]interface{}{"workflow_id": ws.WorkflowID, "step_id": node.ID, "role": role})
		}
	}

	// progressive save: persist this node's recommendations (live, or the
	// substituted fallback's) as soon as it finishes so results survive a
	// later node's failure (§4.5).
	for _, rec := range output.Recommendations {
		rec.AssessmentID = ws.AssessmentID
		if rec.AgentName == "" {
			rec.AgentName = role
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = e.clock.Now()
		}
		if saveErr := e.store.SaveRecommendation(ctx, rec); saveErr != nil {
			e.logger.Warn("progressive save of recommendation failed", map[string]interface{}{"workflow_id": ws.WorkflowID, "role": role, "error": saveErr.Error()})
		}
	}

	// The node's own status always reflects what actually happened: FAILED
	// once every attempt (and any fallback) is exhausted. Tolerance governs
	// whether that failure cascades to dependents and the workflow's final
	// status, not whether the node itself gets to claim success.
	status := core.NodeCompleted
	if !success {
		status = core.NodeFailed
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return core.NodeResult{
		Status:          status,
		Recommendations: output.Recommendations,
		Data:            output.Data,
		ConfidenceScore: output.ConfidenceScore,
		Metrics:         output.Metrics,
		Error:           errMsg,
	}
}

func (e *Engine) runSynthesisNode(ws *core.WorkflowState, node *core.Node) core.NodeResult {
	var all []core.Recommendation
	var sum float64
	var n int
	byCategory := make(map[string][]core.Recommendation)

	for _, dep := range node.Dependencies {
		res, ok := ws.NodeResults[dep]
		if !ok || (res.Status != core.NodeCompleted) {
			continue
		}
		all = append(all, res.Recommendations...)
		if res.ConfidenceScore > 0 {
			sum += res.ConfidenceScore
			n++
		}
		for _, rec := range res.Recommendations {
			byCategory[rec.Category] = append(byCategory[rec.Category], rec)
		}
	}

	overallConfidence := 0.0
	if n > 0 {
		overallConfidence = sum / float64(n)
	}

	grouped := make(map[string]int, len(byCategory))
	for cat, recs := range byCategory {
		grouped[cat] = len(recs)
	}

	synthesis := map[string]interface{}{
		"overall_confidence":  overallConfidence,
		"recommendation_count": len(all),
		"by_category":         grouped,
	}
	ws.SharedData["synthesis:"+node.ID] = synthesis

	return core.NodeResult{
		Status:          core.NodeCompleted,
		Recommendations: all,
		Data:            synthesis,
		ConfidenceScore: overallConfidence,
	}
}

func (e *Engine) runProfessionalServiceNode(ctx context.Context, ws *core.WorkflowState, node *core.Node) core.NodeResult {
	name, _ := node.Config["service"].(string)
	e.mu.Lock()
	fn, ok := e.professional[name]
	e.mu.Unlock()
	if !ok {
		return core.NodeResult{Status: core.NodeFailed, Error: fmt.Sprintf("no professional service registered for %q", name)}
	}

	data, err := fn(ctx, ws.SharedData)
	if err != nil {
		if e.cfg.ErrorTolerance == core.ErrorToleranceLow {
			return core.NodeResult{Status: core.NodeFailed, Error: err.Error()}
		}
		return core.NodeResult{Status: core.NodeCompleted, Error: err.Error()}
	}
	return core.NodeResult{Status: core.NodeCompleted, Data: data}
}

func (e *Engine) runValidationNode(ws *core.WorkflowState, node *core.Node) core.NodeResult {
	threshold := 0.6
	if v, ok := node.Config["quality_threshold"].(float64); ok {
		threshold = v
	}

	var sum float64
	var n int
	var notes []string
	for _, dep := range node.Dependencies {
		res, ok := ws.NodeResults[dep]
		if !ok {
			continue
		}
		if res.ConfidenceScore > 0 {
			sum += res.ConfidenceScore
			n++
		}
		if res.Status != core.NodeCompleted {
			notes = append(notes, fmt.Sprintf("%s did not complete successfully", dep))
		}
	}

	quality := 0.0
	if n > 0 {
		quality = sum / float64(n)
	}
	if quality < threshold {
		notes = append(notes, fmt.Sprintf("aggregate quality %.2f below threshold %.2f", quality, threshold))
	}

	// Validation is advisory: it never fails the workflow by itself (§4.5).
	return core.NodeResult{
		Status:          core.NodeCompleted,
		ConfidenceScore: quality,
		Data: map[string]interface{}{
			"quality_score": quality,
			"notes":         notes,
		},
	}
}

func (e *Engine) runDecisionNode(ws *core.WorkflowState, node *core.Node) core.NodeResult {
	// Reserved for future branching (§4.5): records the configured
	// branches as a pass-through decision with no selection logic yet.
	branches, _ := node.Config["branches"].([]interface{})
	return core.NodeResult{
		Status: core.NodeCompleted,
		Data:   map[string]interface{}{"branches": branches},
	}
}

// finalizeCancelled persists the CANCELLED terminal status once the run
// loop abandons a workflow following a cancel request (§4.5 Cancellation).
func (e *Engine) finalizeCancelled(ctx context.Context, ws *core.WorkflowState) {
	ws.Status = core.WorkflowCancelled
	ws.EndTime = e.clock.Now()
	e.checkpoint(ctx, ws)
	if e.bus != nil {
		_ = e.bus.Emit(ctx, core.EventWorkflowFailed, map[string]interface{}{"workflow_id": ws.WorkflowID, "status": string(core.WorkflowCancelled)})
	}
}

func (e *Engine) finalize(ctx context.Context, ws *core.WorkflowState, dag *DAG) {
	if ws.Status.IsTerminal() {
		e.checkpoint(ctx, ws)
		return
	}

	finalStatus := core.WorkflowCompleted
	if dag.HasFailure() && e.cfg.ErrorTolerance == core.ErrorToleranceLow {
		finalStatus = core.WorkflowFailed
	}
	if dag.HasFailure() {
		ws.Error = fmt.Sprintf("%d node(s) failed", len(ws.FailedAgents))
	}

	ws.Status = finalStatus
	ws.EndTime = e.clock.Now()
	ws.Progress.UpdatedAt = e.clock.Now()
	ws.Assessment.CompletionPercentage = 100
	ws.Progress.CompletedSteps = ws.Progress.TotalSteps

	e.checkpoint(ctx, ws)

	if e.bus != nil {
		evtType := core.EventWorkflowCompleted
		if finalStatus == core.WorkflowFailed {
			evtType = core.EventWorkflowFailed
		}
		_ = e.bus.Emit(ctx, evtType, map[string]interface{}{"workflow_id": ws.WorkflowID, "status": string(finalStatus)})
	}
}

// bumpProgress enforces the monotonic-maximum invariant on completion
// percentage (§4.5 Progress).
func (e *Engine) bumpProgress(ws *core.WorkflowState, dag *DAG) {
	stats := dag.Statistics()
	total := stats.TotalNodes
	done := stats.CompletedNodes + stats.FailedNodes + stats.SkippedNodes
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(done) / float64(total)
	}
	ws.Assessment.CompletionPercentage = math.Max(ws.Assessment.CompletionPercentage, pct)
	ws.Progress.CompletedSteps = int(math.Max(float64(ws.Progress.CompletedSteps), float64(done)))
	ws.Progress.TotalSteps = total
	ws.Progress.UpdatedAt = e.clock.Now()

	if e.bus != nil {
		_ = e.bus.Emit(context.Background(), core.EventWorkflowProgress, map[string]interface{}{
			"workflow_id": ws.WorkflowID, "percent": ws.Assessment.CompletionPercentage,
		})
	}
}

func (e *Engine) appendMessage(ws *core.WorkflowState, text string) {
	ws.Messages = append(ws.Messages, core.WorkflowMessage{Timestamp: e.clock.Now(), Level: "info", Text: text})
	if len(ws.Messages) > core.MaxWorkflowMessages {
		ws.Messages = ws.Messages[len(ws.Messages)-core.MaxWorkflowMessages:]
	}
}

// checkpoint persists ws; transient errors are retried once before being
// logged (§4.5 Progress: "transient persistence errors are retried once
// before being logged").
func (e *Engine) checkpoint(ctx context.Context, ws *core.WorkflowState) {
	if err := e.checkpoints.Save(ctx, *ws); err != nil {
		if retryErr := e.checkpoints.Save(ctx, *ws); retryErr != nil {
			e.logger.Error("workflow checkpoint persist failed", map[string]interface{}{"workflow_id": ws.WorkflowID, "error": retryErr.Error()})
		}
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func outputToMap(o AgentOutput) map[string]interface{} {
	return map[string]interface{}{
		"recommendations":  o.Recommendations,
		"data":             o.Data,
		"confidence_score": o.ConfidenceScore,
		"metrics":          o.Metrics,
	}
}

// normalizeAgentOutput accepts either a live AgentOutput or the generic
// map[string]interface{} shape produced by the fallback chain (default
// data, or a JSON-decoded recent/stale cache snapshot) and reduces both to
// one AgentOutput. Recommendations are recovered only from the in-process
// shapes; in a JSON-decoded snapshot they are generic values and are dropped.
func normalizeAgentOutput(v interface{}) AgentOutput {
	switch val := v.(type) {
	case AgentOutput:
		return val
	case *AgentOutput:
		if val != nil {
			return *val
		}
	case map[string]interface{}:
		out := AgentOutput{}
		if data, ok := val["data"].(map[string]interface{}); ok {
			out.Data = data
		}
		if cs, ok := val["confidence_score"].(float64); ok {
			out.ConfidenceScore = cs
		}
		if m, ok := val["metrics"].(map[string]interface{}); ok {
			out.Metrics = m
		}
		if recs, ok := val["recommendations"].([]core.Recommendation); ok {
			out.Recommendations = recs
		}
		return out
	case *map[string]interface{}:
		if val != nil {
			return normalizeAgentOutput(*val)
		}
	}
	return AgentOutput{}
}

