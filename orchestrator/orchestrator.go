// Package orchestrator implements the Orchestrator (spec.md §4.1): it owns
// a Workflow from submission to terminal state, driving Progressive
// Discovery's phase machine and wiring the Strategic Planner, the Dynamic
// Test Tree, the Execution Engine, and the Restraint/Approval subsystem
// together, while emitting the documented event vocabulary and decision
// log entries.
//
// It lives outside the workflow package deliberately: workflow defines the
// Workflow aggregate and is imported by discovery, planner, and restraint,
// so the orchestration logic that depends on all of them cannot also live
// inside workflow without an import cycle.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cartpry/pentestorch/audit"
	"github.com/cartpry/pentestorch/catalog"
	"github.com/cartpry/pentestorch/discovery"
	"github.com/cartpry/pentestorch/errs"
	"github.com/cartpry/pentestorch/eventbus"
	"github.com/cartpry/pentestorch/execution"
	"github.com/cartpry/pentestorch/planner"
	"github.com/cartpry/pentestorch/restraint"
	"github.com/cartpry/pentestorch/tree"
	"github.com/cartpry/pentestorch/workflow"
)

var (
	errWorkflowCancelled    = errors.New("workflow cancelled")
	errWorkflowDeadline     = errors.New("workflow deadline exceeded")
)

// defaultTools is the tool list advertised to the planner when the
// catalogue is operating in permissive mode (no catalogue file loaded).
var defaultTools = []string{
	"subdomain-scanner", "port-scanner", "tech-fingerprint", "directory-bruteforce",
	"header-analyzer", "ssl-checker", "injection", "api-fuzzer", "jwt-analyzer",
}

type workflowEntry struct {
	wf     *workflow.Workflow
	cancel context.CancelCauseFunc
}

// Orchestrator is the process-wide owner of every in-flight Workflow.
type Orchestrator struct {
	mu        sync.Mutex
	workflows map[string]*workflowEntry

	driver    *discovery.Driver
	plan      *planner.Planner
	engine    *execution.Engine
	approvals *restraint.Subsystem
	rules     *restraint.Engine
	bus       eventbus.Bus
	decisions audit.Store
	catalog   *catalog.Catalog

	concurrency      int
	approvalTimeouts map[restraint.ApprovalType]time.Duration
}

// New builds an Orchestrator from its already-constructed collaborators.
func New(
	driver *discovery.Driver,
	plan *planner.Planner,
	engine *execution.Engine,
	approvals *restraint.Subsystem,
	rules *restraint.Engine,
	bus eventbus.Bus,
	decisions audit.Store,
	cat *catalog.Catalog,
	concurrency int,
	approvalTimeouts map[restraint.ApprovalType]time.Duration,
) *Orchestrator {
	if concurrency < 1 {
		concurrency = 3
	}
	if approvalTimeouts == nil {
		approvalTimeouts = map[restraint.ApprovalType]time.Duration{}
	}
	return &Orchestrator{
		workflows:        make(map[string]*workflowEntry),
		driver:           driver,
		plan:             plan,
		engine:           engine,
		approvals:        approvals,
		rules:            rules,
		bus:              bus,
		decisions:        decisions,
		catalog:          cat,
		concurrency:      concurrency,
		approvalTimeouts: approvalTimeouts,
	}
}

// Submit validates a submission, creates the Workflow in status "pending",
// and begins asynchronous execution (spec.md §4.1 "submit").
func (o *Orchestrator) Submit(ctx context.Context, target, intent string, constraints workflow.Constraints) (string, error) {
	if err := workflow.ValidateTarget(target); err != nil {
		return "", err
	}
	if intent == "" {
		return "", &errs.ValidationError{Field: "userIntent", Reason: "must not be empty"}
	}
	norm, err := constraints.Normalize()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	wf := workflow.New(id, target, intent, norm)

	runCtx, cancel := context.WithCancelCause(context.Background())
	o.mu.Lock()
	o.workflows[id] = &workflowEntry{wf: wf, cancel: cancel}
	o.mu.Unlock()

	o.publish(ctx, eventbus.WorkflowStart, id, nil)
	go o.executeWorkflow(runCtx, cancel, wf)

	return id, nil
}

// Status returns the current snapshot for workflowID (spec.md §6 "Status").
func (o *Orchestrator) Status(workflowID string) (workflow.Snapshot, error) {
	entry, ok := o.lookup(workflowID)
	if !ok {
		return workflow.Snapshot{}, errs.ErrWorkflowNotFound
	}
	return entry.wf.Snapshot(), nil
}

// Cancel cooperatively cancels a workflow: in-flight nodes observe context
// cancellation, and any pending approvals are denied (spec.md §4.1
// "cancel").
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	entry, ok := o.lookup(workflowID)
	if !ok {
		return errs.ErrWorkflowNotFound
	}
	entry.cancel(errWorkflowCancelled)
	o.approvals.DenyAllPending(ctx, workflowID, "workflow cancelled")
	return nil
}

// ProcessApproval resolves a pending approval request (spec.md §6
// "Approval").
func (o *Orchestrator) ProcessApproval(ctx context.Context, approvalID string, res restraint.Resolution) (restraint.Request, error) {
	return o.approvals.ProcessApproval(ctx, approvalID, res)
}

func (o *Orchestrator) lookup(workflowID string) (*workflowEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.workflows[workflowID]
	return e, ok
}

// executeWorkflow drives phases in order {recon, analyze, exploit},
// consulting the Planner and running the Dynamic Test Tree for each,
// exactly as spec.md §4.1's "executeWorkflow" describes.
func (o *Orchestrator) executeWorkflow(ctx context.Context, cancel context.CancelCauseFunc, wf *workflow.Workflow) {
	wf.SetStatus(workflow.StatusRunning)

	if wf.Constraints.TimeLimit > 0 {
		timer := time.AfterFunc(wf.Constraints.TimeLimit, func() { cancel(errWorkflowDeadline) })
		defer timer.Stop()
	}
	defer cancel(nil)

	phase := discovery.Initial()
	var completedTests []string
	var exploitPreview *planner.Outcome

	for {
		wf.SetPhase(phase)
		o.publish(ctx, eventbus.WorkflowPhaseStart, wf.ID, phase)
		startedAt := time.Now()

		sc := planner.StrategyContext{
			WorkflowID:      wf.ID,
			Target:          wf.Target,
			UserIntent:      wf.UserIntent,
			CurrentFindings: wf.FindingsSnapshot(),
			CompletedTests:  completedTests,
			AvailableTools:  o.availableTools(),
			Phase:           phase,
			Constraints:     wf.Constraints,
		}

		var outcome planner.Outcome
		if phase == workflow.PhaseExploit && exploitPreview != nil {
			outcome = *exploitPreview
		} else {
			outcome = o.plan.Plan(ctx, sc)
		}

		gate := discovery.GateStatus{Needed: false, Obtained: true}
		if phase == workflow.PhaseAnalyze {
			preview := sc
			preview.Phase = workflow.PhaseExploit
			previewOutcome := o.plan.Plan(ctx, preview)
			exploitPreview = &previewOutcome
			gate = o.resolveGate(ctx, wf, previewOutcome)
		}

		result := o.runTree(ctx, wf, sc, outcome.Strategy.Recommendations)

		var newFindings []workflow.Finding
		for _, id := range result.Order {
			if n := result.Nodes[id]; n.Result != nil {
				newFindings = append(newFindings, n.Result.Findings...)
			}
			completedTests = append(completedTests, result.Nodes[id].Tool)
		}
		wf.AppendFindings(newFindings...)
		wf.SetNodeProgress(len(result.Order)-len(result.Skipped)-len(result.Failed), len(result.Order))

		dres := discovery.Result{
			Phase:       phase,
			NodeResults: result.Order,
			Summary:     summarize(newFindings),
			Reasoning:   outcome.Strategy.Reasoning,
		}
		dec := o.driver.Next(dres, wf.Constraints, gate)
		wf.AppendPhase(discovery.BuildPhase(dres, startedAt, dec))
		o.publish(ctx, eventbus.WorkflowPhaseComplete, wf.ID, dec)

		if ctx.Err() != nil {
			o.finishOnCancellation(ctx, wf)
			return
		}
		if dec.Terminal {
			wf.Finish(workflow.StatusCompleted, false, "")
			o.publish(ctx, eventbus.WorkflowCompleted, wf.ID, nil)
			return
		}
		phase = dec.Next
	}
}

func (o *Orchestrator) finishOnCancellation(ctx context.Context, wf *workflow.Workflow) {
	if errors.Is(context.Cause(ctx), errWorkflowCancelled) {
		wf.Finish(workflow.StatusCancelled, false, "")
		o.publish(ctx, eventbus.WorkflowCancelled, wf.ID, nil)
		return
	}
	// Deadline exceeded: the workflow still completes, flagged truncated
	// (spec.md §4.1 "Failure semantics").
	wf.Finish(workflow.StatusCompleted, true, "")
	o.publish(ctx, eventbus.WorkflowCompleted, wf.ID, nil)
}

// resolveGate previews the exploit phase's candidate recommendations and,
// if any requires a gating approval, blocks on a phase-transition Approval
// Request before allowing analyze → exploit (spec.md §4.2).
func (o *Orchestrator) resolveGate(ctx context.Context, wf *workflow.Workflow, preview planner.Outcome) discovery.GateStatus {
	needed := false
	for _, rec := range preview.Strategy.Recommendations {
		if rec.RequiresAuth || rec.Priority == "critical" {
			needed = true
			break
		}
	}
	if !needed {
		return discovery.GateStatus{Needed: false, Obtained: true}
	}

	resultCh := make(chan bool, 1)
	timeout := o.approvalTimeouts[restraint.ApprovalPhaseTransition]
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	o.approvals.Request(ctx, wf.ID, restraint.ApprovalPhaseTransition, restraint.RequestContext{
		Target: wf.Target,
		Test:   "analyze-to-exploit",
		Phase:  string(workflow.PhaseExploit),
		Reason: "exploit-phase candidates include a requiresAuth or critical-priority step",
	}, restraint.RequestMetadata{}, timeout, func(req restraint.Request) {
		resultCh <- req.Status == restraint.ApprovalApproved
	})

	select {
	case approved := <-resultCh:
		return discovery.GateStatus{Needed: true, Obtained: approved}
	case <-ctx.Done():
		return discovery.GateStatus{Needed: true, Obtained: false}
	}
}

// runTree builds an Executor for the current phase and drives it to
// completion, wiring the tree's dispatch hooks to the Execution Engine,
// the Restraint rule set, the Approval subsystem, and planner-driven
// adaptation.
func (o *Orchestrator) runTree(ctx context.Context, wf *workflow.Workflow, sc planner.StrategyContext, steps []planner.AttackStep) *tree.Result {
	exec := tree.NewExecutor(
		wf.Constraints.Environment,
		o.concurrency,
		o.executeFunc(wf),
		o.rules.Evaluate,
		o.approvalFunc(wf),
		o.adaptFunc(wf, sc),
	)
	o.publish(ctx, eventbus.TreeBuilt, wf.ID, len(steps))
	result, _ := exec.Run(ctx, steps)
	o.publishDecisionLog(ctx, wf.ID, result.DecisionLog)
	return result
}

// publishDecisionLog re-emits the tree's per-node dispatch decisions as
// node:decision events carrying an audit.EntryPayload, so the Audit
// subscriber persists them alongside the Planner's directly-appended
// entries (spec.md §4.7 "the Audit component subscribes to decision
// events").
func (o *Orchestrator) publishDecisionLog(ctx context.Context, workflowID string, log []tree.DecisionLogEntry) {
	for _, entry := range log {
		o.publish(ctx, eventbus.NodeDecision, workflowID, audit.EntryPayload{
			Type: audit.DecisionRestraint,
			Input: map[string]any{
				"nodeId": entry.NodeID,
			},
			Output: audit.Decision{
				Outcome:   entry.Decision,
				Reasoning: entry.Reason,
			},
		})
	}
}

func (o *Orchestrator) executeFunc(wf *workflow.Workflow) tree.ExecuteFunc {
	return func(ctx context.Context, n *tree.Node) (tree.NodeResult, error) {
		res := o.engine.Execute(ctx, execution.Spec{
			NodeID:       n.ID,
			Tool:         n.Tool,
			Target:       n.Target,
			Parameters:   n.Parameters,
			RequiresAuth: n.RequiresAuth,
			Priority:     n.Priority,
			Environment:  wf.Constraints.Environment,
		})
		status := tree.StatusCompleted
		if res.Status == "failed" {
			status = tree.StatusFailed
		}
		return tree.NodeResult{Status: status, Findings: res.Findings, Error: res.Error, Output: res.Output, Warnings: res.Warnings}, nil
	}
}

func (o *Orchestrator) approvalFunc(wf *workflow.Workflow) tree.ApprovalFunc {
	return func(ctx context.Context, n *tree.Node, v restraint.Verdict) bool {
		resultCh := make(chan bool, 1)
		timeout := o.approvalTimeouts[restraint.ApprovalTestExecution]
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		o.approvals.Request(ctx, wf.ID, restraint.ApprovalTestExecution, restraint.RequestContext{
			Target:   n.Target,
			Test:     n.Tool,
			Phase:    string(wf.Phase()),
			Severity: verdictSeverity(v),
			Reason:   v.Reason,
		}, restraint.RequestMetadata{}, timeout, func(req restraint.Request) {
			resultCh <- req.Status == restraint.ApprovalApproved
		})
		select {
		case approved := <-resultCh:
			return approved
		case <-ctx.Done():
			return false
		}
	}
}

func (o *Orchestrator) adaptFunc(wf *workflow.Workflow, sc planner.StrategyContext) tree.AdaptFunc {
	return func(ctx context.Context, newFindings []workflow.Finding) []planner.AttackStep {
		ids := make([]string, 0, len(newFindings))
		for _, f := range newFindings {
			ids = append(ids, f.Type+"@"+f.Target)
		}
		adaptCtx := sc
		adaptCtx.CurrentFindings = wf.FindingsSnapshot()
		outcome := o.plan.AdaptStrategy(ctx, adaptCtx, ids)
		return outcome.Strategy.Recommendations
	}
}

func (o *Orchestrator) availableTools() []string {
	if o.catalog != nil && o.catalog.Present() {
		names := o.catalog.Names()
		if len(names) > 0 {
			return names
		}
	}
	return defaultTools
}

func (o *Orchestrator) publish(ctx context.Context, typ eventbus.Type, workflowID string, payload any) {
	if o.bus == nil {
		return
	}
	_ = o.bus.Publish(ctx, eventbus.New(typ, workflowID, payload))
}

func verdictSeverity(v restraint.Verdict) string {
	if v.Severity != "" {
		return v.Severity
	}
	return "medium"
}

func summarize(findings []workflow.Finding) workflow.FindingSummary {
	s := workflow.FindingSummary{Total: len(findings), BySeverity: map[workflow.Severity]int{}}
	for _, f := range findings {
		s.BySeverity[f.Severity]++
	}
	return s
}
