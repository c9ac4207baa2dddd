package tree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cartpry/pentestorch/planner"
	"github.com/cartpry/pentestorch/restraint"
	"github.com/cartpry/pentestorch/workflow"
)

const (
	pollInterval       = time.Second
	maxAdaptationsPerBatch = 3
)

// ExecuteFunc dispatches a single eligible node to the Execution Engine.
type ExecuteFunc func(ctx context.Context, n *Node) (NodeResult, error)

// RestraintFunc evaluates a node against the Restraint rule set.
type RestraintFunc func(c restraint.Candidate) restraint.Verdict

// ApprovalFunc blocks until a gated node's approval request resolves,
// reporting whether it was approved.
type ApprovalFunc func(ctx context.Context, n *Node, v restraint.Verdict) bool

// AdaptFunc asks the planner to adapt the strategy given a batch of new
// findings, returning follow-up steps to graft onto the tree (spec.md §4.4
// "Adaptation follow-ups").
type AdaptFunc func(ctx context.Context, newFindings []workflow.Finding) []planner.AttackStep

// DecisionLogEntry records a per-node dispatch decision (execute, skip, deny,
// retry) for the workflow's audit trail.
type DecisionLogEntry struct {
	NodeID    string
	Decision  string
	Reason    string
	Timestamp time.Time
}

// Result is the terminal record of a tree run.
type Result struct {
	Nodes       map[string]*Node
	Order       []string
	Skipped     []string
	Failed      []string
	Duration    time.Duration
	DecisionLog []DecisionLogEntry
}

// Executor runs the Dynamic Test Tree: an eligibility-scheduled, condition-
// and dependency-gated DAG of Nodes, dispatched to the Execution Engine at a
// bounded concurrency (spec.md §4.4).
type Executor struct {
	Environment     workflow.Environment
	Concurrency     int
	Execute         ExecuteFunc
	EvaluateRestraint RestraintFunc
	RequestApproval ApprovalFunc
	Adapt           AdaptFunc

	mu          sync.Mutex
	nodes       map[string]*Node
	order       []string
	decisionLog []DecisionLogEntry
	running     map[string]struct{}
	wake        chan struct{}
}

// NewExecutor builds an Executor. Concurrency below 1 defaults to 3
// (spec.md §4.5 "global concurrency semaphore, default 3").
func NewExecutor(env workflow.Environment, concurrency int, execute ExecuteFunc, restraintFn RestraintFunc, approve ApprovalFunc, adapt AdaptFunc) *Executor {
	if concurrency < 1 {
		concurrency = 3
	}
	return &Executor{
		Environment:       env,
		Concurrency:       concurrency,
		Execute:           execute,
		EvaluateRestraint: restraintFn,
		RequestApproval:   approve,
		Adapt:             adapt,
		nodes:             make(map[string]*Node),
		running:           make(map[string]struct{}),
		wake:              make(chan struct{}, 1),
	}
}

// Run seeds the tree from an initial Strategy's recommendations and drives
// it to completion: the first recommendation roots the tree; the rest
// either depend on earlier steps via dependsOn, or stand as parallel root
// branches when they declare none.
func (e *Executor) Run(ctx context.Context, steps []planner.AttackStep) (*Result, error) {
	started := time.Now()
	e.seed(steps)

	sem := make(chan struct{}, e.Concurrency)
	var wg sync.WaitGroup

	for {
		if ctx.Err() != nil {
			break
		}
		e.mu.Lock()
		eligible := e.eligibleLocked()
		done := len(e.running) == 0 && len(eligible) == 0 && e.noPendingLocked()
		e.mu.Unlock()
		if done {
			break
		}
		for _, id := range eligible {
			id := id
			e.markRunning(id)
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				e.dispatch(ctx, id)
				e.signal()
			}()
		}
		e.waitForSignalOrTimeout(ctx)
	}
	wg.Wait()

	if ctx.Err() != nil {
		e.markRemainingSkipped(ctx.Err().Error())
	}

	return e.buildResult(time.Since(started)), nil
}

// markRemainingSkipped transitions every still-pending node to skipped when
// the run is cut short by context cancellation (spec.md §5 "the Tree
// Executor ... marks remaining nodes 'skipped'"). Nodes already dispatched
// reach a terminal status through their own goroutine before wg.Wait()
// returns, so only StatusPending nodes are left to close out here.
func (e *Executor) markRemainingSkipped(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.order {
		n := e.nodes[id]
		if n.Status != StatusPending {
			continue
		}
		n.Status = StatusSkipped
		n.EndedAt = time.Now()
		n.Result = &NodeResult{Status: StatusSkipped, Error: "cancelled: " + reason}
		e.logLocked(id, "skip", "cancelled: "+reason)
	}
}

func (e *Executor) seed(steps []planner.AttackStep) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range steps {
		n := fromAttackStep(s, maxRetriesFor(s.Priority))
		e.nodes[n.ID] = n
		e.order = append(e.order, n.ID)
	}
}

// eligibleLocked returns pending node ids whose dependencies are satisfied
// and conditions hold, excluding nodes already dispatched. Caller must hold
// e.mu.
func (e *Executor) eligibleLocked() []string {
	results := e.resultsLocked()
	var out []string
	for _, id := range e.order {
		n := e.nodes[id]
		if n.Status != StatusPending {
			continue
		}
		if _, running := e.running[id]; running {
			continue
		}
		if !e.dependenciesSatisfiedLocked(n) {
			continue
		}
		if !evaluate(n.Conditions, results) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (e *Executor) dependenciesSatisfiedLocked(n *Node) bool {
	for _, dep := range n.DependsOn {
		d, ok := e.nodes[dep]
		if !ok {
			continue
		}
		switch d.Status {
		case StatusCompleted:
			continue
		case StatusSkipped, StatusFailed:
			n.Status = StatusSkipped
			n.Result = &NodeResult{Status: StatusSkipped, Error: fmt.Sprintf("dependency %s did not complete", dep)}
			e.logLocked(n.ID, "skip", "dependency "+dep+" was skipped or failed")
			return false
		default:
			return false
		}
	}
	return true
}

func (e *Executor) noPendingLocked() bool {
	for _, id := range e.order {
		if e.nodes[id].Status == StatusPending {
			return false
		}
	}
	return true
}

func (e *Executor) resultsLocked() map[string]*NodeResult {
	m := make(map[string]*NodeResult, len(e.nodes))
	for id, n := range e.nodes {
		if n.Result != nil {
			m[id] = n.Result
		}
	}
	return m
}

func (e *Executor) markRunning(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes[id].Status = StatusRunning
	e.nodes[id].StartedAt = time.Now()
	e.running[id] = struct{}{}
}

// dispatch runs the full per-node lifecycle: restraint evaluation, optional
// approval gate, parameter substitution, execution, and retry-on-failure
// (spec.md §4.4, §4.6).
func (e *Executor) dispatch(ctx context.Context, id string) {
	e.mu.Lock()
	n := e.nodes[id]
	byTool := firstCompletedByTool(e.nodes, e.order)
	e.mu.Unlock()

	verdict := e.EvaluateRestraint(restraint.Candidate{
		Tool:         n.Tool,
		Environment:  e.Environment,
		Target:       n.Target,
		Parameters:   n.Parameters,
		RequiresAuth: n.RequiresAuth,
		Priority:     n.Priority,
	})

	switch verdict.Decision {
	case restraint.DecisionDeny:
		e.finish(id, &NodeResult{Status: StatusSkipped, Error: "denied by restraint rules: " + verdict.Reason}, "deny", verdict.Reason)
		return
	case restraint.DecisionRequireApproval:
		if e.RequestApproval == nil || !e.RequestApproval(ctx, n, verdict) {
			e.finish(id, &NodeResult{Status: StatusSkipped, Error: "approval denied or unavailable: " + verdict.Reason}, "skip", "approval not granted")
			return
		}
	case restraint.DecisionApproveWithMitigations:
		n.Parameters = restraint.MergeMitigations(n.Parameters, verdict.Mitigations)
	}

	n.Parameters = substituteParameters(n.Parameters, byTool)
	e.logNode(id, "execute", "dispatched to execution engine")

	result, err := e.Execute(ctx, n)
	if err != nil {
		result = NodeResult{Status: StatusFailed, Error: err.Error()}
	}
	for _, w := range result.Warnings {
		e.logNode(id, "warning", w)
	}
	e.handleOutcome(ctx, id, result)
}

func (e *Executor) handleOutcome(ctx context.Context, id string, result NodeResult) {
	e.mu.Lock()
	n := e.nodes[id]
	e.mu.Unlock()

	if result.Status == StatusFailed && n.RetryCount < n.MaxRetries {
		e.mu.Lock()
		n.RetryCount++
		n.Status = StatusPending
		delete(e.running, id)
		e.logLocked(id, "retry", fmt.Sprintf("attempt %d/%d", n.RetryCount, n.MaxRetries))
		e.mu.Unlock()
		return
	}

	e.finish(id, &result, string(result.Status), result.Error)

	if len(result.Findings) > 0 && e.Adapt != nil {
		e.runAdaptation(ctx, id, result.Findings)
	}
}

func (e *Executor) runAdaptation(ctx context.Context, originID string, findings []workflow.Finding) {
	followups := e.Adapt(ctx, findings)
	if len(followups) > maxAdaptationsPerBatch {
		followups = followups[:maxAdaptationsPerBatch]
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, step := range followups {
		n := fromAttackStep(step, maxRetriesFor(step.Priority))
		if _, exists := e.nodes[n.ID]; exists {
			n.ID = fmt.Sprintf("%s-adapt-%s-%d", originID, n.ID, i)
		}
		e.nodes[n.ID] = n
		e.order = append(e.order, n.ID)
		e.logLocked(n.ID, "add_child", "adaptation follow-up from "+originID)
	}
}

func (e *Executor) finish(id string, result *NodeResult, decision, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.nodes[id]
	n.EndedAt = time.Now()
	n.Status = result.Status
	n.Result = result
	delete(e.running, id)
	e.logLocked(id, decision, reason)
}

func (e *Executor) logNode(id, decision, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logLocked(id, decision, reason)
}

func (e *Executor) logLocked(id, decision, reason string) {
	e.decisionLog = append(e.decisionLog, DecisionLogEntry{
		NodeID:    id,
		Decision:  decision,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) waitForSignalOrTimeout(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-e.wake:
	case <-time.After(pollInterval):
	}
}

func (e *Executor) buildResult(d time.Duration) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := &Result{
		Nodes:       make(map[string]*Node, len(e.nodes)),
		Order:       append([]string(nil), e.order...),
		Duration:    d,
		DecisionLog: append([]DecisionLogEntry(nil), e.decisionLog...),
	}
	for id, n := range e.nodes {
		res.Nodes[id] = n
		switch n.Status {
		case StatusSkipped:
			res.Skipped = append(res.Skipped, id)
		case StatusFailed:
			res.Failed = append(res.Failed, id)
		}
	}
	return res
}
