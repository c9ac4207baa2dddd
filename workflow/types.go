// Package workflow defines the Workflow aggregate (spec.md §4.1): its
// lifecycle status, constraints, phase history, node progress, and the
// append-only findings list. The orchestrator package owns Workflows from
// submission to terminal state and drives the Progressive Discovery phase
// machine through the methods declared here.
package workflow

import (
	"sync"
	"time"
)

// Status is the coarse-grained lifecycle state of a Workflow (spec.md §3).
type Status string

const (
	StatusPending           Status = "pending"
	StatusRunning           Status = "running"
	StatusAwaitingApproval  Status = "awaiting-approval"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

// PhaseName is one of the three Progressive Discovery phases.
type PhaseName string

const (
	PhaseRecon    PhaseName = "recon"
	PhaseAnalyze  PhaseName = "analyze"
	PhaseExploit  PhaseName = "exploit"
)

// Severity is the finding severity scale (spec.md §3 "Finding").
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Finding is a structured observation produced by a tool parser. Findings
// are append-only within a Workflow (invariant ii).
type Finding struct {
	Type        string
	Severity    Severity
	Confidence  float64
	Target      string
	Data        map[string]any
	Tool        string
	Timestamp   time.Time
	// NodeID identifies the test node that produced the finding; the
	// Execution Engine stamps it when parsing tool output.
	NodeID string
}

// FindingSummary tallies findings observed during a phase, by severity.
type FindingSummary struct {
	Total    int
	BySeverity map[Severity]int
}

// Phase records the execution of one of the three Progressive Discovery
// phases.
type Phase struct {
	Name        PhaseName
	StartedAt   time.Time
	EndedAt     time.Time
	Reasoning   string
	NodeResults []string // executed node IDs, in completion order
	Summary     FindingSummary
	ProceedNext bool
}

// Workflow is the aggregate root owned exclusively by the Orchestrator
// (spec.md §3 "Workflow"). Mutation always goes through Orchestrator
// methods; callers only ever observe a Snapshot.
type Workflow struct {
	mu sync.RWMutex

	ID          string
	Target      string
	UserIntent  string
	Constraints Constraints

	Status       Status
	CurrentPhase PhaseName

	StartedAt time.Time
	EndedAt   time.Time

	Findings []Finding
	Phases   []Phase

	// Truncated is set when a workflow-level deadline caused early
	// completion (spec.md §4.1 "a workflow-level deadline exceeded
	// terminates the workflow as 'completed' with a truncation flag").
	Truncated bool

	// FailureReason carries the cause when Status is StatusFailed.
	FailureReason string

	nodesCompleted int
	nodesTotal     int
}

// New constructs a Workflow in status "pending", ready for the
// Orchestrator to drive through Progressive Discovery.
func New(id, target, userIntent string, constraints Constraints) *Workflow {
	return &Workflow{
		ID:           id,
		Target:       target,
		UserIntent:   userIntent,
		Constraints:  constraints,
		Status:       StatusPending,
		CurrentPhase: PhaseRecon,
		StartedAt:    time.Now(),
	}
}

// Snapshot is the read-only view returned by Orchestrator.Status.
type Snapshot struct {
	WorkflowID     string
	Status         Status
	Phase          PhaseName
	Progress       Progress
	PartialResults []Finding
}

// Progress summarizes how far a workflow has advanced.
type Progress struct {
	PhasesCompleted int
	TotalPhases     int
	NodesCompleted  int
	NodesTotal      int
}

// snapshotLocked builds a Snapshot under the read lock. Callers must hold mu.
func (w *Workflow) snapshotLocked() Snapshot {
	findings := make([]Finding, len(w.Findings))
	copy(findings, w.Findings)
	return Snapshot{
		WorkflowID:     w.ID,
		Status:         w.Status,
		Phase:          w.CurrentPhase,
		PartialResults: findings,
		Progress: Progress{
			PhasesCompleted: len(w.Phases),
			TotalPhases:     3,
			NodesCompleted:  w.nodesCompleted,
			NodesTotal:      w.nodesTotal,
		},
	}
}

// Snapshot returns a point-in-time, race-free view of the workflow (spec.md
// §6 "Status").
func (w *Workflow) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshotLocked()
}

// SetStatus transitions the workflow's coarse-grained status. Mutation
// always goes through the Orchestrator (spec.md §3 "Workflow").
func (w *Workflow) SetStatus(s Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Status = s
}

// SetPhase records the phase currently in progress.
func (w *Workflow) SetPhase(p PhaseName) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.CurrentPhase = p
}

// Phase returns the phase currently in progress, safe for concurrent
// readers (e.g. an Approval Request assembled from a tree dispatch
// goroutine while the orchestrator's control loop advances phases).
func (w *Workflow) Phase() PhaseName {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.CurrentPhase
}

// AppendPhase records a completed phase's summary (invariant: phases only
// ever append).
func (w *Workflow) AppendPhase(p Phase) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Phases = append(w.Phases, p)
}

// SetNodeProgress updates the running node-completion tally surfaced in
// Status snapshots.
func (w *Workflow) SetNodeProgress(completed, total int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nodesCompleted += completed
	w.nodesTotal += total
}

// Finish transitions the workflow to a terminal status, stamping EndedAt
// and, when applicable, the truncation flag or failure reason (spec.md
// §4.1 "Failure semantics").
func (w *Workflow) Finish(status Status, truncated bool, failureReason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Status = status
	w.EndedAt = time.Now()
	w.Truncated = truncated
	w.FailureReason = failureReason
}

// AppendFindings appends newly observed findings. The findings list only
// ever grows (invariant ii).
func (w *Workflow) AppendFindings(fs ...Finding) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Findings = append(w.Findings, fs...)
}

// FindingsSnapshot returns a defensive copy of the accumulated findings.
func (w *Workflow) FindingsSnapshot() []Finding {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Finding, len(w.Findings))
	copy(out, w.Findings)
	return out
}
