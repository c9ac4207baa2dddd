// Package tree implements the Dynamic Test Tree Executor (spec.md §4.4): a
// dependency- and condition-driven DAG that grows as findings arrive,
// scheduled at a configurable concurrency limit against the Execution
// Engine. Nodes are addressed by stable ids; references between nodes are
// by id only (spec.md §9 "Dynamic, open-ended tree").
package tree

import (
	"time"

	"github.com/cartpry/pentestorch/planner"
	"github.com/cartpry/pentestorch/workflow"
)

// Status is a Test Node's lifecycle state (spec.md invariant I1).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Condition gates a node's eligibility (spec.md §4.4 "Condition
// evaluation").
type Condition struct {
	Type     string // finding_exists | finding_matches | no_findings
	NodeID   string
	Field    string
	Operator string // equals | contains | greater_than
	Value    any
}

// Node is a Test Node in the Dynamic Test Tree.
type Node struct {
	ID           string
	Tool         string
	Target       string
	Parameters   map[string]any
	DependsOn    []string
	Conditions   []Condition
	RequiresAuth bool
	Priority     string

	Status     Status
	RetryCount int
	MaxRetries int

	Result *NodeResult

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
}

// NodeResult is the outcome recorded against a completed, failed, or
// skipped node.
type NodeResult struct {
	Status   Status
	Findings []workflow.Finding
	Error    string
	Output   string
	// Warnings holds non-fatal notices from the Execution Engine (e.g. a
	// wordlist fallback) that the Executor records as warning-level
	// Decision Log entries.
	Warnings []string
}

// fromAttackStep converts a planner recommendation into a pending Node.
func fromAttackStep(step planner.AttackStep, maxRetries int) *Node {
	conds := make([]Condition, 0, len(step.Conditions))
	for _, c := range step.Conditions {
		conds = append(conds, Condition{Type: c.Type, NodeID: c.NodeID, Field: c.Field, Operator: c.Operator, Value: c.Value})
	}
	return &Node{
		ID:           step.ID,
		Tool:         step.Tool,
		Target:       step.Target,
		Parameters:   step.Parameters,
		DependsOn:    append([]string(nil), step.DependsOn...),
		Conditions:   conds,
		RequiresAuth: step.RequiresAuth,
		Priority:     step.Priority,
		Status:       StatusPending,
		MaxRetries:   maxRetries,
		CreatedAt:    time.Now(),
	}
}

// maxRetriesFor returns the retry budget for a priority (scenario C:
// "priority=critical implies maxRetries=3").
func maxRetriesFor(priority string) int {
	if priority == "critical" {
		return 3
	}
	return 1
}
