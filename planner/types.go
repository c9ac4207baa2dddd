// Package planner implements the Strategic Planner (spec.md §4.3): it
// assembles a Strategy Context, consults an external LLM collaborator for
// candidate attack steps, and runs a deterministic post-validation pipeline
// before handing the result to the Dynamic Test Tree. The LLM is a creative
// proposer only — every adopted recommendation passes through the
// validation pipeline in validate.go, never the model's own authority
// (spec.md §9 "Planner collaborator abstracted").
package planner

import (
	"time"

	"github.com/cartpry/pentestorch/workflow"
)

// StrategyContext is the input assembled for each planning or adaptation
// call (spec.md §4.3).
type StrategyContext struct {
	WorkflowID     string
	Target         string
	UserIntent     string
	CurrentFindings []workflow.Finding
	CompletedTests []string
	AvailableTools []string
	Phase          workflow.PhaseName
	Constraints    workflow.Constraints
}

// AttackStep is a single recommended test node (spec.md §4.3, §4.4).
type AttackStep struct {
	ID           string         `json:"id"`
	Tool         string         `json:"tool"`
	Target       string         `json:"target"`
	Parameters   map[string]any `json:"parameters"`
	DependsOn    []string       `json:"dependsOn,omitempty"`
	Conditions   []Condition    `json:"conditions,omitempty"`
	RequiresAuth bool           `json:"requiresAuth"`
	Priority     string         `json:"priority"`
}

// Condition mirrors tree.Condition's wire shape so a Strategy can be parsed
// without the planner package depending on tree.
type Condition struct {
	Type     string `json:"type"`
	NodeID   string `json:"nodeId"`
	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`
}

// Strategy is the Planner's output (spec.md §4.3).
type Strategy struct {
	Phase                workflow.PhaseName `json:"phase"`
	Reasoning            string             `json:"reasoning"`
	Recommendations      []AttackStep       `json:"recommendations"`
	ConfidenceLevel      float64            `json:"confidenceLevel"`
	EstimatedDuration    time.Duration      `json:"estimatedDuration"`
	SafetyConsiderations []string           `json:"safetyConsiderations"`
}

// defaulted fills in the spec-mandated field defaults for any Strategy
// field left zero-valued after parsing (spec.md §4.3 "Output parsing").
func defaulted(s Strategy, ctx StrategyContext) Strategy {
	if s.Phase == "" {
		s.Phase = ctx.Phase
	}
	if s.Reasoning == "" {
		s.Reasoning = "no reasoning provided"
	}
	if s.Recommendations == nil {
		s.Recommendations = []AttackStep{}
	}
	if s.ConfidenceLevel == 0 {
		s.ConfidenceLevel = 0.7
	}
	if s.EstimatedDuration == 0 {
		s.EstimatedDuration = 30 * time.Minute
	}
	if len(s.SafetyConsiderations) == 0 {
		s.SafetyConsiderations = []string{"rate limit all requests"}
	}
	return s
}
