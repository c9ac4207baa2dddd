// Package execution implements the Execution Engine (spec.md §4.5): the
// pipeline that takes a single validated Test Node and runs its
// containerized tool to completion, producing structured Findings.
package execution

import (
	"time"

	"github.com/cartpry/pentestorch/workflow"
)

// Spec is everything the Execution Engine needs to run one test, handed
// down from the Dynamic Test Tree (spec.md §4.4 → §4.5 boundary).
type Spec struct {
	NodeID       string
	Tool         string
	Target       string
	Parameters   map[string]any
	RequiresAuth bool
	Priority     string
	Environment  workflow.Environment
}

// Result is the Execution Engine's outcome for one Spec.
type Result struct {
	Status   string // "completed" | "failed"
	Findings []workflow.Finding
	Output   string
	Error    string
	ExitCode int
	Duration time.Duration
	// Warnings holds non-fatal pipeline notices (e.g. a wordlist fallback)
	// that the caller should record as warning-level Decision Log entries.
	Warnings []string
}
