// Package discovery implements the Progressive Discovery phase state
// machine (spec.md §4.2): a three-state driver over recon → analyze →
// exploit that decides, after each phase completes, whether the workflow
// proceeds to the next phase, and records the reasoning behind that
// decision.
package discovery

import (
	"time"

	"github.com/cartpry/pentestorch/workflow"
)

// Result summarizes a single phase's outcome, passed to the Driver to
// decide on the next transition.
type Result struct {
	Phase       workflow.PhaseName
	NodeResults []string
	Summary     workflow.FindingSummary
	Reasoning   string
}

// ExitPolicy decides whether a completed phase should advance to the next
// one. The core ships the "exhaustive" default (always true); callers may
// supply a stricter policy (spec.md §4.2 "Exit condition is parameterizable
// but in the default policy always returns true").
type ExitPolicy interface {
	ShouldProceed(res Result, c workflow.Constraints) (bool, string)
}

// ExitPolicyFunc adapts a function to ExitPolicy.
type ExitPolicyFunc func(res Result, c workflow.Constraints) (bool, string)

// ShouldProceed calls f.
func (f ExitPolicyFunc) ShouldProceed(res Result, c workflow.Constraints) (bool, string) {
	return f(res, c)
}

// AlwaysProceed is the default "exhaustive" exit policy: a completed phase
// always proceeds to the next one. Skipping the exploit phase under a
// restrictive environment or excludeTests set is handled separately by
// NextPhase, not by this policy (spec.md §4.2: "Exit condition is
// parameterizable but in the default policy always returns true").
var AlwaysProceed ExitPolicy = ExitPolicyFunc(func(Result, workflow.Constraints) (bool, string) {
	return true, "exhaustive policy: always proceed"
})

// Driver advances a workflow through the recon → analyze → exploit state
// machine. It holds no workflow-specific state; callers pass the relevant
// Constraints and prior Result at each step.
type Driver struct {
	policy ExitPolicy
}

// NewDriver builds a Driver with the given ExitPolicy. A nil policy
// defaults to AlwaysProceed.
func NewDriver(policy ExitPolicy) *Driver {
	if policy == nil {
		policy = AlwaysProceed
	}
	return &Driver{policy: policy}
}

// Initial is the first phase of every workflow.
func Initial() workflow.PhaseName { return workflow.PhaseRecon }

// Decision is the outcome of evaluating a completed phase's transition.
type Decision struct {
	Next      workflow.PhaseName
	Terminal  bool
	Proceed   bool
	Reasoning string
}

// GateStatus describes the state of the approval gate guarding
// analyze→exploit, as observed by the Orchestrator after it has asked the
// Planner for the candidate exploit-phase recommendations and, if needed,
// resolved any required approval.
type GateStatus struct {
	// Needed is true iff any candidate recommendation for the exploit
	// phase is requiresAuth or priority "critical".
	Needed bool
	// Obtained is true iff Needed is false, or a gating approval resolved
	// as approved.
	Obtained bool
}

// Next decides the transition out of a completed phase, applying the
// recon→analyze and analyze→exploit gating rules of spec.md §4.2.
func (d *Driver) Next(res Result, c workflow.Constraints, gate GateStatus) Decision {
	proceed, reasoning := d.policy.ShouldProceed(res, c)

	switch res.Phase {
	case workflow.PhaseRecon:
		if !proceed {
			return Decision{Next: workflow.PhaseRecon, Terminal: true, Proceed: false, Reasoning: reasoning}
		}
		return Decision{Next: workflow.PhaseAnalyze, Proceed: true, Reasoning: reasoning}

	case workflow.PhaseAnalyze:
		if !proceed {
			return Decision{Next: workflow.PhaseAnalyze, Terminal: true, Proceed: false, Reasoning: reasoning}
		}
		if c.Environment == workflow.EnvProduction {
			return Decision{
				Next:      workflow.PhaseAnalyze,
				Terminal:  true,
				Proceed:   false,
				Reasoning: "exploit phase skipped: environment is production",
			}
		}
		if gate.Needed && !gate.Obtained {
			return Decision{
				Next:      workflow.PhaseAnalyze,
				Terminal:  true,
				Proceed:   false,
				Reasoning: "exploit phase skipped: required approval was not obtained",
			}
		}
		return Decision{Next: workflow.PhaseExploit, Proceed: true, Reasoning: reasoning}

	case workflow.PhaseExploit:
		return Decision{Next: workflow.PhaseExploit, Terminal: true, Proceed: false, Reasoning: "exploit phase is terminal"}

	default:
		return Decision{Next: res.Phase, Terminal: true, Proceed: false, Reasoning: "unrecognized phase"}
	}
}

// BuildPhase finalizes a Phase record for a completed phase, given the
// Driver's Decision.
func BuildPhase(res Result, startedAt time.Time, dec Decision) workflow.Phase {
	return workflow.Phase{
		Name:        res.Phase,
		StartedAt:   startedAt,
		EndedAt:     time.Now(),
		Reasoning:   dec.Reasoning,
		NodeResults: res.NodeResults,
		Summary:     res.Summary,
		ProceedNext: dec.Proceed,
	}
}
