// Package restraint implements the Restraint & Approval subsystem
// (spec.md §4.6): a deterministic rule set that approves, mitigates, or
// denies a candidate test, and a human-in-the-loop Approval subsystem for
// the rules that require one.
package restraint

import (
	"strings"

	"github.com/cartpry/pentestorch/workflow"
)

// Decision is the outcome of evaluating a rule against a candidate test.
type Decision string

const (
	DecisionApprove               Decision = "approve"
	DecisionApproveWithMitigations Decision = "approve-with-mitigations"
	DecisionDeny                  Decision = "deny"
	DecisionRequireApproval       Decision = "require-approval"
)

// Candidate is the test under evaluation: enough context for a rule to key
// off (tool, environment, target pattern, parameter shape).
type Candidate struct {
	Tool         string
	Environment  workflow.Environment
	Target       string
	Parameters   map[string]any
	RequiresAuth bool
	Priority     string // "critical", "high", "medium", "low"
}

// Verdict is the result of evaluating the rule set against a Candidate.
type Verdict struct {
	Decision     Decision
	Reason       string
	Severity     string
	Mitigations  map[string]any
}

// Rule evaluates a Candidate and returns a Verdict. Implementations should
// be pure and fast; the rule set is evaluated in declared order and the
// first non-approve rule wins.
type Rule interface {
	Evaluate(c Candidate) Verdict
}

// RuleFunc adapts a plain function to the Rule interface.
type RuleFunc func(c Candidate) Verdict

// Evaluate calls f.
func (f RuleFunc) Evaluate(c Candidate) Verdict { return f(c) }

// Engine evaluates an ordered rule set against candidates.
type Engine struct {
	rules []Rule
}

// NewEngine builds an Engine with the given ordered rules. When no rules are
// supplied, DefaultRules() is used.
func NewEngine(rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{rules: rules}
}

// Evaluate runs the rule set in order and returns the first non-approve
// verdict, or an approve verdict if every rule approves.
func (e *Engine) Evaluate(c Candidate) Verdict {
	for _, r := range e.rules {
		v := r.Evaluate(c)
		if v.Decision != DecisionApprove {
			return v
		}
	}
	return Verdict{Decision: DecisionApprove}
}

// DefaultRules returns the production-safety rule set (spec.md §4.6 +
// §4.2's "analyze → exploit" gating), evaluated in order:
// exploitation-class tools in production are denied outright; steps that
// require auth escalate; critical-priority steps in production escalate;
// everything else is approved, with rate-limiting mitigations applied
// outside the development environment.
func DefaultRules() []Rule {
	return []Rule{
		RuleFunc(denyExploitationInProduction),
		RuleFunc(requireApprovalForAuth),
		RuleFunc(requireApprovalForCritical),
		RuleFunc(mitigateProductionRateLimit),
	}
}

func denyExploitationInProduction(c Candidate) Verdict {
	if c.Environment != workflow.EnvProduction {
		return Verdict{Decision: DecisionApprove}
	}
	if isExploitationTool(c.Tool) {
		return Verdict{Decision: DecisionDeny, Reason: "exploitation-class tools are not permitted against production targets"}
	}
	return Verdict{Decision: DecisionApprove}
}

func requireApprovalForAuth(c Candidate) Verdict {
	if c.RequiresAuth {
		return Verdict{
			Decision: DecisionRequireApproval,
			Severity: "high",
			Reason:   "candidate requires authenticated testing and must be reviewed",
		}
	}
	return Verdict{Decision: DecisionApprove}
}

func requireApprovalForCritical(c Candidate) Verdict {
	if c.Priority == "critical" && c.Environment == workflow.EnvProduction {
		return Verdict{
			Decision: DecisionRequireApproval,
			Severity: "critical",
			Reason:   "critical-priority test against a production target requires approval",
		}
	}
	return Verdict{Decision: DecisionApprove}
}

func mitigateProductionRateLimit(c Candidate) Verdict {
	if c.Environment != workflow.EnvDevelopment {
		return Verdict{
			Decision: DecisionApproveWithMitigations,
			Mitigations: map[string]any{
				"rateLimit":       true,
				"readOnly":        isExploitationTool(c.Tool),
				"useTestCredentials": c.RequiresAuth,
			},
		}
	}
	return Verdict{Decision: DecisionApprove}
}

func isExploitationTool(tool string) bool {
	tool = strings.ToLower(tool)
	for _, frag := range []string{"exploit", "injection", "jwt-analyzer", "api-fuzzer", "sqlmap", "rce"} {
		if strings.Contains(tool, frag) {
			return true
		}
	}
	return false
}

// MergeMitigations merges mitigations into parameters, returning a new map.
// Existing keys in parameters are overwritten by mitigation values, since
// mitigations represent a stricter, authoritative safety decision.
func MergeMitigations(parameters map[string]any, mitigations map[string]any) map[string]any {
	merged := make(map[string]any, len(parameters)+len(mitigations))
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range mitigations {
		merged[k] = v
	}
	return merged
}
