package planner

import (
	"fmt"

	"github.com/cartpry/pentestorch/workflow"
)

// FallbackStrategy returns the deterministic, by-phase fallback strategy
// adopted whenever the LLM collaborator errors, returns unparseable output,
// or fails the safety filter (spec.md §4.3 "Fallback strategy").
func FallbackStrategy(ctx StrategyContext) Strategy {
	switch ctx.Phase {
	case workflow.PhaseRecon:
		return Strategy{
			Phase:     workflow.PhaseRecon,
			Reasoning: "deterministic fallback: seed reconnaissance",
			Recommendations: []AttackStep{
				{ID: fallbackID(ctx, "subdomain-scanner"), Tool: "subdomain-scanner", Target: ctx.Target, Priority: "medium",
					Parameters: map[string]any{"target": ctx.Target}},
				{ID: fallbackID(ctx, "port-scanner"), Tool: "port-scanner", Target: ctx.Target, Priority: "medium",
					Parameters: map[string]any{"target": ctx.Target, "ports": "top-1000"}},
			},
			ConfidenceLevel:      0.5,
			SafetyConsiderations: []string{"rate limit all requests"},
		}
	case workflow.PhaseAnalyze:
		return Strategy{
			Phase:     workflow.PhaseAnalyze,
			Reasoning: "deterministic fallback: baseline header analysis",
			Recommendations: []AttackStep{
				{ID: fallbackID(ctx, "header-analyzer"), Tool: "header-analyzer", Target: ctx.Target, Priority: "low",
					Parameters: map[string]any{"target": ctx.Target}},
			},
			ConfidenceLevel:      0.5,
			SafetyConsiderations: []string{"rate limit all requests"},
		}
	case workflow.PhaseExploit:
		return Strategy{
			Phase:                workflow.PhaseExploit,
			Reasoning:            "deterministic fallback: no exploitation steps proposed",
			Recommendations:      []AttackStep{},
			ConfidenceLevel:      0.3,
			SafetyConsiderations: []string{"rate limit all requests"},
		}
	default:
		return Strategy{
			Phase:                ctx.Phase,
			Reasoning:            "deterministic fallback: unrecognized phase",
			Recommendations:      []AttackStep{},
			ConfidenceLevel:      0.3,
			SafetyConsiderations: []string{"rate limit all requests"},
		}
	}
}

func fallbackID(ctx StrategyContext, tool string) string {
	return fmt.Sprintf("%s-%s-fallback", ctx.Phase, tool)
}
