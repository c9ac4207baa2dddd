package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartpry/pentestorch/workflow"
)

// TestFallbackStrategy_Deterministic covers Scenario F: the same phase
// always yields the same fixed fallback recommendations, independent of any
// LLM output.
func TestFallbackStrategy_Deterministic(t *testing.T) {
	ctx := StrategyContext{Target: "example.test", Phase: workflow.PhaseRecon}
	first := FallbackStrategy(ctx)
	second := FallbackStrategy(ctx)
	require.Equal(t, first, second)
}

func TestFallbackStrategy_ReconSeedsDiscovery(t *testing.T) {
	ctx := StrategyContext{Target: "example.test", Phase: workflow.PhaseRecon}
	s := FallbackStrategy(ctx)
	require.Equal(t, workflow.PhaseRecon, s.Phase)
	require.Len(t, s.Recommendations, 2)
	tools := map[string]bool{}
	for _, r := range s.Recommendations {
		tools[r.Tool] = true
		require.Equal(t, "example.test", r.Target)
	}
	require.True(t, tools["subdomain-scanner"])
	require.True(t, tools["port-scanner"])
}

func TestFallbackStrategy_AnalyzeIsHeaderAnalysisOnly(t *testing.T) {
	s := FallbackStrategy(StrategyContext{Target: "example.test", Phase: workflow.PhaseAnalyze})
	require.Len(t, s.Recommendations, 1)
	require.Equal(t, "header-analyzer", s.Recommendations[0].Tool)
}

func TestFallbackStrategy_ExploitProposesNothing(t *testing.T) {
	s := FallbackStrategy(StrategyContext{Target: "example.test", Phase: workflow.PhaseExploit})
	require.Empty(t, s.Recommendations)
	require.Less(t, s.ConfidenceLevel, 0.5)
}

func TestFallbackStrategy_UnrecognizedPhase(t *testing.T) {
	s := FallbackStrategy(StrategyContext{Target: "example.test", Phase: workflow.PhaseName("unknown")})
	require.Equal(t, workflow.PhaseName("unknown"), s.Phase)
	require.Empty(t, s.Recommendations)
}
