package planner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cartpry/pentestorch/catalog"
	"github.com/cartpry/pentestorch/workflow"
)

func reconContext(target string) StrategyContext {
	return StrategyContext{
		Target:      target,
		Phase:       workflow.PhaseRecon,
		Constraints: workflow.Constraints{Environment: workflow.EnvStaging},
	}
}

// loadCatalogueFixture writes entries to a temp catalogue file and loads it,
// since Catalog exposes no entry-mutation method outside Load.
func loadCatalogueFixture(t *testing.T, entries ...catalog.Entry) *catalog.Catalog {
	t.Helper()
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "catalogue.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	cat, err := catalog.Load(path)
	require.NoError(t, err)
	return cat
}

// TestValidate_SafetyFilterFallsBack covers Scenario A (spec.md) and
// invariant I7: a recommendation naming an unknown tool or a forbidden
// parameter verb triggers the deterministic fallback strategy instead of
// propagating the LLM's output.
func TestValidate_SafetyFilterFallsBack(t *testing.T) {
	t.Run("unknown tool", func(t *testing.T) {
		cat := loadCatalogueFixture(t, catalog.Entry{Name: "port-scanner", Image: "img"})
		s := Strategy{Recommendations: []AttackStep{{ID: "a", Tool: "not-in-catalogue", Target: "example.test"}}}
		out := Validate(s, reconContext("example.test"), cat, "")
		require.True(t, out.UsedFallback)
		require.Contains(t, out.FallbackReason, "unknown tool")
		require.Equal(t, workflow.PhaseRecon, out.Strategy.Phase)
	})

	t.Run("forbidden verb in parameters", func(t *testing.T) {
		cat := catalog.Empty()
		s := Strategy{Recommendations: []AttackStep{{
			ID: "a", Tool: "port-scanner", Target: "example.test",
			Parameters: map[string]any{"note": "then rm -rf the evidence"},
		}}}
		out := Validate(s, reconContext("example.test"), cat, "")
		require.True(t, out.UsedFallback)
		require.Contains(t, out.FallbackReason, "forbidden verb")
	})

	t.Run("catalogue forbidden flag", func(t *testing.T) {
		cat := loadCatalogueFixture(t, catalog.Entry{Name: "directory-bruteforce", Image: "img", ForbiddenFlags: []string{"--unsafe"}})
		s := Strategy{Recommendations: []AttackStep{{
			ID: "a", Tool: "directory-bruteforce", Target: "example.test",
			Parameters: map[string]any{"mode": "--unsafe"},
		}}}
		out := Validate(s, reconContext("example.test"), cat, "")
		require.True(t, out.UsedFallback)
	})

	t.Run("clean strategy passes through", func(t *testing.T) {
		cat := catalog.Empty()
		s := Strategy{Recommendations: []AttackStep{{ID: "a", Tool: "port-scanner", Target: "example.test", Parameters: map[string]any{"target": "example.test"}}}}
		out := Validate(s, reconContext("example.test"), cat, "")
		require.False(t, out.UsedFallback)
		require.Len(t, out.Strategy.Recommendations, 1)
	})
}

func TestParameterValidate_WordlistMustStayUnderMountRoot(t *testing.T) {
	ctx := reconContext("example.test")

	valid := []AttackStep{
		{Tool: "directory-bruteforce", Target: "example.test", Parameters: map[string]any{"wordlist": "/wordlists/common.txt"}},
		{Tool: "directory-bruteforce", Target: "example.test", Parameters: map[string]any{"wordlist": "/etc/passwd"}},
	}
	out := parameterValidate(valid, ctx, "/wordlists")
	require.Len(t, out, 1)
	require.Equal(t, "/wordlists/common.txt", out[0].Parameters["wordlist"])
}

func TestParameterValidate_DirectoryBruteforceRequiresTarget(t *testing.T) {
	ctx := reconContext("")
	recs := []AttackStep{{Tool: "directory-bruteforce"}}
	out := parameterValidate(recs, ctx, "")
	require.Empty(t, out)
}

// TestConstraintFilter_AuthGating covers stage 3: an auth-requiring step is
// dropped into ApprovalCandidates rather than silently discarded when the
// submission did not assert requiresAuth.
func TestConstraintFilter_AuthGating(t *testing.T) {
	ctx := StrategyContext{Phase: workflow.PhaseAnalyze, Constraints: workflow.Constraints{RequiresAuth: false}}
	recs := []AttackStep{
		{ID: "a", Tool: "jwt-analyzer", RequiresAuth: true},
		{ID: "b", Tool: "header-analyzer", RequiresAuth: false},
	}
	kept, candidates := constraintFilter(recs, ctx)
	require.Len(t, kept, 1)
	require.Equal(t, "header-analyzer", kept[0].Tool)
	require.Len(t, candidates, 1)
	require.Equal(t, "a", candidates[0].Step.ID)
}

func TestConstraintFilter_ExploitInProductionDropsEverything(t *testing.T) {
	ctx := StrategyContext{Phase: workflow.PhaseExploit, Constraints: workflow.Constraints{Environment: workflow.EnvProduction}}
	recs := []AttackStep{{ID: "a", Tool: "sqlmap"}}
	kept, candidates := constraintFilter(recs, ctx)
	require.Empty(t, kept)
	require.Empty(t, candidates)
}

func TestExhaustiveExpansion_AddsFollowupsPerDiscoveredHost(t *testing.T) {
	ctx := StrategyContext{
		Phase:  workflow.PhaseRecon,
		Target: "example.test",
		CurrentFindings: []workflow.Finding{
			{Type: "subdomain", Data: map[string]any{"host": "api.example.test"}},
		},
	}
	out := exhaustiveExpansion(nil, ctx)

	tools := map[string]bool{}
	for _, r := range out {
		if r.Target == "api.example.test" {
			tools[r.Tool] = true
		}
	}
	require.True(t, tools["directory-bruteforce"])
	require.True(t, tools["port-scanner"])
	require.True(t, tools["tech-fingerprint"])
}

func TestExhaustiveExpansion_DoesNotDuplicateExistingTool(t *testing.T) {
	ctx := StrategyContext{
		Phase:  workflow.PhaseRecon,
		Target: "example.test",
		CurrentFindings: []workflow.Finding{
			{Type: "subdomain", Data: map[string]any{"host": "api.example.test"}},
		},
	}
	existing := []AttackStep{{ID: "seed", Tool: "port-scanner", Target: "api.example.test"}}
	out := exhaustiveExpansion(existing, ctx)

	count := 0
	for _, r := range out {
		if r.Target == "api.example.test" && r.Tool == "port-scanner" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestExhaustiveExpansion_FillsMinTestsPerPhaseFloor(t *testing.T) {
	ctx := StrategyContext{
		Phase:       workflow.PhaseRecon,
		Target:      "example.test",
		Constraints: workflow.Constraints{MinTestsPerPhase: 5},
	}
	out := exhaustiveExpansion(nil, ctx)
	require.GreaterOrEqual(t, len(out), 5)
}

func TestComboSynthesis_AddsCrossTargetProbeWithTwoHosts(t *testing.T) {
	recs := []AttackStep{
		{ID: "a", Tool: "directory-bruteforce", Target: "a.example.test"},
		{ID: "b", Tool: "port-scanner", Target: "b.example.test"},
	}
	out := comboSynthesis(recs)
	require.Len(t, out, 3)
	combo := out[2]
	require.Equal(t, "api-fuzzer", combo.Tool)
	require.Equal(t, "a.example.test", combo.Target)
	require.Equal(t, "b.example.test", combo.Parameters["peer"])
}

func TestComboSynthesis_NoopWithFewerThanTwoHosts(t *testing.T) {
	recs := []AttackStep{{ID: "a", Tool: "directory-bruteforce", Target: "a.example.test"}}
	out := comboSynthesis(recs)
	require.Len(t, out, 1)
}
