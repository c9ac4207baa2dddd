package planner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cartpry/pentestorch/catalog"
	"github.com/cartpry/pentestorch/workflow"
)

// ApprovalCandidate is a recommendation dropped by the constraint filter
// because it requires authenticated testing the submission did not assert;
// it is queued for the Restraint subsystem to decide whether to request
// human approval instead of discarding it outright.
type ApprovalCandidate struct {
	Step   AttackStep
	Reason string
}

// Outcome is the result of running the post-validation pipeline.
type Outcome struct {
	Strategy           Strategy
	UsedFallback       bool
	FallbackReason     string
	ApprovalCandidates []ApprovalCandidate
}

// Validate runs the five-stage post-validation pipeline of spec.md §4.3 in
// order: safety filter, parameter validation, constraint filter, exhaustive
// expansion, combo step synthesis. wordlistRoot is the configured mount
// root (spec.md §4.3 stage 2, §6 "Wordlist mount").
func Validate(s Strategy, ctx StrategyContext, cat *catalog.Catalog, wordlistRoot string) Outcome {
	if reason, ok := safetyViolation(s, cat); ok {
		fb := FallbackStrategy(ctx)
		return Outcome{Strategy: fb, UsedFallback: true, FallbackReason: reason}
	}

	s.Recommendations = parameterValidate(s.Recommendations, ctx, wordlistRoot)

	kept, candidates := constraintFilter(s.Recommendations, ctx)
	s.Recommendations = kept

	s.Recommendations = exhaustiveExpansion(s.Recommendations, ctx)

	s.Recommendations = comboSynthesis(s.Recommendations)

	return Outcome{Strategy: s, ApprovalCandidates: candidates}
}

// safetyViolation implements stage 1: every recommendation's tool must be
// in the catalogue; serialized parameters must not contain any forbidden
// substring.
func safetyViolation(s Strategy, cat *catalog.Catalog) (string, bool) {
	for _, rec := range s.Recommendations {
		if !cat.IsKnown(rec.Tool) {
			return fmt.Sprintf("unknown tool %q", rec.Tool), true
		}
		data, err := json.Marshal(rec.Parameters)
		if err != nil {
			return fmt.Sprintf("unserializable parameters for %q", rec.Tool), true
		}
		if cat.ContainsForbidden(rec.Tool, string(data)) {
			return fmt.Sprintf("forbidden verb in parameters for %q", rec.Tool), true
		}
	}
	return "", false
}

// parameterValidate implements stage 2: per-tool parameter requirements.
// Invalid recommendations are dropped (non-fatal), mirroring the Execution
// Engine's own warn-and-continue posture for parameter issues.
func parameterValidate(recs []AttackStep, ctx StrategyContext, wordlistRoot string) []AttackStep {
	out := make([]AttackStep, 0, len(recs))
	for _, rec := range recs {
		if !validateOne(rec, wordlistRoot) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func validateOne(rec AttackStep, wordlistRoot string) bool {
	if rec.Parameters == nil {
		rec.Parameters = map[string]any{}
	}
	switch rec.Tool {
	case "directory-bruteforce":
		if _, ok := rec.Parameters["target"]; !ok && rec.Target == "" {
			return false
		}
		if wl, ok := rec.Parameters["wordlist"].(string); ok && wl != "" {
			if wordlistRoot != "" && !strings.HasPrefix(wl, wordlistRoot) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// constraintFilter implements stage 3: requiresAuth recommendations are
// dropped (and queued as approval candidates) when the submission did not
// assert requiresAuth; in the exploit phase against production, every
// recommendation is dropped.
func constraintFilter(recs []AttackStep, ctx StrategyContext) ([]AttackStep, []ApprovalCandidate) {
	if ctx.Phase == workflow.PhaseExploit && ctx.Constraints.Environment == workflow.EnvProduction {
		return nil, nil
	}
	kept := make([]AttackStep, 0, len(recs))
	var candidates []ApprovalCandidate
	for _, rec := range recs {
		if rec.RequiresAuth && !ctx.Constraints.RequiresAuth {
			candidates = append(candidates, ApprovalCandidate{Step: rec, Reason: "requires authenticated testing not asserted by submission"})
			continue
		}
		kept = append(kept, rec)
	}
	return kept, candidates
}

// discoveredSubdomains collects distinct subdomain hosts from findings.
func discoveredSubdomains(findings []workflow.Finding) []string {
	seen := map[string]struct{}{}
	var hosts []string
	for _, f := range findings {
		if f.Type != "subdomain" {
			continue
		}
		host, _ := f.Data["host"].(string)
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// discoveredAssets collects distinct targets for forms, API endpoints, and
// authentication endpoints (analyze-phase expansion inputs).
func discoveredAssets(findings []workflow.Finding) []string {
	seen := map[string]struct{}{}
	var assets []string
	for _, f := range findings {
		switch f.Type {
		case "form", "api-endpoint", "auth-endpoint":
		default:
			continue
		}
		if f.Target == "" {
			continue
		}
		if _, ok := seen[f.Target]; ok {
			continue
		}
		seen[f.Target] = struct{}{}
		assets = append(assets, f.Target)
	}
	sort.Strings(assets)
	return assets
}

// exhaustiveExpansion implements stage 4.
func exhaustiveExpansion(recs []AttackStep, ctx StrategyContext) []AttackStep {
	existing := make(map[string]map[string]struct{}) // target -> tools present
	for _, r := range recs {
		if existing[r.Target] == nil {
			existing[r.Target] = map[string]struct{}{}
		}
		existing[r.Target][r.Tool] = struct{}{}
	}
	ensure := func(target, tool string, priority string) {
		if _, ok := existing[target][tool]; ok {
			return
		}
		recs = append(recs, AttackStep{
			ID:       fmt.Sprintf("%s-%s-%s", sanitizeID(target), tool, ctx.Phase),
			Tool:     tool,
			Target:   target,
			Priority: priority,
			Parameters: map[string]any{
				"target": target,
			},
		})
		if existing[target] == nil {
			existing[target] = map[string]struct{}{}
		}
		existing[target][tool] = struct{}{}
	}

	if ctx.Phase == workflow.PhaseRecon || ctx.Phase == workflow.PhaseAnalyze {
		for _, host := range discoveredSubdomains(ctx.CurrentFindings) {
			ensure(host, "directory-bruteforce", "medium")
			ensure(host, "port-scanner", "medium")
			ensure(host, "tech-fingerprint", "low")
		}
	}
	if ctx.Phase == workflow.PhaseAnalyze {
		for _, asset := range discoveredAssets(ctx.CurrentFindings) {
			if _, ok := existing[asset]["injection"]; ok {
				continue
			}
			if _, ok := existing[asset]["api-fuzzer"]; ok {
				continue
			}
			if _, ok := existing[asset]["jwt-analyzer"]; ok {
				continue
			}
			ensure(asset, "injection", "high")
		}
	}

	assetCount := len(discoveredSubdomains(ctx.CurrentFindings)) + len(discoveredAssets(ctx.CurrentFindings))
	floor := ctx.Constraints.MinTestsPerPhase
	if needed := assetCount * 3; needed > floor {
		floor = needed
	}
	i := 0
	for len(recs) < floor {
		tool := []string{"header-analyzer", "ssl-checker"}[i%2]
		recs = append(recs, AttackStep{
			ID:         fmt.Sprintf("generic-%s-%d", tool, i),
			Tool:       tool,
			Target:     ctx.Target,
			Priority:   "low",
			Parameters: map[string]any{"target": ctx.Target},
		})
		i++
	}
	return recs
}

// comboSynthesis implements stage 5: when at least two subdomains exist,
// add one cross-target fuzz test pairing the first two.
func comboSynthesis(recs []AttackStep) []AttackStep {
	hosts := map[string]struct{}{}
	var ordered []string
	for _, r := range recs {
		if r.Tool != "directory-bruteforce" && r.Tool != "port-scanner" && r.Tool != "tech-fingerprint" {
			continue
		}
		if _, ok := hosts[r.Target]; ok || r.Target == "" {
			continue
		}
		hosts[r.Target] = struct{}{}
		ordered = append(ordered, r.Target)
	}
	if len(ordered) < 2 {
		return recs
	}
	a, b := ordered[0], ordered[1]
	combo := AttackStep{
		ID:       fmt.Sprintf("combo-ssrf-%s-%s", sanitizeID(a), sanitizeID(b)),
		Tool:     "api-fuzzer",
		Target:   a,
		Priority: "medium",
		Parameters: map[string]any{
			"target": a,
			"probe":  "server-side-request-forgery",
			"peer":   b,
		},
	}
	return append(recs, combo)
}

func sanitizeID(s string) string {
	replacer := strings.NewReplacer("://", "-", "/", "-", ".", "-", ":", "-")
	return replacer.Replace(s)
}
