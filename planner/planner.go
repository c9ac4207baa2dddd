package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cartpry/pentestorch/audit"
	"github.com/cartpry/pentestorch/catalog"
)

// Planner assembles prompts, consults a Provider, and runs the
// post-validation pipeline (spec.md §4.3).
type Planner struct {
	provider     Provider
	catalog      *catalog.Catalog
	wordlistRoot string
	decisions    audit.Store
}

// New builds a Planner. decisions may be nil to disable decision-log
// emission (e.g. in unit tests that only exercise the pipeline).
func New(provider Provider, cat *catalog.Catalog, wordlistRoot string, decisions audit.Store) *Planner {
	return &Planner{provider: provider, catalog: cat, wordlistRoot: wordlistRoot, decisions: decisions}
}

// Plan produces a validated Strategy for ctx (spec.md §4.3).
func (p *Planner) Plan(ctx context.Context, sc StrategyContext) Outcome {
	return p.run(ctx, sc, systemPrompt(sc), userPrompt(sc, false, nil), "plan")
}

// AdaptStrategy replays the planner with an "adapt" prompt given
// newFindings, applying the same pipeline (spec.md §4.3 "Adaptation").
func (p *Planner) AdaptStrategy(ctx context.Context, sc StrategyContext, newFindings []string) Outcome {
	return p.run(ctx, sc, systemPrompt(sc), userPrompt(sc, true, newFindings), "adapt")
}

func (p *Planner) run(ctx context.Context, sc StrategyContext, sys, user, kind string) Outcome {
	start := time.Now()
	raw, err := p.provider.Complete(ctx, sys, user)
	var outcome Outcome
	var providerErr string
	if err != nil {
		providerErr = err.Error()
		outcome = Outcome{Strategy: FallbackStrategy(sc), UsedFallback: true, FallbackReason: "planner provider error: " + err.Error()}
	} else {
		strategy, perr := ParseStrategy(raw, sc)
		if perr != nil {
			outcome = Outcome{Strategy: FallbackStrategy(sc), UsedFallback: true, FallbackReason: "unparseable planner response: " + perr.Error()}
		} else {
			outcome = Validate(strategy, sc, p.catalog, p.wordlistRoot)
		}
	}
	p.recordDecision(ctx, sc, outcome, kind, providerErr, time.Since(start))
	return outcome
}

// recordDecision appends a Decision Log Entry for the planning or
// adaptation call (spec.md §4.3 "Decision log").
func (p *Planner) recordDecision(ctx context.Context, sc StrategyContext, outcome Outcome, kind, providerErr string, latency time.Duration) {
	if p.decisions == nil {
		return
	}
	outcomeLabel := "adopted"
	if outcome.UsedFallback {
		outcomeLabel = "fallback: " + outcome.FallbackReason
	}
	entry := audit.Entry{
		WorkflowID: sc.WorkflowID,
		Timestamp:  time.Now(),
		Type:       audit.DecisionPlan,
		Input: map[string]any{
			"phase":  string(sc.Phase),
			"kind":   kind,
			"digest": contextDigest(sc),
		},
		Output: audit.Decision{
			Outcome:    outcomeLabel,
			Reasoning:  outcome.Strategy.Reasoning,
			Confidence: outcome.Strategy.ConfidenceLevel,
		},
		Metadata: audit.Metadata{
			Model:     p.provider.Name(),
			LatencyMS: latency.Milliseconds(),
		},
	}
	if kind == "adapt" {
		entry.Type = audit.DecisionAdapt
	}
	if providerErr != "" {
		entry.Input["providerError"] = providerErr
	}
	_ = p.decisions.Append(ctx, entry)
}

// contextDigest builds a stable, size-bounded digest of the Strategy
// Context for the Decision Log Entry, rather than persisting the whole
// (potentially large) finding set.
func contextDigest(sc StrategyContext) string {
	digest := map[string]any{
		"target":         sc.Target,
		"phase":          sc.Phase,
		"findingsCount":  len(sc.CurrentFindings),
		"completedTests": len(sc.CompletedTests),
	}
	data, err := json.Marshal(digest)
	if err != nil {
		return fmt.Sprintf("target=%s phase=%s", sc.Target, sc.Phase)
	}
	return string(data)
}
