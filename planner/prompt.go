package planner

import (
	"fmt"
	"strings"
)

// systemPrompt encodes the allowed tool catalogue, safety rules, and output
// schema (spec.md §4.3 "Prompt contract with the external LLM
// collaborator"). Prompt content itself is not part of the specification's
// contract; only the parsing contract in parse.go is.
func systemPrompt(sc StrategyContext) string {
	var b strings.Builder
	b.WriteString("You are the strategic planner for an authorized security-testing workflow.\n")
	b.WriteString("Allowed tools: ")
	b.WriteString(strings.Join(sc.AvailableTools, ", "))
	b.WriteString("\n")
	b.WriteString("Safety rules: never recommend destructive flags (rm, delete, drop, destroy, wipe); ")
	b.WriteString("wordlist paths must stay under the configured mount root; respect the target scope.\n")
	b.WriteString("Respond with a single JSON object matching this schema: ")
	b.WriteString(`{"phase":string,"reasoning":string,"recommendations":[{"id":string,"tool":string,"target":string,"parameters":object,"dependsOn":[string],"requiresAuth":bool,"priority":string}],"confidenceLevel":number,"estimatedDuration":number,"safetyConsiderations":[string]}`)
	b.WriteString("\n")
	return b.String()
}

// userPrompt assembles the phase-specific prompt for a planning or
// adaptation call.
func userPrompt(sc StrategyContext, adapt bool, newFindings []string) string {
	var b strings.Builder
	if adapt {
		b.WriteString("Adapt the current strategy given new findings.\n")
	} else {
		b.WriteString("Propose the next strategy.\n")
	}
	fmt.Fprintf(&b, "Target: %s\n", sc.Target)
	fmt.Fprintf(&b, "Intent: %s\n", sc.UserIntent)
	fmt.Fprintf(&b, "Phase: %s\n", sc.Phase)
	fmt.Fprintf(&b, "Environment: %s\n", sc.Constraints.Environment)
	fmt.Fprintf(&b, "Completed tests: %s\n", strings.Join(sc.CompletedTests, ", "))
	fmt.Fprintf(&b, "Findings so far: %d\n", len(sc.CurrentFindings))
	if adapt && len(newFindings) > 0 {
		fmt.Fprintf(&b, "New findings: %s\n", strings.Join(newFindings, "; "))
	}
	return b.String()
}
