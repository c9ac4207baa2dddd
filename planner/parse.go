package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cartpry/pentestorch/workflow"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractJSON pulls a JSON object out of raw LLM response text, optionally
// wrapped in a fenced code block (spec.md §4.3 "Output parsing"). If no
// fenced block is found, the first top-level `{...}` span is used.
func extractJSON(raw string) (string, error) {
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	start := strings.Index(raw, "{")
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}

// rawStrategy mirrors Strategy's wire shape loosely (estimatedDuration
// arrives as minutes, not a Go duration).
type rawStrategy struct {
	Phase                string       `json:"phase"`
	Reasoning            string       `json:"reasoning"`
	Recommendations      []AttackStep `json:"recommendations"`
	ConfidenceLevel      float64      `json:"confidenceLevel"`
	EstimatedDuration    float64      `json:"estimatedDuration"`
	SafetyConsiderations []string     `json:"safetyConsiderations"`
}

// ParseStrategy extracts and decodes a Strategy from raw LLM response text,
// applying the field defaults mandated by spec.md §4.3.
func ParseStrategy(raw string, ctx StrategyContext) (Strategy, error) {
	js, err := extractJSON(raw)
	if err != nil {
		return Strategy{}, err
	}
	var rs rawStrategy
	if err := json.Unmarshal([]byte(js), &rs); err != nil {
		return Strategy{}, fmt.Errorf("decode strategy: %w", err)
	}
	s := Strategy{
		Reasoning:            rs.Reasoning,
		Recommendations:      rs.Recommendations,
		ConfidenceLevel:      rs.ConfidenceLevel,
		SafetyConsiderations: rs.SafetyConsiderations,
	}
	if rs.Phase != "" {
		s.Phase = workflow.PhaseName(rs.Phase)
	}
	if rs.EstimatedDuration > 0 {
		s.EstimatedDuration = time.Duration(rs.EstimatedDuration) * time.Minute
	}
	return defaulted(s, ctx), nil
}
