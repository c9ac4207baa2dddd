package tree

import (
	"fmt"
	"strconv"
	"strings"
)

// evaluate reports whether all of a node's conditions hold against the
// accumulated per-node results (spec.md §4.4 "Condition evaluation").
func evaluate(conds []Condition, results map[string]*NodeResult) bool {
	for _, c := range conds {
		if !evaluateOne(c, results) {
			return false
		}
	}
	return true
}

func evaluateOne(c Condition, results map[string]*NodeResult) bool {
	switch c.Type {
	case "finding_exists":
		for _, r := range results {
			if r != nil && len(r.Findings) > 0 {
				return true
			}
		}
		return false

	case "no_findings":
		target := fmt.Sprint(c.Value)
		r, ok := results[target]
		return !ok || r == nil || len(r.Findings) == 0

	case "finding_matches":
		r, ok := results[c.NodeID]
		if !ok || r == nil {
			return false
		}
		for _, f := range r.Findings {
			v, ok := f.Data[c.Field]
			if !ok {
				continue
			}
			if matchOperator(c.Operator, v, c.Value) {
				return true
			}
		}
		return false

	default:
		return true
	}
}

func matchOperator(op string, field, want any) bool {
	switch op {
	case "equals":
		return fmt.Sprint(field) == fmt.Sprint(want)
	case "contains":
		return strings.Contains(fmt.Sprint(field), fmt.Sprint(want))
	case "greater_than":
		fv, ferr := toFloat(field)
		wv, werr := toFloat(want)
		return ferr == nil && werr == nil && fv > wv
	default:
		return false
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("not numeric: %v", v)
	}
}
