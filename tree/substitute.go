package tree

import (
	"regexp"
	"strings"
)

var resultRef = regexp.MustCompile(`^\{\{([a-zA-Z0-9_-]+)\.results\}\}$`)

// substituteParameters resolves `{{tool.results}}` parameter references
// just before dispatch (spec.md §4.4 "Parameter substitution"). byTool
// indexes the first completed node of each tool name.
func substituteParameters(params map[string]any, byTool map[string]*Node) map[string]any {
	if len(params) == 0 {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		m := resultRef.FindStringSubmatch(s)
		if m == nil {
			out[k] = v
			continue
		}
		tool := m[1]
		node, ok := byTool[tool]
		if !ok || node.Result == nil {
			out[k] = v
			continue
		}
		out[k] = resolveToolResult(tool, node.Result)
	}
	return out
}

// resolveToolResult yields the substitution value for a given tool's
// completed result: for subdomain-scanner, the non-empty output lines; for
// everything else, the findings list.
func resolveToolResult(tool string, r *NodeResult) any {
	if tool == "subdomain-scanner" {
		var lines []string
		for _, line := range strings.Split(r.Output, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				lines = append(lines, line)
			}
		}
		return lines
	}
	return r.Findings
}

// firstCompletedByTool indexes, for each tool, the earliest-completed node
// of that tool.
func firstCompletedByTool(nodes map[string]*Node, order []string) map[string]*Node {
	byTool := make(map[string]*Node)
	for _, id := range order {
		n := nodes[id]
		if n == nil || n.Status != StatusCompleted {
			continue
		}
		if _, ok := byTool[n.Tool]; !ok {
			byTool[n.Tool] = n
		}
	}
	return byTool
}
