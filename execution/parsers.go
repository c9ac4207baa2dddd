package execution

import (
	"strconv"
	"strings"
	"time"

	"github.com/cartpry/pentestorch/workflow"
)

// Parser turns a tool's raw stdout into structured Findings (spec.md §4.5
// "Parsers"). target is the node's test target, attached to every Finding.
type Parser func(stdout, target string) []workflow.Finding

// defaultParsers is the built-in parser registry, grounded on spec.md §4.5's
// named tool parsers plus a generic fallback for anything else in the
// catalogue.
func defaultParsers() map[string]Parser {
	return map[string]Parser{
		"subdomain-scanner": parseSubdomains,
		"port-scanner":      parsePorts,
	}
}

// parseSubdomains treats every non-empty output line as a discovered host,
// excluding lines that mention "error" (spec.md §4.5 parser contract; also
// assumed by §4.4's `{{tool.results}}` substitution for subdomain-scanner).
func parseSubdomains(stdout, target string) []workflow.Finding {
	var findings []workflow.Finding
	for _, line := range strings.Split(stdout, "\n") {
		host := strings.TrimSpace(line)
		if host == "" || strings.Contains(strings.ToLower(host), "error") {
			continue
		}
		findings = append(findings, workflow.Finding{
			Type:       "subdomain",
			Severity:   workflow.SeverityInfo,
			Confidence: 0.95,
			Target:     target,
			Data:       map[string]any{"host": host},
		})
	}
	return findings
}

// parsePorts parses "port/proto state service" lines, one per open port.
func parsePorts(stdout, target string) []workflow.Finding {
	var findings []workflow.Finding
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.Contains(fields[0], "/") {
			continue
		}
		if !strings.EqualFold(fields[1], "open") {
			continue
		}
		portStr := strings.SplitN(fields[0], "/", 2)[0]
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		service := ""
		if len(fields) >= 3 {
			service = fields[2]
		}
		findings = append(findings, workflow.Finding{
			Type:       "port",
			Severity:   workflow.SeverityInfo,
			Confidence: 1,
			Target:     target,
			Data:       map[string]any{"port": port, "service": service},
		})
	}
	return findings
}

// genericOutputLimit is the truncation length for the default parser's
// output (spec.md §4.5 "first 1024 characters of output").
const genericOutputLimit = 1024

// parseGeneric is the fallback parser for any tool without a dedicated
// one: the raw output becomes a single low-confidence Finding for a human
// or a later phase to interpret, rather than being silently discarded.
func parseGeneric(stdout, target string) []workflow.Finding {
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return nil
	}
	if len(stdout) > genericOutputLimit {
		stdout = stdout[:genericOutputLimit]
	}
	return []workflow.Finding{{
		Type:       "generic",
		Severity:   workflow.SeverityInfo,
		Confidence: 0.3,
		Target:     target,
		Data:       map[string]any{"output": stdout},
	}}
}

func stampFindings(findings []workflow.Finding, tool, nodeID string, at time.Time) []workflow.Finding {
	for i := range findings {
		findings[i].Tool = tool
		findings[i].NodeID = nodeID
		findings[i].Timestamp = at
	}
	return findings
}
