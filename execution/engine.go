package execution

import (
	"fmt"
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cartpry/pentestorch/catalog"
	"github.com/cartpry/pentestorch/restraint"
)

const defaultTimeout = 5 * time.Minute

// Engine runs the Execution Engine's per-node pipeline (spec.md §4.5):
// catalog lookup, restraint evaluation, target validation, wordlist
// resolution, parameter normalization, argv validation, image preparation,
// container invocation, deadline enforcement, exit handling, and output
// parsing, under a global concurrency semaphore. Target validation only
// rejects an empty target; the target string is passed to the tool
// unchanged, so a doubled scheme such as "https://https://" is not
// collapsed.
type Engine struct {
	catalog      *catalog.Catalog
	restraint    *restraint.Engine
	runtime      ContainerRuntime
	wordlistRoot string
	parsers      map[string]Parser
	sem          chan struct{}
}

// New builds an Engine. concurrency below 1 defaults to 3 (spec.md §4.5).
func New(cat *catalog.Catalog, restraintEngine *restraint.Engine, runtime ContainerRuntime, wordlistRoot string, concurrency int) *Engine {
	if concurrency < 1 {
		concurrency = 3
	}
	return &Engine{
		catalog:      cat,
		restraint:    restraintEngine,
		runtime:      runtime,
		wordlistRoot: wordlistRoot,
		parsers:      defaultParsers(),
		sem:          make(chan struct{}, concurrency),
	}
}

// Execute runs spec's pipeline to completion and returns its Result. It
// never returns an error itself; pipeline failures are reported as a
// failed Result so callers have one uniform outcome shape.
func (e *Engine) Execute(ctx context.Context, spec Spec) Result {
	started := time.Now()

	entry, known := e.catalog.Lookup(spec.Tool)
	if !known {
		return failResult(started, "tool %q is not in the catalogue", spec.Tool)
	}

	verdict := e.restraint.Evaluate(restraint.Candidate{
		Tool:         spec.Tool,
		Environment:  spec.Environment,
		Target:       spec.Target,
		Parameters:   spec.Parameters,
		RequiresAuth: spec.RequiresAuth,
		Priority:     spec.Priority,
	})
	switch verdict.Decision {
	case restraint.DecisionDeny:
		return failResult(started, "denied by restraint rules: %s", verdict.Reason)
	case restraint.DecisionRequireApproval:
		// Approval gating is the Dynamic Test Tree's responsibility, resolved
		// before Execute is ever called. Seeing it here means that gate was
		// skipped, so fail safe rather than run an unapproved test.
		return failResult(started, "execution requested without prior approval: %s", verdict.Reason)
	case restraint.DecisionApproveWithMitigations:
		spec.Parameters = restraint.MergeMitigations(spec.Parameters, verdict.Mitigations)
	}

	if err := validateTargetScope(spec.Target); err != nil {
		return failResult(started, "%v", err)
	}

	params, warnings := resolveWordlist(spec.Parameters, e.wordlistRoot)
	params = mergeDefaults(entry.DefaultParams, params)

	argv, err := buildArgv(entry, params, spec.Target)
	if err != nil {
		return failResultWithWarnings(started, warnings, "%v", err)
	}
	argvStr := strings.Join(argv, " ")
	if e.catalog.ContainsForbidden(spec.Tool, argvStr) {
		return failResultWithWarnings(started, warnings, "argv contains a forbidden flag or verb for tool %q", spec.Tool)
	}

	if entry.Image == "" {
		return failResultWithWarnings(started, warnings, "catalogue entry for %q has no image", spec.Tool)
	}

	timeout := defaultTimeout
	if entry.MaxTimeoutMS > 0 {
		timeout = time.Duration(entry.MaxTimeoutMS) * time.Millisecond
	}

	e.sem <- struct{}{}
	out, runErr := e.runtime.Run(ctx, RunSpec{Image: entry.Image, Argv: argv, Mounts: entry.Mounts, Timeout: timeout})
	<-e.sem

	if runErr != nil {
		return Result{
			Status:   "failed",
			Error:    runErr.Error(),
			ExitCode: out.ExitCode,
			Output:   out.Stdout,
			Duration: time.Since(started),
			Warnings: warnings,
		}
	}
	if out.ExitCode != 0 {
		return Result{
			Status:   "failed",
			Error:    fmt.Sprintf("tool exited with code %d: %s", out.ExitCode, firstLines(out.Stderr, 5)),
			ExitCode: out.ExitCode,
			Output:   out.Stdout,
			Duration: time.Since(started),
			Warnings: warnings,
		}
	}

	parser, ok := e.parsers[spec.Tool]
	if !ok {
		parser = parseGeneric
	}
	findings := stampFindings(parser(out.Stdout, spec.Target), spec.Tool, spec.NodeID, time.Now())

	return Result{
		Status:   "completed",
		Findings: findings,
		Output:   out.Stdout,
		ExitCode: out.ExitCode,
		Duration: time.Since(started),
		Warnings: warnings,
	}
}

func failResult(started time.Time, format string, args ...any) Result {
	return Result{Status: "failed", Error: fmt.Sprintf(format, args...), Duration: time.Since(started)}
}

func failResultWithWarnings(started time.Time, warnings []string, format string, args ...any) Result {
	r := failResult(started, format, args...)
	r.Warnings = warnings
	return r
}

func validateTargetScope(target string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("target must not be empty")
	}
	return nil
}

func mergeDefaults(defaults, params map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(params))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}

// buildArgv assembles the container command line deterministically:
// catalogue command, then catalogue default argv, then sorted `--key=value`
// flags derived from parameters, then the target.
func buildArgv(entry catalog.Entry, params map[string]any, target string) ([]string, error) {
	for _, req := range entry.RequiredParams {
		if _, ok := params[req]; !ok {
			return nil, fmt.Errorf("missing required parameter %q for tool %q", req, entry.Name)
		}
	}

	argv := append([]string{}, entry.Command...)
	argv = append(argv, entry.DefaultArgv...)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(entry.AllowedFlags) > 0 {
		allowed := make(map[string]struct{}, len(entry.AllowedFlags))
		for _, f := range entry.AllowedFlags {
			allowed[f] = struct{}{}
		}
		for _, k := range keys {
			if _, ok := allowed[k]; !ok {
				return nil, fmt.Errorf("parameter %q is not an allowed flag for tool %q", k, entry.Name)
			}
		}
	}

	for _, k := range keys {
		argv = append(argv, fmt.Sprintf("--%s=%v", k, params[k]))
	}
	if target != "" {
		argv = append(argv, target)
	}
	return argv, nil
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
