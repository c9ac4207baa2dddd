package execution

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cartpry/pentestorch/catalog"
	"github.com/cartpry/pentestorch/restraint"
)

type fakeRuntime struct {
	run func(ctx context.Context, spec RunSpec) (RunOutput, error)
}

func (f fakeRuntime) Run(ctx context.Context, spec RunSpec) (RunOutput, error) {
	return f.run(ctx, spec)
}

// loadCatalogEntry writes entry to a temporary catalogue file and loads it,
// since Catalog exposes no direct mutation API outside Load.
func loadCatalogEntry(t *testing.T, entry catalog.Entry) *catalog.Catalog {
	t.Helper()
	data, err := json.Marshal([]catalog.Entry{entry})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "catalogue.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	cat, err := catalog.Load(path)
	require.NoError(t, err)
	return cat
}

func TestEngine_Execute_Completed(t *testing.T) {
	cat := loadCatalogEntry(t, catalog.Entry{
		Name:    "subdomain-scanner",
		Image:   "tools/subdomain-scanner",
		Command: []string{"scan"},
	})
	runtime := fakeRuntime{run: func(ctx context.Context, spec RunSpec) (RunOutput, error) {
		return RunOutput{ExitCode: 0, Stdout: "a.example.test\nb.example.test\n"}, nil
	}}
	eng := New(cat, restraint.NewEngine(restraint.RuleFunc(func(restraint.Candidate) restraint.Verdict {
		return restraint.Verdict{Decision: restraint.DecisionApprove}
	})), runtime, "", 1)

	res := eng.Execute(context.Background(), Spec{Tool: "subdomain-scanner", Target: "example.test"})
	require.Equal(t, "completed", res.Status)
	require.Len(t, res.Findings, 2)
}

// TestEngine_Execute_Timeout exercises Scenario C: a tool that never exits
// is killed at the catalogue's maxTimeoutMs and the node result is "failed"
// with error "execution timeout".
func TestEngine_Execute_Timeout(t *testing.T) {
	cat := loadCatalogEntry(t, catalog.Entry{
		Name:         "slow-tool",
		Image:        "tools/slow-tool",
		Command:      []string{"run"},
		MaxTimeoutMS: 60000,
	})
	runtime := fakeRuntime{run: func(ctx context.Context, spec RunSpec) (RunOutput, error) {
		require.Equal(t, 60*time.Second, spec.Timeout)
		return RunOutput{}, errors.New("execution timeout")
	}}
	eng := New(cat, restraint.NewEngine(restraint.RuleFunc(func(restraint.Candidate) restraint.Verdict {
		return restraint.Verdict{Decision: restraint.DecisionApprove}
	})), runtime, "", 1)

	res := eng.Execute(context.Background(), Spec{Tool: "slow-tool", Target: "example.test"})
	require.Equal(t, "failed", res.Status)
	require.Contains(t, res.Error, "execution timeout")
}

func TestEngine_Execute_DeniedByRestraint(t *testing.T) {
	cat := loadCatalogEntry(t, catalog.Entry{Name: "tool", Image: "img"})
	eng := New(cat, restraint.NewEngine(restraint.RuleFunc(func(restraint.Candidate) restraint.Verdict {
		return restraint.Verdict{Decision: restraint.DecisionDeny, Reason: "not permitted"}
	})), fakeRuntime{run: func(context.Context, RunSpec) (RunOutput, error) {
		t.Fatal("runtime must not be invoked when denied")
		return RunOutput{}, nil
	}}, "", 1)

	res := eng.Execute(context.Background(), Spec{Tool: "tool", Target: "example.test"})
	require.Equal(t, "failed", res.Status)
	require.Contains(t, res.Error, "not permitted")
}
