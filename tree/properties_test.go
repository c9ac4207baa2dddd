package tree

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/cartpry/pentestorch/planner"
	"github.com/cartpry/pentestorch/workflow"
)

// TestProperty_ConcurrencyNeverExceedsLimit is the property form of I6
// (spec.md invariant: "no more than Concurrency nodes run simultaneously"):
// for any concurrency limit and any independent node count, the observed
// peak of simultaneously-running nodes never exceeds the configured limit.
func TestProperty_ConcurrencyNeverExceedsLimit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("peak concurrent executions <= Concurrency", prop.ForAll(
		func(concurrency, nodeCount int) bool {
			var current, max int32
			exec := func(ctx context.Context, n *Node) (NodeResult, error) {
				c := atomic.AddInt32(&current, 1)
				for {
					m := atomic.LoadInt32(&max)
					if c <= m || atomic.CompareAndSwapInt32(&max, m, c) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&current, -1)
				return NodeResult{Status: StatusCompleted}, nil
			}

			var steps []planner.AttackStep
			for i := 0; i < nodeCount; i++ {
				steps = append(steps, planner.AttackStep{
					ID:     nodeIDFor(i),
					Tool:   "t",
					Target: "example.test",
				})
			}

			e := NewExecutor(workflow.EnvStaging, concurrency, exec, approveAll, nil, nil)
			_, err := e.Run(context.Background(), steps)
			return err == nil && int(atomic.LoadInt32(&max)) <= concurrency
		},
		gen.IntRange(1, 4),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// TestProperty_EveryNodeReachesTerminalStatus is the property form of I1
// (spec.md invariant: node status only moves forward to a terminal state):
// whatever mix of completions, failures, and random priorities is generated,
// Run always leaves every node in a terminal (non-pending, non-running)
// status once it returns.
func TestProperty_EveryNodeReachesTerminalStatus(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("Run leaves no node pending or running", prop.ForAll(
		func(nodeCount int, failMask uint16) bool {
			exec := func(ctx context.Context, n *Node) (NodeResult, error) {
				idx := indexFromID(n.ID)
				if failMask&(1<<uint(idx%16)) != 0 {
					return NodeResult{Status: StatusFailed, Error: "synthetic failure"}, nil
				}
				return NodeResult{Status: StatusCompleted}, nil
			}

			var steps []planner.AttackStep
			for i := 0; i < nodeCount; i++ {
				priority := "low"
				if i%3 == 0 {
					priority = "critical"
				}
				steps = append(steps, planner.AttackStep{ID: nodeIDFor(i), Tool: "t", Target: "example.test", Priority: priority})
			}

			e := NewExecutor(workflow.EnvStaging, 3, exec, approveAll, nil, nil)
			res, err := e.Run(context.Background(), steps)
			if err != nil {
				return false
			}
			for _, n := range res.Nodes {
				if n.Status == StatusPending || n.Status == StatusRunning {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 12),
		gen.UInt16Range(0, 0xFFFF),
	))

	properties.TestingRun(t)
}

// TestProperty_FindingsCountNeverExceedsEngineOutput is the property form of
// I2 (spec.md invariant: reported findings never exceed what the Execution
// Engine actually returned): the total findings recorded across all nodes in
// the final Result equals the sum of the findings each node's execution
// produced, never inflated or silently duplicated by the scheduler.
func TestProperty_FindingsCountNeverExceedsEngineOutput(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("total recorded findings equals the sum produced by execution", prop.ForAll(
		func(nodeCount int, findingsPerNode uint8) bool {
			perNode := int(findingsPerNode % 4)
			exec := func(ctx context.Context, n *Node) (NodeResult, error) {
				var findings []workflow.Finding
				for i := 0; i < perNode; i++ {
					findings = append(findings, workflow.Finding{Type: "generic"})
				}
				return NodeResult{Status: StatusCompleted, Findings: findings}, nil
			}

			var steps []planner.AttackStep
			for i := 0; i < nodeCount; i++ {
				steps = append(steps, planner.AttackStep{ID: nodeIDFor(i), Tool: "t", Target: "example.test"})
			}

			e := NewExecutor(workflow.EnvStaging, 3, exec, approveAll, nil, nil)
			res, err := e.Run(context.Background(), steps)
			if err != nil {
				return false
			}
			total := 0
			for _, n := range res.Nodes {
				if n.Result != nil {
					total += len(n.Result.Findings)
				}
			}
			return total == nodeCount*perNode
		},
		gen.IntRange(1, 8),
		gen.UInt8Range(0, 255),
	))

	properties.TestingRun(t)
}

func nodeIDFor(i int) string {
	return "n-" + strconv.Itoa(i)
}

func indexFromID(id string) int {
	// ids are generated by nodeIDFor as "n-<index>"; hash the id into a
	// stable non-negative int for a deterministic fail-mask lookup.
	var idx int
	for _, r := range id {
		idx = idx*31 + int(r)
	}
	if idx < 0 {
		idx = -idx
	}
	return idx
}
