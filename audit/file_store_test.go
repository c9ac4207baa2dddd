package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cartpry/pentestorch/eventbus"
)

func eventWithPayload(workflowID string, payload any) eventbus.Event {
	return eventbus.New(eventbus.NodeDecision, workflowID, payload)
}

func TestFileStore_AppendAndList(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	e1 := Entry{WorkflowID: "wf-1", Timestamp: time.Now(), Type: DecisionPlan, Output: Decision{Outcome: "approved"}}
	e2 := Entry{WorkflowID: "wf-1", Timestamp: time.Now(), Type: DecisionExecution, Output: Decision{Outcome: "completed"}}

	require.NoError(t, store.Append(ctx, e1))
	require.NoError(t, store.Append(ctx, e2))

	entries, err := store.List(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, DecisionPlan, entries[0].Type)
	require.Equal(t, DecisionExecution, entries[1].Type)
}

func TestFileStore_ListUnknownWorkflowIsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	entries, err := store.List(context.Background(), "never-seen")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFileStore_WorkflowsAreIsolated(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, Entry{WorkflowID: "wf-a", Type: DecisionPlan}))
	require.NoError(t, store.Append(ctx, Entry{WorkflowID: "wf-b", Type: DecisionAdapt}))

	a, err := store.List(ctx, "wf-a")
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Equal(t, DecisionPlan, a[0].Type)

	b, err := store.List(ctx, "wf-b")
	require.NoError(t, err)
	require.Len(t, b, 1)
	require.Equal(t, DecisionAdapt, b[0].Type)
}

func TestSubscriber_HandleEvent_IgnoresUnrecognizedPayload(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	sub := NewSubscriber(store)

	err = sub.HandleEvent(context.Background(), eventWithPayload("wf-1", "not an entry payload"))
	require.NoError(t, err)

	entries, err := store.List(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSubscriber_HandleEvent_AppendsRecognizedPayload(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	sub := NewSubscriber(store)

	payload := EntryPayload{Type: DecisionRestraint, Output: Decision{Outcome: "approve-with-mitigations"}}
	err = sub.HandleEvent(context.Background(), eventWithPayload("wf-1", payload))
	require.NoError(t, err)

	entries, err := store.List(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, DecisionRestraint, entries[0].Type)
}
