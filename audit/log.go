// Package audit implements the Audit subscriber of spec.md §4.7: it listens
// on the Event Bus and persists Decision Log Entries append-only.
package audit

import (
	"context"
	"time"

	"github.com/cartpry/pentestorch/eventbus"
)

// DecisionType enumerates the kinds of decisions the orchestrator records.
type DecisionType string

const (
	DecisionPlan          DecisionType = "plan"
	DecisionAdapt         DecisionType = "adapt"
	DecisionRestraint     DecisionType = "restraint"
	DecisionApproval      DecisionType = "approval"
	DecisionExecution     DecisionType = "execution"
)

// Decision captures the output side of a Decision Log Entry.
type Decision struct {
	Outcome    string
	Reasoning  string
	Confidence float64
}

// Metadata carries provenance about how a decision was produced.
type Metadata struct {
	Model   string
	LatencyMS int64
	Tool    string
}

// Entry is a single append-only Decision Log Entry (spec.md §3).
type Entry struct {
	WorkflowID string
	Timestamp  time.Time
	Type       DecisionType
	Input      map[string]any
	Output     Decision
	Metadata   Metadata
}

// Store persists Decision Log Entries append-only. Implementations must
// never mutate or delete existing entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, workflowID string) ([]Entry, error)
}

// Subscriber adapts a Store into an eventbus.Subscriber that extracts
// Decision Log Entries from the subset of events that carry one.
type Subscriber struct {
	store Store
}

// NewSubscriber builds an audit Subscriber backed by store.
func NewSubscriber(store Store) *Subscriber {
	return &Subscriber{store: store}
}

// HandleEvent appends a Decision Log Entry when event.Payload carries one.
// Events without an EntryPayload are ignored (not every published event
// represents an auditable decision).
func (s *Subscriber) HandleEvent(ctx context.Context, event eventbus.Event) error {
	payload, ok := event.Payload.(EntryPayload)
	if !ok {
		return nil
	}
	entry := Entry{
		WorkflowID: event.WorkflowID,
		Timestamp:  event.Timestamp,
		Type:       payload.Type,
		Input:      payload.Input,
		Output:     payload.Output,
		Metadata:   payload.Metadata,
	}
	return s.store.Append(ctx, entry)
}

// EntryPayload is the event Payload shape recognized by Subscriber. Any
// component that wants a decision recorded publishes an event whose Payload
// is an EntryPayload.
type EntryPayload struct {
	Type     DecisionType
	Input    map[string]any
	Output   Decision
	Metadata Metadata
}
