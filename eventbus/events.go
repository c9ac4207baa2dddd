package eventbus

import "time"

// Type enumerates the orchestrator's event vocabulary (spec.md §4.7).
type Type string

const (
	WorkflowStart        Type = "workflow:start"
	WorkflowClassified   Type = "workflow:classified"
	WorkflowEnriched     Type = "workflow:enriched"
	WorkflowPhaseStart   Type = "workflow:phase:start"
	WorkflowPhaseComplete Type = "workflow:phase:complete"
	WorkflowCompleted    Type = "workflow:completed"
	WorkflowFailed       Type = "workflow:failed"
	WorkflowCancelled    Type = "workflow:cancelled"

	NodeDecision Type = "node:decision"
	NodeStart    Type = "node:start"
	NodeComplete Type = "node:complete"
	NodeFailed   Type = "node:failed"

	ExecutionStart    Type = "execution:start"
	ExecutionComplete Type = "execution:complete"
	ExecutionFailed   Type = "execution:failed"

	ApprovalRequested Type = "approval:requested"
	ApprovalProcessed Type = "approval:processed"
	ApprovalTimeout   Type = "approval:timeout"
	ApprovalEscalated Type = "approval:escalated"

	TreeBuilt   Type = "tree:built"
	TreeAdapted Type = "tree:adapted"
)

// Event is a JSON-serializable record published on the Bus. Every event
// carries at minimum Type, WorkflowID, and Timestamp (spec.md §6 "Event
// stream"); Payload holds the event-specific data.
type Event struct {
	Type       Type
	WorkflowID string
	Timestamp  time.Time
	Payload    any
}

// New builds an Event stamped with the current time.
func New(typ Type, workflowID string, payload any) Event {
	return Event{Type: typ, WorkflowID: workflowID, Timestamp: time.Now(), Payload: payload}
}
