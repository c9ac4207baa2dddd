// Package errs defines the orchestrator's error taxonomy (spec.md §7).
// Each error type carries enough structured context to be logged and
// audited, and to be matched by callers via errors.As.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for not-found lookups.
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrNodeNotFound     = errors.New("node not found")
	ErrApprovalNotFound = errors.New("approval not found")
)

// ValidationError indicates a submission or parameter schema is invalid. It
// is surfaced to the caller at submit time and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field %q: %s", e.Field, e.Reason)
}

// PlannerError indicates the upstream LLM call failed or returned
// unparseable or unsafe output. The orchestrator handles it locally by
// substituting the deterministic fallback strategy.
type PlannerError struct {
	Phase string
	Cause error
}

func (e *PlannerError) Error() string {
	return fmt.Sprintf("planner error in phase %q: %v", e.Phase, e.Cause)
}

func (e *PlannerError) Unwrap() error { return e.Cause }

// ExecutionError indicates a container image was missing, failed to start,
// exited non-zero with a stream-level error, or timed out. It is reported
// as a node result with status "failed" and may trigger a retry.
type ExecutionError struct {
	Tool string
	Node string
	Kind string // e.g. "image-missing", "start-failure", "timeout", "stream-error"
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error for tool %q (node %s): %s: %v", e.Tool, e.Node, e.Kind, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// RestraintDenyError indicates a policy rule denied a test. It is reported
// as a node status "skipped" with a reason, and is never retried.
type RestraintDenyError struct {
	Tool   string
	Reason string
}

func (e *RestraintDenyError) Error() string {
	return fmt.Sprintf("restraint denied tool %q: %s", e.Tool, e.Reason)
}

// ApprovalTimeoutError indicates a pending approval exceeded its timeout.
type ApprovalTimeoutError struct {
	ApprovalID string
}

func (e *ApprovalTimeoutError) Error() string {
	return fmt.Sprintf("approval %s timed out", e.ApprovalID)
}

// ApprovalDeniedError indicates a human or policy reviewer denied an
// approval request.
type ApprovalDeniedError struct {
	ApprovalID string
	Approver   string
	Reason     string
}

func (e *ApprovalDeniedError) Error() string {
	return fmt.Sprintf("approval %s denied by %s: %s", e.ApprovalID, e.Approver, e.Reason)
}

// CancelledError indicates graceful termination in response to a workflow
// cancellation. Partial results are preserved.
type CancelledError struct {
	WorkflowID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("workflow %s cancelled", e.WorkflowID)
}

// FatalError indicates an unrecoverable internal inconsistency. The owning
// workflow's status becomes "failed" and the cause is captured in metadata.
type FatalError struct {
	WorkflowID string
	Cause      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error in workflow %s: %v", e.WorkflowID, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }
