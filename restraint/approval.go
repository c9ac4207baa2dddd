package restraint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cartpry/pentestorch/eventbus"
)

// ApprovalType enumerates the kinds of approval requests (spec.md §3).
type ApprovalType string

const (
	ApprovalTestExecution     ApprovalType = "test-execution"
	ApprovalPhaseTransition   ApprovalType = "phase-transition"
	ApprovalRestraintOverride ApprovalType = "restraint-override"
	ApprovalDataAccess        ApprovalType = "data-access"
	ApprovalExploitation      ApprovalType = "exploitation"
)

// ApprovalStatus is the lifecycle state of an Approval Request
// (spec.md §3 invariant iv).
type ApprovalStatus string

const (
	ApprovalPending    ApprovalStatus = "pending"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalDeniedS    ApprovalStatus = "denied"
	ApprovalTimedOut   ApprovalStatus = "timeout"
	ApprovalEscalatedS ApprovalStatus = "escalated"
)

// RequestContext carries the target/test/phase/severity/reason shown to a
// reviewer.
type RequestContext struct {
	Target   string
	Test     string
	Phase    string
	Severity string
	Reason   string
}

// RequestMetadata carries controls/OWASP categories/impact shown alongside
// a request.
type RequestMetadata struct {
	Controls       []string
	OWASPCategories []string
	Impact         string
}

// DecisionRecord captures the human decision once an approval resolves.
type DecisionRecord struct {
	Approver   string
	Timestamp  time.Time
	Reason     string
	Conditions []string
}

// Escalation records an escalation step.
type Escalation struct {
	Level     int
	Target    string
	Timestamp time.Time
}

// Request is an Approval Request (spec.md §3).
type Request struct {
	ID         string
	WorkflowID string
	Type       ApprovalType
	Context    RequestContext
	Metadata   RequestMetadata
	Timeout    time.Duration
	Status     ApprovalStatus
	Decision   *DecisionRecord
	Escalation *Escalation
	CreatedAt  time.Time
}

// Resolution is the caller-facing decision payload for ProcessApproval
// (spec.md §6 "Approval").
type Resolution struct {
	Approved   bool
	Approver   string
	Reason     string
	Conditions []string
}

// Notifier is the abstract notification interface for approval channels
// (spec.md §4.6 "notify subscribed channels"). The core ships only a
// logging no-op; Slack/email delivery is explicitly out of scope.
type Notifier interface {
	Notify(ctx context.Context, req Request) error
}

// NoopNotifier discards notifications.
type NoopNotifier struct{}

// Notify does nothing.
func (NoopNotifier) Notify(context.Context, Request) error { return nil }

// AutoApprovePolicy names a policy that may auto-approve a request before it
// becomes pending (spec.md §4.6 step 1: "production-safety, data-protection,
// exploitation-control, auth-testing").
type AutoApprovePolicy struct {
	Name      string
	Predicate func(Request) bool
	Timeout   time.Duration
}

// Callback is invoked exactly once when a Request reaches a terminal status.
type Callback func(Request)

type pendingEntry struct {
	req      Request
	callback Callback
	timer    *time.Timer
	level    int
}

// EscalationPath names the reviewer targets tried in order as a request
// escalates past its timeout.
type EscalationPath []string

// Subsystem implements the human-in-the-loop Approval subsystem
// (spec.md §4.6).
type Subsystem struct {
	mu          sync.Mutex
	pending     map[string]*pendingEntry
	policies    []AutoApprovePolicy
	escalations map[ApprovalType]EscalationPath
	notifier    Notifier
	bus         eventbus.Bus
}

// Option configures a Subsystem.
type Option func(*Subsystem)

// WithPolicies configures the auto-approve policies evaluated in order.
func WithPolicies(policies ...AutoApprovePolicy) Option {
	return func(s *Subsystem) { s.policies = policies }
}

// WithEscalationPath configures the escalation targets for a given approval
// type.
func WithEscalationPath(typ ApprovalType, path EscalationPath) Option {
	return func(s *Subsystem) {
		if s.escalations == nil {
			s.escalations = map[ApprovalType]EscalationPath{}
		}
		s.escalations[typ] = path
	}
}

// WithNotifier configures the notification channel. Defaults to NoopNotifier.
func WithNotifier(n Notifier) Option {
	return func(s *Subsystem) { s.notifier = n }
}

// WithBus configures the eventbus.Bus used to emit approval:* events.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Subsystem) { s.bus = bus }
}

// NewSubsystem constructs an Approval Subsystem.
func NewSubsystem(opts ...Option) *Subsystem {
	s := &Subsystem{
		pending:     make(map[string]*pendingEntry),
		escalations: make(map[ApprovalType]EscalationPath),
		notifier:    NoopNotifier{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Request builds and registers a new Approval Request for workflowID, given
// the severity/reason context from a require-approval Verdict. It returns
// immediately; the caller observes the terminal outcome via callback.
//
// Step 1 of spec.md §4.6: policies are matched in order; the first whose
// auto-approve predicate holds approves immediately with reason "policy
// auto-approval". Otherwise the request is held pending in memory, the
// notifier is invoked, and a timeout timer is armed using the timeout
// argument.
func (s *Subsystem) Request(ctx context.Context, workflowID string, typ ApprovalType, rc RequestContext, md RequestMetadata, timeout time.Duration, callback Callback) Request {
	req := Request{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Type:       typ,
		Context:    rc,
		Metadata:   md,
		Timeout:    timeout,
		Status:     ApprovalPending,
		CreatedAt:  time.Now(),
	}

	for _, pol := range s.policies {
		if pol.Predicate(req) {
			req.Status = ApprovalApproved
			req.Decision = &DecisionRecord{
				Approver:  "policy:" + pol.Name,
				Timestamp: time.Now(),
				Reason:    "policy auto-approval",
			}
			s.publish(ctx, eventbus.ApprovalProcessed, req)
			if callback != nil {
				callback(req)
			}
			return req
		}
	}

	s.mu.Lock()
	entry := &pendingEntry{req: req, callback: callback}
	entry.timer = time.AfterFunc(timeout, func() { s.onTimeout(req.ID) })
	s.pending[req.ID] = entry
	s.mu.Unlock()

	_ = s.notifier.Notify(ctx, req)
	s.publish(ctx, eventbus.ApprovalRequested, req)
	return req
}

// ProcessApproval transitions a pending (or escalated) request to approved
// or denied, invokes the registered callback, and emits approval:processed.
func (s *Subsystem) ProcessApproval(ctx context.Context, id string, res Resolution) (Request, error) {
	s.mu.Lock()
	entry, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return Request{}, fmt.Errorf("approval %s: %w", id, errNotFound)
	}
	if entry.req.Status != ApprovalPending && entry.req.Status != ApprovalEscalatedS {
		status := entry.req.Status
		s.mu.Unlock()
		return Request{}, fmt.Errorf("approval %s already resolved as %s", id, status)
	}
	entry.timer.Stop()
	if res.Approved {
		entry.req.Status = ApprovalApproved
	} else {
		entry.req.Status = ApprovalDeniedS
	}
	entry.req.Decision = &DecisionRecord{
		Approver:   res.Approver,
		Timestamp:  time.Now(),
		Reason:     res.Reason,
		Conditions: res.Conditions,
	}
	delete(s.pending, id)
	req := entry.req
	cb := entry.callback
	s.mu.Unlock()

	s.publish(ctx, eventbus.ApprovalProcessed, req)
	if cb != nil {
		cb(req)
	}
	return req, nil
}

// onTimeout transitions a request to timeout, or escalates it if an
// escalation path remains.
func (s *Subsystem) onTimeout(id string) {
	s.mu.Lock()
	entry, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	path := s.escalations[entry.req.Type]
	if entry.level < len(path) {
		target := path[entry.level]
		entry.level++
		entry.req.Status = ApprovalEscalatedS
		entry.req.Escalation = &Escalation{
			Level:     entry.level,
			Target:    target,
			Timestamp: time.Now(),
		}
		entry.timer = time.AfterFunc(entry.req.Timeout, func() { s.onTimeout(id) })
		req := entry.req
		s.mu.Unlock()

		_ = s.notifier.Notify(context.Background(), req)
		s.publish(context.Background(), eventbus.ApprovalEscalated, req)
		return
	}

	// Escalation path exhausted (or none configured): log and leave timed out.
	entry.req.Status = ApprovalTimedOut
	entry.req.Decision = &DecisionRecord{
		Approver:  "system",
		Timestamp: time.Now(),
		Reason:    "request timed out",
	}
	delete(s.pending, id)
	req := entry.req
	cb := entry.callback
	s.mu.Unlock()

	s.publish(context.Background(), eventbus.ApprovalTimeout, req)
	if cb != nil {
		cb(req)
	}
}

// DenyAllPending denies every pending (or escalated) request for workflowID
// with reason, used by workflow cancellation (spec.md §5 "Cancellation").
// Idempotent: a workflow with no pending approvals is a no-op.
func (s *Subsystem) DenyAllPending(ctx context.Context, workflowID, reason string) {
	s.mu.Lock()
	var toResolve []*pendingEntry
	for id, entry := range s.pending {
		if entry.req.WorkflowID != workflowID {
			continue
		}
		entry.timer.Stop()
		entry.req.Status = ApprovalDeniedS
		entry.req.Decision = &DecisionRecord{Approver: "system", Timestamp: time.Now(), Reason: reason}
		toResolve = append(toResolve, entry)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for _, entry := range toResolve {
		s.publish(ctx, eventbus.ApprovalProcessed, entry.req)
		if entry.callback != nil {
			entry.callback(entry.req)
		}
	}
}

func (s *Subsystem) publish(ctx context.Context, typ eventbus.Type, req Request) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, eventbus.New(typ, req.WorkflowID, req))
}

var errNotFound = errors.New("approval not found")
