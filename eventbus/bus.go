// Package eventbus implements the Event Bus (spec.md §4.7): a synchronous
// in-process fan-out of the orchestrator's event vocabulary. Persistence
// (the Audit subscriber) and any external transport are subscribers, never
// callers, keeping the core independent of storage and transport choices.
package eventbus

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus publishes orchestrator events to registered subscribers in a
	// fan-out pattern. The bus is thread-safe and supports concurrent
	// Publish, Register, and Close operations.
	//
	// Events are delivered synchronously in the publisher's goroutine, and
	// iteration stops at the first subscriber error. This fail-fast
	// behavior lets a critical subscriber (e.g. the Audit persister) halt a
	// publish if it hits an unrecoverable error.
	Bus interface {
		// Publish delivers event to every currently registered subscriber,
		// in registration order, stopping at the first error.
		Publish(ctx context.Context, event Event) error

		// Register adds a subscriber and returns a Subscription that can be
		// closed to unregister it.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a plain function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration on a Bus.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		subscribers []*subscription
	}

	subscription struct {
		bus  *bus
		sub  Subscriber
		once sync.Once
	}
)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// NewBus constructs a new in-memory event bus, ready for immediate use.
func NewBus() Bus {
	return &bus{}
}

// Publish delivers event to every currently registered subscriber in
// registration order. If no subscribers are registered, Publish returns nil
// immediately. The snapshot of subscribers is captured before iteration
// begins, so registrations/unregistrations during Publish do not affect the
// current delivery.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s.sub)
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Register adds sub to the bus and returns a Subscription handle that can be
// closed to unregister it. Returns an error if sub is nil.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, s)
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus. Idempotent and thread-safe.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		for i, other := range s.bus.subscribers {
			if other == s {
				s.bus.subscribers = append(s.bus.subscribers[:i:i], s.bus.subscribers[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
