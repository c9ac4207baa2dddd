package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishFanOutInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var order []string

	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}))
		require.NoError(t, err)
	}

	require.NoError(t, bus.Publish(context.Background(), New(WorkflowStart, "wf-1", nil)))
	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestBus_PublishStopsAtFirstError(t *testing.T) {
	bus := NewBus()
	var secondCalled bool

	_, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, err)
	_, err = bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		secondCalled = true
		return nil
	}))
	require.NoError(t, err)

	err = bus.Publish(context.Background(), New(WorkflowStart, "wf-1", nil))
	require.Error(t, err)
	require.False(t, secondCalled, "fan-out must stop at the first subscriber error")
}

func TestBus_RegisterNilRejected(t *testing.T) {
	bus := NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}

func TestBus_UnregisterStopsDelivery(t *testing.T) {
	bus := NewBus()
	var calls int
	sub, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		calls++
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), New(WorkflowStart, "wf-1", nil)))
	require.Equal(t, 1, calls)

	require.NoError(t, sub.Close())
	require.NoError(t, bus.Publish(context.Background(), New(WorkflowStart, "wf-1", nil)))
	require.Equal(t, 1, calls, "closed subscription must not receive further events")

	require.NoError(t, sub.Close(), "Close must be idempotent")
}

func TestBus_PublishWithNoSubscribers(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Publish(context.Background(), New(WorkflowStart, "wf-1", nil)))
}
