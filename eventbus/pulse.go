package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// PulseStream is the subset of a goa.design/pulse stream required to mirror
// events durably. It is satisfied by the thin Pulse client wrapper used
// elsewhere in the codebase (a Redis-backed stream per workflow).
type PulseStream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
	NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (PulseSink, error)
}

// PulseSink mirrors a Pulse consumer group.
type PulseSink interface {
	Subscribe() <-chan *streaming.Event
	Ack(context.Context, *streaming.Event) error
	Close(context.Context)
}

// PulseMirror is a Bus Subscriber that republishes every event onto a Pulse
// (Redis-backed) stream, so an out-of-scope external dashboard can subscribe
// durably without the core Bus depending on Redis. Registering this
// subscriber never blocks other subscribers on a Redis outage: Add errors
// are swallowed (logged upstream by the caller if desired) rather than
// propagated, since a dropped mirror entry must never halt orchestration.
type PulseMirror struct {
	stream PulseStream
}

// NewPulseMirror builds a mirror subscriber that writes onto stream.
func NewPulseMirror(stream PulseStream) *PulseMirror {
	return &PulseMirror{stream: stream}
}

// HandleEvent marshals event to JSON and appends it to the Pulse stream
// under an event name matching its Type.
func (m *PulseMirror) HandleEvent(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := m.stream.Add(ctx, string(event.Type), payload); err != nil {
		// Mirroring is best-effort: the in-process Bus remains the source of
		// truth, so a Redis hiccup must not stop the publish chain for other
		// (in-process) subscribers. Swallow rather than return.
		return nil
	}
	return nil
}
