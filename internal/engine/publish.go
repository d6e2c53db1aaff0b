package engine

import (
	"context"
	"log/slog"

	"github.com/regygeorge/nx-workflow/internal/store"
	"github.com/regygeorge/nx-workflow/internal/streaming"
)

// WithHub publishes every history event to hub once its transaction commits.
func WithHub(h streaming.EventHub) Option {
	return func(e *Engine) { e.hub = h }
}

// recordingPort remembers the events appended through a transactional Port.
type recordingPort struct {
	store.Port
	events []*store.Event
}

func (p *recordingPort) AppendEvent(ctx context.Context, event *store.Event) error {
	if err := p.Port.AppendEvent(ctx, event); err != nil {
		return err
	}
	p.events = append(p.events, event)
	return nil
}

// publish hands committed events to the hub. Failures are logged only; the
// events are already durable.
func (e *Engine) publish(ctx context.Context, processID string, events []*store.Event) {
	if e.hub == nil {
		return
	}
	for _, ev := range events {
		err := e.hub.Publish(ctx, streaming.StreamEvent{
			InstanceID: ev.InstanceID,
			ProcessID:  processID,
			NodeID:     ev.NodeID,
			EventType:  ev.Type,
			Sequence:   ev.Sequence,
			Payload:    ev.Payload,
			Timestamp:  ev.Timestamp,
		})
		if err != nil {
			e.logger.Debug("event not published",
				slog.String("instance_id", ev.InstanceID),
				slog.String("event_type", ev.Type),
				slog.String("error", err.Error()))
			return
		}
	}
}
