// Package streaming fans committed instance events out to live subscribers.
package streaming

import (
	"context"
	"encoding/json"
	"time"
)

// StreamEvent is a history event published once its transaction commits.
type StreamEvent struct {
	InstanceID string          `json:"instance_id"`
	ProcessID  string          `json:"process_id,omitempty"`
	NodeID     string          `json:"node_id,omitempty"`
	EventType  string          `json:"event_type"`
	Sequence   int64           `json:"sequence"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	InstanceID string   `json:"instance_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for instance events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
