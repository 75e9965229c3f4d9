package streaming

import "context"

// RunEvent is a real-time progress event for a report run.
type RunEvent struct {
	RunID     string `json:"run_id"`
	EventType string `json:"event_type"`
	Sequence  int64  `json:"sequence,omitempty"`
	Status    string `json:"status,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Filter specifies which events a subscriber wants to receive. Empty fields
// match everything.
type Filter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Hub provides pub/sub for run progress.
type Hub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter Filter) (<-chan RunEvent, func(), error)
}
