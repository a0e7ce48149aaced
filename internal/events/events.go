package events

import (
	"context"
	"time"
)

// StatusEvent notifies the bot-facing layer about a task state change.
type StatusEvent struct {
	TaskID  string    `json:"task_id"`
	OwnerID int64     `json:"owner_id"`
	State      string    `json:"state"`
	Message    string    `json:"message,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Active     int       `json:"active"`
	Pending    int       `json:"pending"`
	At         time.Time `json:"at"`
}

// Publisher delivers status events to interested consumers.
type Publisher interface {
	PublishStatus(ctx context.Context, ev StatusEvent) error
	Close() error
}

// NopPublisher discards every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishStatus(context.Context, StatusEvent) error { return nil }
func (NopPublisher) Close() error                                     { return nil }
