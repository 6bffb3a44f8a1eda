package chat

import "context"

// EventType names a session change
type EventType string

const (
	EventSessionCreated EventType = "session.created"
	EventSessionCleared EventType = "session.cleared"
	EventSessionDeleted EventType = "session.deleted"
	EventSessionUpdated EventType = "session.updated"
)

// Event describes a change to one session
type Event struct {
	Type    EventType `json:"type"`
	Session string    `json:"session"`
	Turns   int       `json:"turns"`
}

// Publisher receives session events
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, event Event)

// Publish calls f
func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
