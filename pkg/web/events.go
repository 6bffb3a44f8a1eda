package web

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/multichat/internal/observability"
	"github.com/harun/multichat/internal/tracing"
	"github.com/harun/multichat/pkg/chat"
)

// EventMessage is the JSON frame sent to websocket clients
type EventMessage struct {
	Event     string      `json:"event"`
	Seq       int64       `json:"seq"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// Client is a connected websocket client
type Client struct {
	ID          string
	ConnectedAt time.Time
	IPAddress   string

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// WriteMessage writes one frame. Writes to a client are serialized.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// ClientRegistry manages connected clients
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

// Add adds a client to the registry
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	count := len(r.clients)
	r.mu.Unlock()

	observability.SetEventClients(count)
}

// Remove removes a client from the registry
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	count := len(r.clients)
	r.mu.Unlock()

	observability.SetEventClients(count)
}

// GetAll returns all clients
func (r *ClientRegistry) GetAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// EventBroadcaster fans session events out to every websocket client.
// It implements chat.Publisher.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewEventBroadcaster creates a broadcaster with an empty client registry
func NewEventBroadcaster(logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: NewClientRegistry(),
		logger:  logger.With().Str("component", "events").Logger(),
	}
}

// Clients returns the registry of connected clients
func (b *EventBroadcaster) Clients() *ClientRegistry {
	return b.clients
}

// Publish broadcasts a session event
func (b *EventBroadcaster) Publish(ctx context.Context, event chat.Event) {
	b.broadcast(EventMessage{
		Event:   string(event.Type),
		Data:    event,
		TraceID: tracing.GetTraceID(ctx),
	})
}

// Broadcast sends an arbitrary event to all clients
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	b.broadcast(EventMessage{Event: event, Data: data})
}

func (b *EventBroadcaster) broadcast(msg EventMessage) {
	msg.Seq = b.nextSeq()
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("event", msg.Event).
			Int64("seq", msg.Seq).
			Msg("Failed to marshal event")
		return
	}

	clients := b.clients.GetAll()
	if len(clients) == 0 {
		return
	}

	failureCount := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, jsonData); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("Failed to broadcast to client")
			failureCount++
		}
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Int64("seq", msg.Seq).
		Int("success", len(clients)-failureCount).
		Int("failed", failureCount).
		Msg("Event broadcast complete")
}

func (b *EventBroadcaster) nextSeq() int64 {
	return int64(atomic.AddUint64(&b.seq, 1))
}
