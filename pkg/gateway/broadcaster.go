package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster sends sequenced events to every authenticated client
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger

	// mu orders seq assignment and delivery so clients see seq ascending
	mu  sync.Mutex
	seq int64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast sends an untyped event to all authenticated clients
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	b.BroadcastTyped(EventMessage{Event: event, Data: data})
}

// BroadcastTyped sends a typed stream event, filling in the sequence
// number and timestamp
func (b *EventBroadcaster) BroadcastTyped(msg EventMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	msg.Type = "event"
	msg.Seq = b.seq
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	b.broadcastMessage(msg)
}

// Seq returns the last sequence number assigned
func (b *EventBroadcaster) Seq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

func (b *EventBroadcaster) broadcastMessage(msg EventMessage) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("event", msg.Event).
			Str("stream", string(msg.Stream)).
			Int64("seq", msg.Seq).
			Msg("Failed to marshal event")
		return
	}

	clients := b.clients.GetAuthenticatedClients()
	if len(clients) == 0 {
		return
	}

	failed := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, jsonData); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("Failed to broadcast to client")
			failed++
		}
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Str("stream", string(msg.Stream)).
		Int64("seq", msg.Seq).
		Int("success", len(clients)-failed).
		Int("failed", failed).
		Msg("Event broadcast complete")
}
