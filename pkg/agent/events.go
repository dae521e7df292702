package agent

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a session event
type EventType string

// Session event types, in the order a turn produces them
const (
	EventMessageDelta EventType = "assistant.message_delta"
	EventMessage      EventType = "assistant.message"
	EventToolStart    EventType = "tool.execution_start"
	EventToolComplete EventType = "tool.execution_complete"
	EventSessionIdle  EventType = "session.idle"
	EventSessionError EventType = "session.error"
)

// Event is delivered on Session.Events and to the client's EventSink
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Agent     string    `json:"agent,omitempty"`
	TurnID    string    `json:"turn_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// EventData carries the fields relevant to the event type
type EventData struct {
	DeltaContent string                 `json:"delta_content,omitempty"`
	Content      string                 `json:"content,omitempty"`
	ToolCallID   string                 `json:"tool_call_id,omitempty"`
	ToolName     string                 `json:"tool_name,omitempty"`
	Arguments    map[string]interface{} `json:"arguments,omitempty"`
	Success      bool                   `json:"success,omitempty"`
	Output       string                 `json:"output,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// Terminal reports whether the event ends a turn
func (e Event) Terminal() bool {
	return e.Type == EventSessionIdle || e.Type == EventSessionError
}

// EventSink receives a copy of every session event. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(Event)

// Publish calls f(e)
func (f EventSinkFunc) Publish(e Event) { f(e) }

// MultiSink fans events out to several sinks
type MultiSink []EventSink

// Publish forwards e to every non-nil sink
func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

func newEvent(t EventType, s *Session, turnID string, data EventData) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		SessionID: s.id,
		Agent:     s.name,
		TurnID:    turnID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
