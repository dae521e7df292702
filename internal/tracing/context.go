package tracing

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	runIDKey
	agentIDKey
	sessionIDKey
)

// TraceContext holds the identifiers carried through a development cycle
type TraceContext struct {
	TraceID   string
	RunID     string
	AgentID   string
	SessionID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new cycle run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return stringValue(ctx, traceIDKey) }

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string { return stringValue(ctx, runIDKey) }

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string { return stringValue(ctx, agentIDKey) }

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string { return stringValue(ctx, sessionIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) TraceContext {
	return TraceContext{
		TraceID:   GetTraceID(ctx),
		RunID:     GetRunID(ctx),
		AgentID:   GetAgentID(ctx),
		SessionID: GetSessionID(ctx),
	}
}

// NewCycleContext starts a development cycle, filling in a trace ID and a
// run ID when the context carries none. A caller that needs the run ID up
// front sets it with WithRunID.
func NewCycleContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	if GetRunID(ctx) == "" {
		ctx = WithRunID(ctx, NewRunID())
	}
	return ctx
}

// ForAgent scopes ctx to one agent session, keeping trace and run IDs
func ForAgent(ctx context.Context, agentID, sessionID string) context.Context {
	if agentID != "" {
		ctx = WithAgentID(ctx, agentID)
	}
	if sessionID != "" {
		ctx = WithSessionID(ctx, sessionID)
	}
	return ctx
}
