package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // agent or worker id
	Action    string                 `json:"action"`          // e.g. "execute:claim_task"
	Status    string                 `json:"status"`          // "success", "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger records audit events as JSON lines
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

var (
	auditMu   sync.RWMutex
	auditInst = &AuditLogger{logger: zerolog.Nop()}
)

// GetAuditLogger returns the process-wide audit logger. It discards events
// until InitAuditLogger is called.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditInst
}

// InitAuditLogger directs audit events to the given file
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	SetAuditWriter(file, file)
	return nil
}

// SetAuditWriter directs audit events to w. closer may be nil.
func SetAuditWriter(w io.Writer, closer io.Closer) {
	auditMu.Lock()
	defer auditMu.Unlock()
	auditInst = &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
		closer: closer,
	}
}

// Record emits an audit event and mirrors it on the active span
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Msg("")
}

// Close closes the audit logger's underlying file
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func RecordToolAudit(ctx context.Context, toolName, actor, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "tool",
		Actor:    actor,
		Action:   "execute:" + toolName,
		Status:   status,
		Metadata: metadata,
	})
}

func RecordCycleAudit(ctx context.Context, state, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "cycle",
		Actor:    "coordinator",
		Action:   "state:" + state,
		Status:   status,
		Metadata: metadata,
	})
}
