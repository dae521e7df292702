package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns baseLogger enriched with the tracing fields in ctx
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	if tc == (TraceContext{}) {
		return baseLogger
	}

	c := baseLogger.With()
	if tc.TraceID != "" {
		c = c.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		c = c.Str("run_id", tc.RunID)
	}
	if tc.AgentID != "" {
		c = c.Str("agent_id", tc.AgentID)
	}
	if tc.SessionID != "" {
		c = c.Str("session_id", tc.SessionID)
	}
	return c.Logger()
}
