package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDs(t *testing.T) {
	assert.NotEqual(t, NewTraceID(), NewTraceID())
	assert.NotEqual(t, NewRunID(), NewRunID())
	assert.NotEmpty(t, NewTraceID())
}

func TestContextValues(t *testing.T) {
	t.Run("empty context has no values", func(t *testing.T) {
		assert.Equal(t, TraceContext{}, FromContext(context.Background()))
	})

	t.Run("values round trip", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace-1")
		ctx = WithRunID(ctx, "run-1")
		ctx = ForAgent(ctx, "supervisor", "sess-1")

		tc := FromContext(ctx)
		assert.Equal(t, "trace-1", tc.TraceID)
		assert.Equal(t, "run-1", tc.RunID)
		assert.Equal(t, "supervisor", tc.AgentID)
		assert.Equal(t, "sess-1", tc.SessionID)
	})
}

func TestNewCycleContext(t *testing.T) {
	t.Run("keeps an existing trace id", func(t *testing.T) {
		ctx := NewCycleContext(WithTraceID(context.Background(), "trace-1"))
		assert.Equal(t, "trace-1", GetTraceID(ctx))
		assert.NotEmpty(t, GetRunID(ctx))
	})

	t.Run("creates a trace id when missing", func(t *testing.T) {
		ctx := NewCycleContext(context.Background())
		assert.NotEmpty(t, GetTraceID(ctx))
		assert.NotEqual(t, GetTraceID(ctx), GetRunID(ctx))
	})

	t.Run("keeps a preset run id", func(t *testing.T) {
		ctx := NewCycleContext(WithRunID(context.Background(), "run-7"))
		assert.Equal(t, "run-7", GetRunID(ctx))
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ForAgent(WithRunID(context.Background(), "run-9"), "tester", "")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"run_id":"run-9"`)
	assert.Contains(t, out, `"agent_id":"tester"`)
	assert.NotContains(t, out, "session_id")
}

func TestStartSpan(t *testing.T) {
	require.NoError(t, Init(Config{Enabled: true, ServiceName: "agentfactory-test"}))
	defer func() { _ = Shutdown(context.Background()) }()

	ctx, span := StartSpan(context.Background(), "agentfactory.test", "unit")
	assert.NotEmpty(t, GetTraceID(ctx))
	EndSpan(span, errors.New("boom"))
}

func TestInitDisabled(t *testing.T) {
	assert.NoError(t, Init(Config{Enabled: false}))
}
