package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("create logger with console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Out: &buf})
		require.NoError(t, err)
		defer logger.Close()

		logger.Info().Msg("hello")
		assert.Contains(t, buf.String(), `"message":"hello"`)
	})

	t.Run("create logger with file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "factory.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		logger.Debug().Msg("test message")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "test message")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.GetZerolog().GetLevel())
	})

	t.Run("redaction masks keys", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Config{Level: "info", Console: true, Out: &buf, Redaction: true})
		require.NoError(t, err)
		defer logger.Close()

		logger.Info().Str("key", "sk-ant-REDACTED").Msg("configured")
		assert.NotContains(t, buf.String(), "abcdefghijklmnopqrstuvwxyz")
		assert.Contains(t, buf.String(), "[REDACTED]")
	})
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Console: true, Out: &buf})
	require.NoError(t, err)
	defer logger.Close()

	c := logger.Component("coordinator")
	c.Info().Msg("ready")
	assert.Contains(t, buf.String(), `"component":"coordinator"`)
}

func TestRedact(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"anthropic key", "key sk-ant-REDACTED", "key [REDACTED]"},
		{"openai key", "key sk-test123456789abcdefghijklmnopqrstuvwxyz", "key [REDACTED]"},
		{"bearer token", "Authorization: Bearer abc123.def456", "Authorization: [REDACTED]"},
		{"api key field", `{"api_key":"secret-value"}`, `{"[REDACTED]"}`},
		{"plain text", "claim_task returned task-1", "claim_task returned task-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.Redact(tt.input))
		})
	}

	require.Error(t, r.AddPattern("("))
	require.NoError(t, r.AddPattern(`task-\d+`))
	assert.Equal(t, "claim_task returned [REDACTED]", r.Redact("claim_task returned task-1"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
}
