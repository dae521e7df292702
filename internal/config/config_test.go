package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "openai", cfg.Agent.Provider)
	assert.Equal(t, "gpt-4.1", cfg.Agent.Model)
	assert.Equal(t, 64, cfg.Agent.EventBuffer)
	assert.Equal(t, 3, cfg.Factory.MaxIterations)
	assert.Zero(t, cfg.AgentTimeout())
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout())
	assert.False(t, cfg.Gateway.Enabled)
	assert.Equal(t, "127.0.0.1:8090", cfg.GatewayAddr())
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"should accept the scripted provider", func(c *Config) { c.Agent.Provider = "scripted" }, ""},
		{"should reject an unknown provider", func(c *Config) { c.Agent.Provider = "gemini" }, "invalid agent provider"},
		{"should require a model", func(c *Config) { c.Agent.Model = " " }, "model is required"},
		{"should require at least one iteration", func(c *Config) { c.Factory.MaxIterations = 0 }, "max_iterations"},
		{"should reject a negative agent timeout", func(c *Config) { c.Factory.AgentTimeout = -1 }, "agent_timeout"},
		{"should reject a negative event buffer", func(c *Config) { c.Agent.EventBuffer = -1 }, "event_buffer"},
		{"should reject a bad gateway port", func(c *Config) {
			c.Gateway.Enabled = true
			c.Gateway.Port = 70000
		}, "gateway port"},
		{"should ignore the port of a disabled gateway", func(c *Config) { c.Gateway.Port = 70000 }, ""},
		{"should reject a sample ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfigAccessors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent.AnthropicAPIKey = "sk-ant-abcdefghijkl"
	cfg.Agent.OpenAIAPIKey = "sk-openai-123456789"
	cfg.Factory.AgentTimeout = 90

	t.Run("should pick the key of the configured provider", func(t *testing.T) {
		assert.Equal(t, "sk-openai-123456789", cfg.APIKey())
		cfg.Agent.Provider = "Anthropic"
		assert.Equal(t, "sk-ant-abcdefghijkl", cfg.APIKey())
		cfg.Agent.Provider = "scripted"
		assert.Empty(t, cfg.APIKey())
	})

	t.Run("should convert seconds to durations", func(t *testing.T) {
		assert.Equal(t, 90*time.Second, cfg.AgentTimeout())
	})

	t.Run("should mask secrets when printed", func(t *testing.T) {
		out := cfg.String()
		assert.NotContains(t, out, "sk-ant-abcdefghijkl")
		assert.Contains(t, out, "sk-a****ijkl")
		assert.True(t, strings.HasPrefix(out, "{"))
		assert.Equal(t, "sk-ant-abcdefghijkl", cfg.Agent.AnthropicAPIKey)
	})
}
