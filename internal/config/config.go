package config

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config represents the factory configuration
type Config struct {
	// Agent selects the model provider and bounds each session
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Factory controls the development cycle
	Factory FactoryConfig `json:"factory" mapstructure:"factory"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AgentConfig holds model provider and session settings
type AgentConfig struct {
	Provider           string  `json:"provider" mapstructure:"provider"` // anthropic, openai, scripted
	Model              string  `json:"model" mapstructure:"model"`
	AnthropicAPIKey    string  `json:"anthropic_api_key,omitempty" mapstructure:"anthropic_api_key"`
	OpenAIAPIKey       string  `json:"openai_api_key,omitempty" mapstructure:"openai_api_key"`
	BaseURL            string  `json:"base_url,omitempty" mapstructure:"base_url"`
	Temperature        float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens          int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries         int     `json:"max_retries" mapstructure:"max_retries"`
	MaxToolTurns       int     `json:"max_tool_turns" mapstructure:"max_tool_turns"`
	ContextLimit       int     `json:"context_limit" mapstructure:"context_limit"`
	ToolTimeout        int     `json:"tool_timeout" mapstructure:"tool_timeout"` // seconds
	EventBuffer        int     `json:"event_buffer" mapstructure:"event_buffer"`
	MaxConcurrentTurns int     `json:"max_concurrent_turns" mapstructure:"max_concurrent_turns"`
}

// FactoryConfig holds coordinator settings and the paths it writes to
type FactoryConfig struct {
	MaxIterations   int    `json:"max_iterations" mapstructure:"max_iterations"`
	AgentTimeout    int    `json:"agent_timeout" mapstructure:"agent_timeout"` // seconds, 0 disables
	WorkspaceDir    string `json:"workspace_dir" mapstructure:"workspace_dir"`
	TranscriptDir   string `json:"transcript_dir" mapstructure:"transcript_dir"`
	RunRegistryPath string `json:"run_registry_path" mapstructure:"run_registry_path"`
	ArchivePath     string `json:"archive_path" mapstructure:"archive_path"`
	AuditLogPath    string `json:"audit_log_path" mapstructure:"audit_log_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds event gateway configuration
type GatewayConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret,omitempty" mapstructure:"shared_secret"`
	OutboxSize   int    `json:"outbox_size" mapstructure:"outbox_size"`
	TickInterval int    `json:"tick_interval" mapstructure:"tick_interval"` // seconds, 0 disables
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// Providers lists the supported agent providers
var Providers = []string{"anthropic", "openai", "scripted"}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:     "openai",
			Model:        "gpt-4.1",
			Temperature:  0.7,
			MaxTokens:    4096,
			MaxRetries:   3,
			MaxToolTurns: 10,
			ContextLimit: 32000,
			ToolTimeout:  30,
			EventBuffer:  64,
		},
		Factory: FactoryConfig{
			MaxIterations: 3,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Enabled:    false,
			Host:       "127.0.0.1",
			Port:       8090,
			OutboxSize: 1024,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "agentfactory",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Agent.AnthropicAPIKey = maskSecret(c.Agent.AnthropicAPIKey)
	masked.Agent.OpenAIAPIKey = maskSecret(c.Agent.OpenAIAPIKey)
	masked.Gateway.SharedSecret = maskSecret(c.Gateway.SharedSecret)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// APIKey returns the key for the configured provider
func (c *Config) APIKey() string {
	switch strings.ToLower(c.Agent.Provider) {
	case "anthropic":
		return c.Agent.AnthropicAPIKey
	case "openai":
		return c.Agent.OpenAIAPIKey
	}
	return ""
}

// AgentTimeout returns the per-call agent timeout, zero when disabled
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.Factory.AgentTimeout) * time.Second
}

// ToolTimeout returns the per-tool execution timeout
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Agent.ToolTimeout) * time.Second
}

// GatewayAddr returns the gateway listen address
func (c *Config) GatewayAddr() string {
	return net.JoinHostPort(c.Gateway.Host, strconv.Itoa(c.Gateway.Port))
}

// Validate checks if the configuration is valid. API keys are not
// required here; a missing key surfaces when the provider is built.
func (c *Config) Validate() error {
	provider := strings.ToLower(c.Agent.Provider)
	valid := false
	for _, p := range Providers {
		if provider == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid agent provider %q (must be: %s)", c.Agent.Provider, strings.Join(Providers, ", "))
	}
	if strings.TrimSpace(c.Agent.Model) == "" {
		return fmt.Errorf("agent model is required")
	}
	if c.Agent.MaxTokens < 0 || c.Agent.MaxRetries < 0 || c.Agent.MaxToolTurns < 0 {
		return fmt.Errorf("agent limits must be >= 0")
	}
	if c.Agent.ToolTimeout < 0 || c.Agent.EventBuffer < 0 || c.Agent.MaxConcurrentTurns < 0 {
		return fmt.Errorf("agent tool_timeout, event_buffer and max_concurrent_turns must be >= 0")
	}

	if c.Factory.MaxIterations < 1 {
		return fmt.Errorf("factory max_iterations must be >= 1, got %d", c.Factory.MaxIterations)
	}
	if c.Factory.AgentTimeout < 0 {
		return fmt.Errorf("factory agent_timeout must be >= 0, got %d", c.Factory.AgentTimeout)
	}

	if c.Gateway.Enabled {
		if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
			return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
		}
		if c.Gateway.TickInterval < 0 {
			return fmt.Errorf("gateway tick_interval must be >= 0")
		}
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample_ratio must be between 0 and 1")
	}

	return nil
}
