package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates an agent provider name
func (v *Validator) ValidateProvider(provider string) error {
	for _, valid := range Providers {
		if strings.ToLower(provider) == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(Providers, ", "))
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig collects every problem instead of stopping at the first
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateProvider(cfg.Agent.Provider); err != nil {
		errors = append(errors, err)
	}
	switch strings.ToLower(cfg.Agent.Provider) {
	case "anthropic", "openai":
		if err := v.ValidateAPIKey(cfg.APIKey(), strings.ToLower(cfg.Agent.Provider)); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Agent.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Agent.Temperature); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Agent.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Agent.MaxTokens); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Factory.MaxIterations < 1 {
		errors = append(errors, fmt.Errorf("factory.max_iterations must be >= 1"))
	}
	if cfg.Factory.AgentTimeout < 0 {
		errors = append(errors, fmt.Errorf("factory.agent_timeout must be >= 0"))
	}

	if cfg.Gateway.Enabled {
		if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
			errors = append(errors, fmt.Errorf("gateway: %w", err))
		}
		if cfg.Gateway.SharedSecret != "" && len(cfg.Gateway.SharedSecret) < 16 {
			errors = append(errors, fmt.Errorf("gateway.shared_secret must be at least 16 characters"))
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
