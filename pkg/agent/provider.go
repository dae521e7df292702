package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/agentfactory/pkg/toolexecutor"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// StreamingProvider is implemented by providers that can deliver text
// incrementally. onDelta is called for each text fragment in order; the
// returned response holds the complete step.
type StreamingProvider interface {
	LLMProvider
	Stream(ctx context.Context, request LLMRequest, onDelta func(string)) (*LLMResponse, error)
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []Message
	Tools        []toolexecutor.ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderConfig selects and authenticates a provider
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string
}

// NewProvider builds the provider named in cfg. An unknown name or a
// missing API key is reported as ErrMissingDependency.
func NewProvider(cfg ProviderConfig) (LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	switch name {
	case "anthropic", "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("%w: %s API key is not configured", ErrMissingDependency, name)
		}
		if name == "anthropic" {
			return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	case "scripted":
		return NewScriptedProvider(), nil
	case "":
		return nil, fmt.Errorf("%w: no provider configured", ErrMissingDependency)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrMissingDependency, cfg.Name)
	}
}
