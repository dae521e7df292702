package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ScriptStep is one canned model step
type ScriptStep struct {
	Content   string
	ToolCalls []ToolCall
	Err       error
	// Delay holds the step back, honoring ctx cancellation
	Delay time.Duration
}

// ScriptFunc decides the next model step from the request
type ScriptFunc func(ctx context.Context, request LLMRequest) (*LLMResponse, error)

// ScriptedProvider replays canned steps or a ScriptFunc instead of calling
// a model API. With neither, it acknowledges the last user message.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []ScriptStep
	fn       ScriptFunc
	requests []LLMRequest
}

// NewScriptedProvider replays steps in order
func NewScriptedProvider(steps ...ScriptStep) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

// NewScriptedProviderFunc answers every request with fn
func NewScriptedProviderFunc(fn ScriptFunc) *ScriptedProvider {
	return &ScriptedProvider{fn: fn}
}

// Provider returns the provider name
func (p *ScriptedProvider) Provider() string {
	return "scripted"
}

// Requests returns a copy of every request received so far
func (p *ScriptedProvider) Requests() []LLMRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]LLMRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// Call returns the next scripted step
func (p *ScriptedProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, request)
	fn := p.fn
	var step *ScriptStep
	if fn == nil && len(p.steps) > 0 {
		s := p.steps[0]
		p.steps = p.steps[1:]
		step = &s
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, request)
	}
	if step == nil {
		return &LLMResponse{Content: acknowledge(request), Usage: &TokenUsage{}}, nil
	}

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &LLMResponse{
		Content:   step.Content,
		ToolCalls: step.ToolCalls,
		Usage:     &TokenUsage{},
	}, nil
}

// Stream returns the next step, reporting its text word by word
func (p *ScriptedProvider) Stream(ctx context.Context, request LLMRequest, onDelta func(string)) (*LLMResponse, error) {
	resp, err := p.Call(ctx, request)
	if err != nil {
		return nil, err
	}
	if onDelta != nil {
		for _, chunk := range splitWords(resp.Content) {
			onDelta(chunk)
		}
	}
	return resp, nil
}

func acknowledge(request LLMRequest) string {
	for i := len(request.Messages) - 1; i >= 0; i-- {
		if request.Messages[i].Role == RoleUser {
			return fmt.Sprintf("Acknowledged: %s", request.Messages[i].Content)
		}
	}
	return "Acknowledged."
}

// splitWords cuts s after each space so the pieces concatenate back to s
func splitWords(s string) []string {
	var out []string
	for s != "" {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
