package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/agentfactory/internal/observability"
	"github.com/harun/agentfactory/internal/tracing"
	"github.com/harun/agentfactory/pkg/session"
	"github.com/harun/agentfactory/pkg/toolexecutor"
)

// runTurn drives the model and tool loop for one prompt. The conversation
// is committed to the session history only when the turn succeeds.
func (s *Session) runTurn(ctx context.Context, turnID, prompt string) (content string, err error) {
	cfg := s.client.cfg
	provider := cfg.Provider

	ctx = tracing.ForAgent(ctx, s.name, s.id)
	ctx, span := tracing.StartSpan(ctx, "factory.agent", "agent.turn",
		attribute.String("agent", s.name),
		attribute.String("session_id", s.id),
		attribute.String("provider", provider.Provider()),
		attribute.String("model", s.opts.Model),
	)
	startTime := time.Now()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	defer func() {
		observability.RecordAgentTurn(s.name, provider.Provider(), time.Since(startTime), err == nil)
		tracing.EndSpan(span, err)
	}()

	logger.Debug().Str("turn", turnID).Int("promptLen", len(prompt)).Msg("Turn started")
	s.record(ctx, session.Message{Role: session.RoleUser, Content: prompt})

	s.mu.Lock()
	messages := make([]Message, 0, len(s.history)+1)
	messages = append(messages, s.history...)
	s.mu.Unlock()
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	specs := s.executor.Specs(s.opts.ToolPolicy)
	usage := TokenUsage{}

	for step := 0; step < cfg.MaxToolTurns; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var compacted bool
		if messages, compacted = compactMessages(messages, cfg.ContextLimit); compacted {
			logger.Info().Int("messages", len(messages)).Msg("Compacted conversation")
		}

		response, err := s.callWithRetry(ctx, turnID, LLMRequest{
			Model:        s.opts.Model,
			Messages:     messages,
			Tools:        specs,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
			SystemPrompt: s.systemPrompt,
		})
		if err != nil {
			s.record(ctx, session.Message{Role: session.RoleError, Content: err.Error()})
			return "", err
		}
		usage.Add(response.Usage)

		if response.Content != "" {
			s.emit(ctx, newEvent(EventMessage, s, turnID, EventData{Content: response.Content}))
		}

		if len(response.ToolCalls) == 0 {
			messages = append(messages, Message{Role: RoleAssistant, Content: response.Content})
			s.commit(messages, usage)
			s.record(ctx, session.Message{
				Role:    session.RoleAssistant,
				Content: response.Content,
				Metadata: map[string]interface{}{
					"model": s.opts.Model,
					"usage": usage,
					"steps": step + 1,
				},
			})
			logger.Debug().Str("turn", turnID).Int("steps", step+1).Msg("Turn completed")
			return response.Content, nil
		}

		calls := make([]ToolCall, len(response.ToolCalls))
		for i, tc := range response.ToolCalls {
			if tc.ID == "" {
				tc.ID = "call_" + uuid.NewString()
			}
			if tc.Parameters == nil {
				tc.Parameters = map[string]interface{}{}
			}
			calls[i] = tc
		}
		messages = append(messages, Message{Role: RoleAssistant, Content: response.Content, ToolCalls: calls})

		for _, tc := range calls {
			messages = append(messages, s.executeTool(ctx, turnID, tc))
		}
	}

	return "", fmt.Errorf("%w (%d)", ErrMaxToolTurns, cfg.MaxToolTurns)
}

func (s *Session) executeTool(ctx context.Context, turnID string, tc ToolCall) Message {
	s.emit(ctx, newEvent(EventToolStart, s, turnID, EventData{
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Arguments:  tc.Parameters,
	}))

	result := s.executor.Execute(ctx, tc.Name, tc.Parameters, &toolexecutor.ExecutionContext{
		AgentID:    s.name,
		SessionID:  s.id,
		Timeout:    s.client.cfg.ToolTimeout,
		ToolPolicy: s.opts.ToolPolicy,
	})
	payload := result.Payload()

	s.emit(ctx, newEvent(EventToolComplete, s, turnID, EventData{
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Success:    result.Success,
		Output:     payload,
		Error:      result.Error,
	}))
	s.record(ctx, session.Message{
		Role:    session.RoleTool,
		Content: payload,
		Metadata: map[string]interface{}{
			"tool":      tc.Name,
			"arguments": tc.Parameters,
			"success":   result.Success,
		},
	})

	return Message{
		Role:       RoleTool,
		Content:    payload,
		ToolCallID: tc.ID,
		IsError:    !result.Success,
	}
}

func (s *Session) commit(messages []Message, usage TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = messages
	s.usage.Add(&usage)
}

// callWithRetry calls the provider with exponential backoff on transient errors
func (s *Session) callWithRetry(ctx context.Context, turnID string, request LLMRequest) (*LLMResponse, error) {
	cfg := s.client.cfg
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		response, err := s.call(ctx, turnID, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == cfg.MaxRetries-1 {
			break
		}

		delay := cfg.RetryBackoff * time.Duration(1<<attempt)
		s.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}

func (s *Session) call(ctx context.Context, turnID string, request LLMRequest) (*LLMResponse, error) {
	provider := s.client.cfg.Provider

	var response *LLMResponse
	var err error
	if sp, ok := provider.(StreamingProvider); ok && s.opts.Streaming {
		response, err = sp.Stream(ctx, request, func(delta string) {
			s.emit(ctx, newEvent(EventMessageDelta, s, turnID, EventData{DeltaContent: delta}))
		})
	} else {
		response, err = provider.Call(ctx, request)
	}
	if err != nil {
		return nil, err
	}
	if response == nil {
		return nil, fmt.Errorf("provider %s returned no response", provider.Provider())
	}
	return response, nil
}
