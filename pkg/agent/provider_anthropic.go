package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements LLMProvider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider. baseURL may be empty.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Call makes an API call to Anthropic Claude
func (p *AnthropicProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	response, err := p.client.Messages.New(ctx, p.buildParams(request))
	if err != nil {
		return nil, err
	}
	return convertAnthropicMessage(response)
}

// Stream calls Anthropic with server-sent events, reporting text deltas
func (p *AnthropicProvider) Stream(ctx context.Context, request LLMRequest, onDelta func(string)) (*LLMResponse, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(request))
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream event: %w", err)
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" && onDelta != nil {
					onDelta(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return convertAnthropicMessage(&message)
}

func (p *AnthropicProvider) buildParams(request LLMRequest) anthropic.MessageNewParams {
	messages := []anthropic.MessageParam{}

	for _, msg := range request.Messages {
		switch {
		case msg.Role == RoleSystem:
			continue
		case msg.Role == RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError),
			))
		case msg.Role == RoleAssistant && len(msg.ToolCalls) > 0:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Parameters, tc.Name))
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case msg.Role == RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if request.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: request.SystemPrompt},
		}
	}
	if request.Temperature > 0 {
		params.Temperature = anthropic.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(request.Tools))
		for _, spec := range request.Tools {
			toolParam := anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: spec.InputSchema["properties"],
				},
			}
			if required, ok := spec.InputSchema["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	return params
}

func convertAnthropicMessage(response *anthropic.Message) (*LLMResponse, error) {
	content := ""
	toolCalls := []ToolCall{}

	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		case anthropic.ToolUseBlock:
			params := map[string]interface{}{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &params); err != nil {
					return nil, fmt.Errorf("failed to parse tool input: %w", err)
				}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:         b.ID,
				Name:       b.Name,
				Parameters: params,
			})
		}
	}

	return &LLMResponse{
		Content:   content,
		ToolCalls: toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}
