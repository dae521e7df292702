package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements LLMProvider for OpenAI
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider. baseURL may be empty.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
	}
}

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string {
	return "openai"
}

// Call makes an API call to OpenAI
func (p *OpenAIProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	params, err := p.buildParams(request)
	if err != nil {
		return nil, err
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	toolCalls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		args, err := parseToolArguments(tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: args,
		})
	}

	return &LLMResponse{
		Content:   choice.Message.Content,
		ToolCalls: toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}

type aggCall struct {
	id   string
	name string
	args strings.Builder
}

// Stream calls OpenAI with a streamed completion. Tool call fragments are
// aggregated by index.
func (p *OpenAIProvider) Stream(ctx context.Context, request LLMRequest, onDelta func(string)) (*LLMResponse, error) {
	params, err := p.buildParams(request)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	agg := map[int64]*aggCall{}
	usage := &TokenUsage{}

	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage.InputTokens = int(chunk.Usage.PromptTokens)
			usage.OutputTokens = int(chunk.Usage.CompletionTokens)
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				if onDelta != nil {
					onDelta(ch.Delta.Content)
				}
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := agg[tc.Index]
				if !ok {
					ac = &aggCall{}
					agg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				ac.args.WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	indexes := make([]int64, 0, len(agg))
	for idx := range agg {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	toolCalls := make([]ToolCall, 0, len(agg))
	for _, idx := range indexes {
		ac := agg[idx]
		args, err := parseToolArguments(ac.args.String())
		if err != nil {
			return nil, err
		}
		toolCalls = append(toolCalls, ToolCall{ID: ac.id, Name: ac.name, Parameters: args})
	}

	return &LLMResponse{
		Content:   text.String(),
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}

func (p *OpenAIProvider) buildParams(request LLMRequest) (openai.ChatCompletionNewParams, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				paramsJSON, err := json.Marshal(tc.Parameters)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool parameters: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(paramsJSON),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}
	if request.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(request.Tools))
		for _, spec := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        spec.Name,
					Description: openai.String(spec.Description),
					Parameters:  openai.FunctionParameters(spec.InputSchema),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}

func parseToolArguments(raw string) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
	}
	return args, nil
}
