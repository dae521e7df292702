package agent

import (
	"fmt"
	"strings"
	"time"
)

// Message roles in a conversation
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a session conversation
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into u
func (u *TokenUsage) Add(other *TokenUsage) {
	if u == nil || other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Defaults for ClientConfig
const (
	DefaultModel        = "gpt-4.1"
	DefaultSystemPrompt = "You are a helpful assistant."
	DefaultEventBuffer  = 64
	DefaultMaxTokens    = 4096
	DefaultMaxRetries   = 3
	DefaultMaxToolTurns = 10
	DefaultToolTimeout  = 30 * time.Second
	DefaultContextLimit = 32000
	recentMessageCount  = 20
)

// IsRetryableError reports whether a provider error is transient
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"econnreset", "etimedout", "connection reset",
		"429", "rate limit", "overloaded",
		"500", "502", "503", "504", "529",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// EstimateTokens provides a rough token count estimation
func EstimateTokens(messages []Message) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
		for _, tc := range msg.ToolCalls {
			totalChars += len(tc.Name) + len(fmt.Sprint(tc.Parameters))
		}
	}
	// 1 token ≈ 4 characters
	return (totalChars + 3) / 4
}

// compactMessages keeps the most recent messages once the conversation
// outgrows limit, replacing the dropped prefix with a summary line. The
// cut never leaves a tool result without its assistant call.
func compactMessages(messages []Message, limit int) ([]Message, bool) {
	if limit <= 0 || EstimateTokens(messages) <= limit || len(messages) <= recentMessageCount {
		return messages, false
	}

	cut := len(messages) - recentMessageCount
	for cut < len(messages) && messages[cut].Role == RoleTool {
		cut++
	}
	if cut >= len(messages) {
		return messages, false
	}

	summary := Message{
		Role:    RoleUser,
		Content: fmt.Sprintf("[Previous conversation summary: %d messages exchanged]", cut),
	}
	out := make([]Message, 0, len(messages)-cut+1)
	out = append(out, summary)
	out = append(out, messages[cut:]...)
	return out, true
}
