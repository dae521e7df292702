package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harun/agentfactory/pkg/toolexecutor"
)

// System message modes
const (
	SystemMessageAppend  = "append"
	SystemMessageReplace = "replace"
)

// SessionOptions configures a new session
type SessionOptions struct {
	// Name identifies the agent in logs, events and transcripts.
	Name          string
	Model         string
	Streaming     bool
	Tools         []toolexecutor.ToolDefinition
	MCPServers    map[string]MCPServerConfig
	CustomAgents  []CustomAgentConfig
	SystemMessage *SystemMessageConfig
	// ToolPolicy limits the registered tools the model sees and may call.
	// Nil allows every tool.
	ToolPolicy *toolexecutor.ToolPolicy
}

// MCPServerConfig describes an MCP server whose tools join the session
type MCPServerConfig struct {
	Type    string   `json:"type" mapstructure:"type"`
	Command string   `json:"command" mapstructure:"command"`
	Args    []string `json:"args,omitempty" mapstructure:"args"`
	// Tools filters the server's tools; "*" or empty registers all.
	Tools []string `json:"tools,omitempty" mapstructure:"tools"`
}

// CustomAgentConfig is a persona the session model may delegate to
type CustomAgentConfig struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Description string   `json:"description,omitempty"`
	Prompt      string   `json:"prompt"`
	Tools       []string `json:"tools,omitempty"`
	Infer       bool     `json:"infer,omitempty"`
}

// SystemMessageConfig customizes the session system prompt
type SystemMessageConfig struct {
	Mode    string `json:"mode"`
	Content string `json:"content"`
}

func (o SessionOptions) validate() error {
	if o.SystemMessage != nil {
		switch o.SystemMessage.Mode {
		case "", SystemMessageAppend, SystemMessageReplace:
		default:
			return fmt.Errorf("%w: unknown system message mode %q", ErrInvalidArgument, o.SystemMessage.Mode)
		}
	}

	for id, srv := range o.MCPServers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: mcp server id is required", ErrInvalidArgument)
		}
		switch srv.Type {
		case "local", "stdio":
		default:
			return fmt.Errorf("%w: mcp server %s has unsupported type %q", ErrInvalidArgument, id, srv.Type)
		}
		if strings.TrimSpace(srv.Command) == "" {
			return fmt.Errorf("%w: mcp server %s has no command", ErrInvalidArgument, id)
		}
	}

	seen := make(map[string]bool, len(o.CustomAgents))
	for _, ca := range o.CustomAgents {
		if strings.TrimSpace(ca.Name) == "" {
			return fmt.Errorf("%w: custom agent name is required", ErrInvalidArgument)
		}
		if seen[ca.Name] {
			return fmt.Errorf("%w: duplicate custom agent %q", ErrInvalidArgument, ca.Name)
		}
		seen[ca.Name] = true
		if strings.TrimSpace(ca.Prompt) == "" {
			return fmt.Errorf("%w: custom agent %q has no prompt", ErrInvalidArgument, ca.Name)
		}
	}
	return nil
}

// validateAgentTools checks every custom agent tool against the registry
func validateAgentTools(agents []CustomAgentConfig, exec *toolexecutor.ToolExecutor) error {
	for _, ca := range agents {
		for _, name := range ca.Tools {
			if name == "*" {
				continue
			}
			if exec.GetTool(name) == nil {
				return fmt.Errorf("%w: custom agent %q uses unknown tool %q", ErrInvalidArgument, ca.Name, name)
			}
		}
	}
	return nil
}

func mcpServerIDs(servers map[string]MCPServerConfig) []string {
	ids := make([]string, 0, len(servers))
	for id := range servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// buildSystemPrompt renders the base prompt, the configured system message
// and the custom agent personas
func buildSystemPrompt(base string, o SessionOptions) string {
	if base == "" {
		base = DefaultSystemPrompt
	}

	prompt := base
	if sm := o.SystemMessage; sm != nil && strings.TrimSpace(sm.Content) != "" {
		if sm.Mode == SystemMessageReplace {
			prompt = sm.Content
		} else {
			prompt = base + "\n\n" + sm.Content
		}
	}

	if len(o.CustomAgents) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n# Available agents\n")
	b.WriteString("You can act as one of these agents when a request matches their description.\n")
	for _, ca := range o.CustomAgents {
		name := ca.DisplayName
		if name == "" {
			name = ca.Name
		}
		fmt.Fprintf(&b, "\n## %s (%s)\n", name, ca.Name)
		if ca.Description != "" {
			fmt.Fprintf(&b, "%s\n", ca.Description)
		}
		if len(ca.Tools) > 0 {
			fmt.Fprintf(&b, "Tools: %s\n", strings.Join(ca.Tools, ", "))
		}
		if ca.Infer {
			b.WriteString("Select this agent automatically when the request fits.\n")
		}
		fmt.Fprintf(&b, "Instructions: %s\n", ca.Prompt)
	}
	return b.String()
}
