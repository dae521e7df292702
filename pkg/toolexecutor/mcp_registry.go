package toolexecutor

import (
	"context"
	"fmt"
	"strings"
)

// RegisterMCPServer registers the tools of a started or startable MCP
// client. allowed filters tool names; empty or "*" registers all of them.
// A name that collides with an existing tool is prefixed with the server id.
// Resource helpers are registered only when every tool is allowed.
func (te *ToolExecutor) RegisterMCPServer(ctx context.Context, client *MCPClient, allowed []string) ([]string, error) {
	if client == nil {
		return nil, fmt.Errorf("mcp client is required")
	}
	serverID := client.ServerID()
	if strings.TrimSpace(serverID) == "" {
		return nil, fmt.Errorf("mcp server id is required")
	}

	policy := AllowOnly(allowed...)

	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch MCP tools: %w", err)
	}

	registered := make([]string, 0, len(tools)+2)
	for _, tool := range tools {
		originalName := tool.Name
		if originalName == "" || !policy.IsToolAllowed(originalName) {
			continue
		}

		tool.Name = te.freeName(serverID, originalName)
		tool.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return client.CallTool(ctx, originalName, params)
		}

		if err := te.RegisterTool(tool); err != nil {
			return registered, fmt.Errorf("failed to register MCP tool %s: %w", tool.Name, err)
		}
		registered = append(registered, tool.Name)
	}

	if policy != nil && !policy.IsToolAllowed("*") {
		return registered, nil
	}

	listTool := ToolDefinition{
		Name:        te.freeName(serverID, fmt.Sprintf("mcp_%s_resources_list", serverID)),
		Description: fmt.Sprintf("List resources exposed by MCP server %s", serverID),
		Source:      "mcp:" + serverID,
		Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			return client.ListResources(ctx)
		},
	}
	if err := te.RegisterTool(listTool); err != nil {
		return registered, fmt.Errorf("failed to register MCP resources list tool: %w", err)
	}
	registered = append(registered, listTool.Name)

	readTool := ToolDefinition{
		Name:        te.freeName(serverID, fmt.Sprintf("mcp_%s_resource_read", serverID)),
		Description: fmt.Sprintf("Read a resource exposed by MCP server %s", serverID),
		Source:      "mcp:" + serverID,
		Parameters: []ToolParameter{{
			Name:        "uri",
			Type:        "string",
			Description: "Resource URI",
			Required:    true,
		}},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			uri, _ := params["uri"].(string)
			if strings.TrimSpace(uri) == "" {
				return nil, NewToolError(CodeInvalidArgument, "uri parameter is required")
			}
			return client.ReadResource(ctx, uri)
		},
	}
	if err := te.RegisterTool(readTool); err != nil {
		return registered, fmt.Errorf("failed to register MCP resource read tool: %w", err)
	}
	registered = append(registered, readTool.Name)

	return registered, nil
}

func (te *ToolExecutor) freeName(serverID, name string) string {
	if te.GetTool(name) == nil {
		return name
	}
	return fmt.Sprintf("%s_%s", serverID, name)
}
