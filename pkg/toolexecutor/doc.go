// Package toolexecutor registers and executes structured tools for agents.
//
// Invariants:
// - Tool names are unique within one executor.
// - Definitions are validated and compiled to a JSON schema at registration.
// - Arguments are schema-validated before every invocation.
// - Execute never panics; failures come back as a ToolResult with a Code.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.DefineTool("echo", "Echo input",
//		[]toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	))
package toolexecutor
