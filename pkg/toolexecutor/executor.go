package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/agentfactory/internal/observability"
	"github.com/harun/agentfactory/internal/tracing"
)

const (
	defaultTimeout = 30 * time.Second
	maxOutputSize  = 10 * 1024
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	Source      string          `json:"source,omitempty"` // "mcp:<server>" for bridged tools
}

// ToolHandler is the function signature for tool execution. Execute
// reports a timeout as soon as ctx expires without waiting for the
// handler, so handlers must stop, and must not apply side effects, once
// ctx is done.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// DefineTool builds a tool definition. Registration validates it.
func DefineTool(name, description string, params []ToolParameter, handler ToolHandler) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  params,
		Handler:     handler,
	}
}

// ToolSpec is the model-facing description of a registered tool
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	AgentID    string
	SessionID  string
	Timeout    time.Duration
	ToolPolicy *ToolPolicy
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Payload renders the result as the JSON text handed back to the model.
func (r ToolResult) Payload() string {
	var v interface{}
	if r.Success {
		v = r.Output
	} else {
		v = map[string]interface{}{
			"success": false,
			"code":    r.Code,
			"message": r.Error,
		}
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"code":%q,"message":%q}`, CodeExecutionError, err.Error())
	}
	return string(data)
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	raw     map[string]map[string]interface{}
	mu      sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	observability.EnsureRegistered()
	return &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		raw:     make(map[string]map[string]interface{}),
	}
}

// RegisterTool validates def, compiles its schema and registers it.
// Registering an existing name fails.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := buildSchemaMap(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool %s is already registered", def.Name)
	}

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema
	te.raw[def.Name] = schemaMap

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// RegisterAll registers each definition in order and stops at the first failure
func (te *ToolExecutor) RegisterAll(defs ...ToolDefinition) error {
	for _, def := range defs {
		if err := te.RegisterTool(def); err != nil {
			return err
		}
	}
	return nil
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names, sorted
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	names := make([]string, 0, len(te.tools))
	for name := range te.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Specs returns the model-facing specs of the tools allowed by policy,
// sorted by name. A nil policy allows everything.
func (te *ToolExecutor) Specs(policy *ToolPolicy) []ToolSpec {
	te.mu.RLock()
	defer te.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(te.tools))
	for name, def := range te.tools {
		if !policy.IsToolAllowed(name) {
			continue
		}
		specs = append(specs, ToolSpec{
			Name:        name,
			Description: def.Description,
			InputSchema: te.raw[name],
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute runs a tool. It never panics and never returns an error: every
// failure is reported through the result's Code and Error.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) (result ToolResult) {
	startTime := time.Now()
	actor := ""
	if execCtx != nil {
		actor = execCtx.AgentID
	}

	ctx, span := tracing.StartSpan(ctx, "toolexecutor", "tool."+toolName)
	defer func() {
		duration := time.Since(startTime)
		if result.Metadata == nil {
			result.Metadata = map[string]interface{}{}
		}
		result.Metadata["duration_ms"] = duration.Milliseconds()

		var spanErr error
		status := "success"
		if !result.Success {
			status = "failure"
			spanErr = errors.New(result.Error)
		}
		tracing.EndSpan(span, spanErr)
		observability.RecordToolExecution(toolName, duration, result.Success)
		observability.RecordToolAudit(ctx, toolName, actor, status, map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"code":        result.Code,
		})
	}()

	if execCtx != nil && !execCtx.ToolPolicy.IsToolAllowed(toolName) {
		log.Warn().
			Str("tool", toolName).
			Str("agent_id", execCtx.AgentID).
			Msg("Tool execution blocked by policy")
		return failure(CodePolicyDenied, fmt.Sprintf("tool '%s' is not allowed by agent policy", toolName))
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		log.Warn().Str("tool", toolName).Msg("Tool not found")
		return failure(CodeUnknownTool, fmt.Sprintf("tool not found: %s", toolName))
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParameters(schema, params); err != nil {
		log.Debug().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return failure(CodeInvalidArgument, fmt.Sprintf("parameter validation failed: %v", err))
	}

	timeout := defaultTimeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}
	timeoutCtx, cancel := context.WithTimeout(ContextWithExecContext(ctx, execCtx), timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("tool", toolName).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("Tool handler panicked")
				done <- outcome{err: NewToolError(CodeExecutionError, fmt.Sprintf("tool panicked: %v", r))}
			}
		}()
		value, err := tool.Handler(timeoutCtx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			code := CodeExecutionError
			var toolErr *ToolError
			if errors.As(out.err, &toolErr) {
				code = toolErr.Code
			}
			log.Debug().Str("tool", toolName).Str("code", code).Err(out.err).Msg("Tool execution failed")
			return failure(code, out.err.Error())
		}

		output, truncated := truncateOutput(out.value)
		return ToolResult{
			Success:   true,
			Output:    output,
			Truncated: truncated,
		}

	case <-timeoutCtx.Done():
		log.Warn().Str("tool", toolName).Dur("timeout", timeout).Msg("Tool execution timeout")
		return failure(CodeTimeout, fmt.Sprintf("tool execution timeout after %v", timeout))
	}
}

func failure(code, message string) ToolResult {
	return ToolResult{Success: false, Code: code, Error: message}
}

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validParamTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
		if len(param.Enum) > 0 && param.Type != "string" {
			return fmt.Errorf("enum is only supported on string parameters (%s)", param.Name)
		}
	}

	return nil
}

func buildSchemaMap(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			enum := make([]interface{}, len(param.Enum))
			for i, v := range param.Enum {
				enum[i] = v
			}
			paramSchema["enum"] = enum
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}

	return nil
}

func truncateOutput(output interface{}) (interface{}, bool) {
	var size int
	switch v := output.(type) {
	case string:
		size = len(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return output, false
		}
		size = len(data)
		if size <= maxOutputSize {
			return output, false
		}
		output = string(data)
	}

	if size <= maxOutputSize {
		return output, false
	}

	str := output.(string)
	cut := maxOutputSize
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}
	log.Warn().
		Int("original", len(str)).
		Int("truncated", cut).
		Msg("Output truncated")
	return str[:cut] + "\n... [output truncated]", true
}
