package toolexecutor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	mcpProtocolVersion = "2024-11-05"
	mcpCallTimeout     = 10 * time.Second
)

// ErrMCPClosed is returned for calls on a stopped or exited server
var ErrMCPClosed = errors.New("mcp server closed")

// MCP JSON-RPC messages
type mcpRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      *int        `json:"id,omitempty"`
}

type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type mcpError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCPClient talks newline-delimited JSON-RPC to a Model Context Protocol
// server, either a child process or a pair of pipes.
type MCPClient struct {
	serverID string
	command  string
	args     []string

	mu      sync.Mutex
	started bool
	closed  bool
	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Reader
	nextID  int
	pending map[int]chan *mcpResponse
}

// NewMCPClient creates a client that launches command on Start
func NewMCPClient(serverID, command string, args []string) *MCPClient {
	return &MCPClient{
		serverID: serverID,
		command:  command,
		args:     args,
		pending:  make(map[int]chan *mcpResponse),
	}
}

// NewMCPClientFromPipes creates a client over an already connected server
func NewMCPClientFromPipes(serverID string, r io.Reader, w io.WriteCloser) *MCPClient {
	return &MCPClient{
		serverID: serverID,
		stdin:    w,
		stdout:   r,
		pending:  make(map[int]chan *mcpResponse),
	}
}

// ServerID returns the id the client was created with
func (c *MCPClient) ServerID() string {
	return c.serverID
}

// Start launches the server if needed and performs the initialize handshake.
// It is safe to call more than once.
func (c *MCPClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrMCPClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}

	if c.stdout == nil {
		if c.command == "" {
			c.mu.Unlock()
			return fmt.Errorf("mcp server %s has no command", c.serverID)
		}
		// The process outlives the ctx of the call that started it; Stop kills it.
		cmd := exec.Command(c.command, c.args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			c.mu.Unlock()
			return err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			c.mu.Unlock()
			return err
		}
		if err := cmd.Start(); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("failed to launch mcp server %s: %w", c.serverID, err)
		}
		c.process = cmd
		c.stdin = stdin
		c.stdout = stdout
	}
	c.started = true
	c.mu.Unlock()

	go c.listen()

	log.Info().Str("server", c.serverID).Str("command", c.command).Msg("MCP server started")

	if _, err := c.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "agentfactory",
			"version": "0.1.0",
		},
	}); err != nil {
		return fmt.Errorf("mcp initialize: %w", err)
	}
	return c.notify("notifications/initialized", nil)
}

func (c *MCPClient) listen() {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var resp mcpResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			log.Warn().Err(err).Str("server", c.serverID).Msg("Failed to unmarshal MCP response")
			continue
		}

		id, ok := resp.ID.(float64)
		if !ok {
			// server-initiated notification
			continue
		}
		c.mu.Lock()
		ch, exists := c.pending[int(id)]
		delete(c.pending, int(id))
		c.mu.Unlock()
		if exists {
			ch <- &resp
		}
	}

	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *MCPClient) write(req mcpRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	_, err = stdin.Write(append(data, '\n'))
	return err
}

func (c *MCPClient) notify(method string, params interface{}) error {
	return c.write(mcpRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *MCPClient) call(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrMCPClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *mcpResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.write(mcpRequest{JSONRPC: "2.0", Method: method, Params: params, ID: &id}); err != nil {
		cleanup()
		return nil, err
	}

	timer := time.NewTimer(mcpCallTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrMCPClosed
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-timer.C:
		cleanup()
		return nil, fmt.Errorf("MCP request %s timeout", method)
	}
}

// CallTool invokes a server tool. Text content is joined and returned as
// a string; a result flagged isError becomes an execution_error ToolError.
func (c *MCPClient) CallTool(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": params,
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(result.Content))
	allText := true
	for _, item := range result.Content {
		if item.Type != "text" {
			allText = false
			continue
		}
		texts = append(texts, item.Text)
	}

	if result.IsError {
		return nil, NewToolError(CodeExecutionError, strings.Join(texts, "\n"))
	}
	if allText {
		return strings.Join(texts, "\n"), nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ListResources fetches resource listings from the MCP server.
func (c *MCPClient) ListResources(ctx context.Context) ([]map[string]interface{}, error) {
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Resources []map[string]interface{} `json:"resources"`
	}
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, err
	}
	return listResult.Resources, nil
}

// ReadResource reads a specific resource from the MCP server.
func (c *MCPClient) ReadResource(ctx context.Context, uri string) (map[string]interface{}, error) {
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, "resources/read", map[string]interface{}{"uri": uri})
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTools fetches the server's tools as definitions without handlers
func (c *MCPClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, err
	}

	defs := make([]ToolDefinition, 0, len(listResult.Tools))
	for _, t := range listResult.Tools {
		desc := t.Description
		if desc == "" {
			desc = fmt.Sprintf("%s tool from MCP server %s", t.Name, c.serverID)
		}
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: desc,
			Parameters:  parseMCPToolParameters(t.InputSchema),
			Source:      "mcp:" + c.serverID,
		})
	}
	return defs, nil
}

// Stop closes the server's stdin and kills the process. Safe to call twice.
func (c *MCPClient) Stop() error {
	c.mu.Lock()
	if c.closed && c.process == nil {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stdin := c.stdin
	process := c.process
	c.process = nil
	c.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if process != nil && process.Process != nil {
		_ = process.Process.Kill()
		_ = process.Wait()
		log.Info().Str("server", c.serverID).Msg("MCP server stopped")
	}
	return nil
}

func parseMCPToolParameters(schema json.RawMessage) []ToolParameter {
	if len(schema) == 0 {
		return nil
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return nil
	}

	properties, ok := schemaMap["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schemaMap["required"].([]interface{}); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]ToolParameter, 0, len(names))
	for _, name := range names {
		prop, ok := properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		param := ToolParameter{
			Name:        name,
			Type:        "string",
			Description: name,
			Required:    required[name],
		}
		if typeVal, ok := prop["type"].(string); ok && validParamTypes[typeVal] {
			param.Type = typeVal
		}
		if desc, ok := prop["description"].(string); ok && desc != "" {
			param.Description = desc
		}
		if defVal, ok := prop["default"]; ok {
			param.Default = defVal
		}
		if enum, ok := prop["enum"].([]interface{}); ok && param.Type == "string" {
			for _, v := range enum {
				if s, ok := v.(string); ok {
					param.Enum = append(param.Enum, s)
				}
			}
		}
		params = append(params, param)
	}

	return params
}
