package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamType groups the events delivered to gateway clients
type StreamType string

const (
	StreamTypeAssistant StreamType = "assistant"
	StreamTypeTool      StreamType = "tool"
	StreamTypeLifecycle StreamType = "lifecycle"
	StreamTypeTask      StreamType = "task"
	StreamTypeRun       StreamType = "run"
)

// RPCRequest represents a JSON-RPC 2.0 request
type RPCRequest struct {
	ID      string                 `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
	JSONRPC string                 `json:"jsonrpc"`
}

// RPCResponse represents a JSON-RPC 2.0 response
type RPCResponse struct {
	ID      string      `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	JSONRPC string      `json:"jsonrpc"`
}

// RPCError represents a JSON-RPC 2.0 error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	return e.Message
}

// EventMessage is a server-initiated event. Seq increases by one per
// broadcast.
type EventMessage struct {
	Type      string      `json:"type,omitempty"`
	Event     string      `json:"event"`
	Stream    StreamType  `json:"stream,omitempty"`
	Phase     string      `json:"phase,omitempty"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
	RunID     string      `json:"run_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	AgentID   string      `json:"agent_id,omitempty"`
}

// AuthChallenge is sent on connect when a shared secret is configured
type AuthChallenge struct {
	Event     string `json:"event"`
	Challenge string `json:"challenge"`
}

// AuthResponse represents a client's authentication response
type AuthResponse struct {
	Method    string `json:"method"`
	Signature string `json:"signature"`
}

// AuthResult represents the result of authentication
type AuthResult struct {
	Event   string `json:"event"`
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClientInfo describes a connected client
type ClientInfo struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
	IPAddress     string    `json:"ip_address"`
	Idle          bool      `json:"idle"`
}

// RequestHandler handles one RPC method
type RequestHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// RPC error codes
const (
	ParseError             = -32700
	InvalidRequest         = -32600
	MethodNotFound         = -32601
	InvalidParams          = -32602
	InternalError          = -32603
	AuthenticationRequired = -32001
)

const writeTimeout = 5 * time.Second

// Client is a connected WebSocket client
type Client struct {
	ID            string
	Conn          *websocket.Conn
	Authenticated bool
	Challenge     string
	ConnectedAt   time.Time
	LastActivity  time.Time
	IPAddress     string
	AuthAttempts  int

	writeMu sync.Mutex
}

// WriteMessage writes one frame. Writes from concurrent broadcasts and RPC
// replies are serialized.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Conn.WriteMessage(messageType, data)
}

// WriteJSON writes v as one JSON text frame
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Conn.WriteJSON(v)
}
