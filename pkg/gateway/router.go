package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// RPCRouter maps JSON-RPC method names to handlers
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]RequestHandler
}

// NewRPCRouter creates a new RPC router
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods: make(map[string]RequestHandler),
	}
}

// RegisterMethod registers an RPC method handler, replacing any previous one
func (r *RPCRouter) RegisterMethod(name string, handler RequestHandler) error {
	if name == "" {
		return fmt.Errorf("method name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.methods[name] = handler
	return nil
}

// UnregisterMethod removes an RPC method handler
func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.methods, name)
}

// ParseRequest parses and validates a JSON-RPC request
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{
			Code:    ParseError,
			Message: "Parse error",
			Data:    err.Error(),
		}
	}

	if req.ID == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing id field",
		}
	}
	if req.Method == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing method field",
		}
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}

	return &req, nil
}

// RouteRequest runs the handler for req. Handler errors that are an
// *RPCError keep their code; any other error is an internal error.
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return errorResponse("", InvalidRequest, "invalid request")
	}

	r.mu.RLock()
	handler, exists := r.methods[req.Method]
	r.mu.RUnlock()

	if !exists {
		return errorResponse(req.ID, MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return &RPCResponse{ID: req.ID, JSONRPC: "2.0", Error: rpcErr}
		}
		return errorResponse(req.ID, InternalError, err.Error())
	}

	return &RPCResponse{
		ID:      req.ID,
		JSONRPC: "2.0",
		Result:  result,
	}
}

// HasMethod checks if a method is registered
func (r *RPCRouter) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.methods[name]
	return exists
}

// GetMethods returns all registered method names, sorted
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

func errorResponse(id string, code int, message string) *RPCResponse {
	return &RPCResponse{
		ID:      id,
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
	}
}
