package gateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCRouter_RegisterMethod(t *testing.T) {
	router := NewRPCRouter()
	ok := func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return "result", nil
	}

	t.Run("should register and unregister methods", func(t *testing.T) {
		require.NoError(t, router.RegisterMethod("b.method", ok))
		require.NoError(t, router.RegisterMethod("a.method", ok))
		assert.True(t, router.HasMethod("a.method"))
		assert.Equal(t, []string{"a.method", "b.method"}, router.GetMethods())

		router.UnregisterMethod("a.method")
		router.UnregisterMethod("never.registered")
		assert.False(t, router.HasMethod("a.method"))
	})

	t.Run("should reject a nil handler or empty name", func(t *testing.T) {
		err := router.RegisterMethod("test.nil", nil)
		assert.ErrorContains(t, err, "handler cannot be nil")
		assert.Error(t, router.RegisterMethod("", ok))
	})
}

func TestRPCRouter_ParseRequest(t *testing.T) {
	router := NewRPCRouter()

	t.Run("should parse a valid request and default the version", func(t *testing.T) {
		req, err := router.ParseRequest([]byte(`{"id":"1","method":"factory.task","params":{"id":"task-1"}}`))
		require.NoError(t, err)
		assert.Equal(t, "1", req.ID)
		assert.Equal(t, "factory.task", req.Method)
		assert.Equal(t, "task-1", req.Params["id"])
		assert.Equal(t, "2.0", req.JSONRPC)
	})

	tests := []struct {
		name string
		data string
		code int
	}{
		{"should reject malformed JSON", `{"id":`, ParseError},
		{"should reject a missing id", `{"method":"x"}`, InvalidRequest},
		{"should reject a missing method", `{"id":"1"}`, InvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := router.ParseRequest([]byte(tt.data))
			require.Error(t, err)
			rpcErr, ok := err.(*RPCError)
			require.True(t, ok)
			assert.Equal(t, tt.code, rpcErr.Code)
		})
	}
}

func TestRPCRouter_RouteRequest(t *testing.T) {
	ctx := context.Background()
	router := NewRPCRouter()
	require.NoError(t, router.RegisterMethod("echo", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return params["value"], nil
	}))
	require.NoError(t, router.RegisterMethod("fail", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	}))
	require.NoError(t, router.RegisterMethod("bad.params", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return nil, &RPCError{Code: InvalidParams, Message: "id is required"}
	}))

	t.Run("should return the handler result", func(t *testing.T) {
		resp := router.RouteRequest(ctx, &RPCRequest{ID: "1", Method: "echo", Params: map[string]interface{}{"value": 42}})
		assert.Nil(t, resp.Error)
		assert.Equal(t, 42, resp.Result)
		assert.Equal(t, "1", resp.ID)
	})

	t.Run("should map errors to RPC codes", func(t *testing.T) {
		resp := router.RouteRequest(ctx, &RPCRequest{ID: "2", Method: "fail"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InternalError, resp.Error.Code)
		assert.Equal(t, "boom", resp.Error.Message)

		resp = router.RouteRequest(ctx, &RPCRequest{ID: "3", Method: "bad.params"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidParams, resp.Error.Code)

		resp = router.RouteRequest(ctx, &RPCRequest{ID: "4", Method: "missing"})
		require.NotNil(t, resp.Error)
		assert.Equal(t, MethodNotFound, resp.Error.Code)

		resp = router.RouteRequest(ctx, nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, InvalidRequest, resp.Error.Code)
	})
}
