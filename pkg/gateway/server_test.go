package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agentfactory/pkg/agent"
	"github.com/harun/agentfactory/pkg/subagent"
	"github.com/harun/agentfactory/pkg/task"
)

type gatewayFixture struct {
	server  *Server
	store   *task.Store
	tracker *subagent.Tracker
	http    *httptest.Server
}

func newGatewayFixture(t *testing.T, secret string) *gatewayFixture {
	t.Helper()

	store := task.NewStore(task.StoreConfig{Logger: zerolog.Nop()})
	tracker := subagent.New(subagent.Config{CycleID: "cycle-test", Logger: zerolog.Nop()})
	srv, err := NewServer(Config{
		Addr:         "127.0.0.1:0",
		SharedSecret: secret,
		Store:        store,
		Tracker:      tracker,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		hs.Close()
	})
	return &gatewayFixture{server: srv, store: store, tracker: tracker, http: hs}
}

func (f *gatewayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestNewServer_Validation(t *testing.T) {
	store := task.NewStore(task.StoreConfig{})

	_, err := NewServer(Config{Store: store})
	assert.ErrorContains(t, err, "listen address")

	_, err = NewServer(Config{Addr: "127.0.0.1:0"})
	assert.ErrorContains(t, err, "task store")
}

func TestServer_OpenGateway(t *testing.T) {
	f := newGatewayFixture(t, "")
	conn := f.dial(t)

	var greeting AuthResult
	readJSON(t, conn, &greeting)
	require.True(t, greeting.Success)
	assert.Equal(t, "auth.success", greeting.Event)

	t.Run("should broadcast task transitions", func(t *testing.T) {
		created, err := f.store.Create(task.TypeBackend, "build the API")
		require.NoError(t, err)

		var ev EventMessage
		readJSON(t, conn, &ev)
		assert.Equal(t, "task.transition", ev.Event)
		assert.Equal(t, StreamTypeTask, ev.Stream)
		assert.Equal(t, string(task.StatusPending), ev.Phase)
		data, ok := ev.Data.(map[string]interface{})
		require.True(t, ok)
		taskData, ok := data["task"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, created.ID, taskData["id"])

		_, err = f.store.Claim("worker-backend", task.TypeBackend)
		require.NoError(t, err)
		var claimed EventMessage
		readJSON(t, conn, &claimed)
		assert.Equal(t, string(task.StatusInProgress), claimed.Phase)
		assert.Equal(t, "worker-backend", claimed.AgentID)
		assert.Equal(t, ev.Seq+1, claimed.Seq)
	})

	t.Run("should route session events by stream", func(t *testing.T) {
		f.server.Publish(agent.Event{
			Type:      agent.EventMessageDelta,
			SessionID: "sess-1",
			Agent:     "supervisor",
			Timestamp: time.Now(),
			Data:      agent.EventData{DeltaContent: "hel"},
		})
		f.server.Publish(agent.Event{
			Type:      agent.EventToolComplete,
			SessionID: "sess-1",
			Agent:     "supervisor",
			Timestamp: time.Now(),
			Data:      agent.EventData{ToolName: "create_task", Success: true},
		})

		var delta, tool EventMessage
		readJSON(t, conn, &delta)
		readJSON(t, conn, &tool)

		assert.Equal(t, StreamTypeAssistant, delta.Stream)
		assert.Equal(t, "delta", delta.Phase)
		assert.Equal(t, "supervisor", delta.AgentID)
		assert.Equal(t, "sess-1", delta.SessionID)
		assert.Equal(t, StreamTypeTool, tool.Stream)
		assert.Equal(t, "end", tool.Phase)
		assert.Greater(t, tool.Seq, delta.Seq)
	})

	t.Run("should broadcast run updates", func(t *testing.T) {
		runID, err := f.tracker.Register(subagent.RunParams{AgentID: "tester", SessionID: "sess-9", Prompt: "run tests"})
		require.NoError(t, err)

		var ev EventMessage
		readJSON(t, conn, &ev)
		assert.Equal(t, "run.updated", ev.Event)
		assert.Equal(t, StreamTypeRun, ev.Stream)
		assert.Equal(t, "tester", ev.AgentID)
		data, ok := ev.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, runID, data["id"])
	})

	t.Run("should answer RPC over the socket", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(RPCRequest{ID: "42", Method: "factory.status"}))

		var resp RPCResponse
		readJSON(t, conn, &resp)
		require.Nil(t, resp.Error)
		assert.Equal(t, "42", resp.ID)
		result, ok := resp.Result.(map[string]interface{})
		require.True(t, ok)
		assert.EqualValues(t, 1, result["total"])
		assert.EqualValues(t, 1, result["in_progress"])
	})

	t.Run("should list connected clients", func(t *testing.T) {
		clients := f.server.GetConnectedClients()
		require.Len(t, clients, 1)
		assert.True(t, clients[0].Authenticated)
	})
}

func TestServer_ChallengeAuth(t *testing.T) {
	const secret = "s3cret"
	f := newGatewayFixture(t, secret)
	conn := f.dial(t)

	var challenge AuthChallenge
	readJSON(t, conn, &challenge)
	require.Equal(t, "auth.challenge", challenge.Event)
	require.NotEmpty(t, challenge.Challenge)

	t.Run("should refuse RPC before auth", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(RPCRequest{ID: "1", Method: "gateway.methods"}))

		var resp RPCResponse
		readJSON(t, conn, &resp)
		require.NotNil(t, resp.Error)
		assert.Equal(t, AuthenticationRequired, resp.Error.Code)
	})

	t.Run("should reject a wrong signature and keep the connection", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(AuthResponse{Method: "auth.response", Signature: Sign("nope", challenge.Challenge)}))

		var result AuthResult
		readJSON(t, conn, &result)
		assert.False(t, result.Success)
		assert.Equal(t, "Invalid signature", result.Message)
	})

	t.Run("should accept the signed challenge", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(AuthResponse{Method: "auth.response", Signature: Sign(secret, challenge.Challenge)}))

		var result AuthResult
		readJSON(t, conn, &result)
		assert.True(t, result.Success)

		require.NoError(t, conn.WriteJSON(RPCRequest{ID: "2", Method: "gateway.methods"}))
		var resp RPCResponse
		readJSON(t, conn, &resp)
		require.Nil(t, resp.Error)
		assert.Contains(t, resp.Result, "factory.tasks")
	})
}

func TestServer_ChallengeAuthClosesAfterMaxAttempts(t *testing.T) {
	f := newGatewayFixture(t, "s3cret")
	conn := f.dial(t)

	var challenge AuthChallenge
	readJSON(t, conn, &challenge)

	for i := 0; i < maxAuthAttempts; i++ {
		require.NoError(t, conn.WriteJSON(AuthResponse{Method: "auth.response", Signature: "bad"}))
		var result AuthResult
		readJSON(t, conn, &result)
		assert.False(t, result.Success)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServer_HTTPEndpoints(t *testing.T) {
	const secret = "s3cret"
	f := newGatewayFixture(t, secret)
	_, err := f.store.Create(task.TypeFrontend, "landing page")
	require.NoError(t, err)
	_, err = f.store.Create(task.TypeStyling, "palette")
	require.NoError(t, err)

	postRPC := func(t *testing.T, body string, header string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, f.http.URL+"/rpc", bytes.NewBufferString(body))
		require.NoError(t, err)
		if header != "" {
			req.Header.Set(SecretHeader, header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	t.Run("should report health", func(t *testing.T) {
		resp, err := http.Get(f.http.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("should report task status", func(t *testing.T) {
		resp, err := http.Get(f.http.URL + "/status")
		require.NoError(t, err)
		defer resp.Body.Close()

		var out struct {
			Tasks   task.StatusReport `json:"tasks"`
			Clients int               `json:"clients"`
			Runs    subagent.Stats    `json:"runs"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, 2, out.Tasks.Pending)
		assert.Equal(t, 2, out.Tasks.Total)
		assert.Zero(t, out.Clients)
	})

	t.Run("should expose metrics", func(t *testing.T) {
		resp, err := http.Get(f.http.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("should require the shared secret", func(t *testing.T) {
		resp := postRPC(t, `{"id":"1","method":"factory.status"}`, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("should filter tasks by type", func(t *testing.T) {
		resp := postRPC(t, `{"id":"1","method":"factory.tasks","params":{"type":"styling"}}`, secret)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			Result []task.Task `json:"result"`
			Error  *RPCError   `json:"error"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.Nil(t, out.Error)
		require.Len(t, out.Result, 1)
		assert.Equal(t, "task-2", out.Result[0].ID)
	})

	t.Run("should map lookup failures to invalid params", func(t *testing.T) {
		for _, body := range []string{
			`{"id":"1","method":"factory.task","params":{"id":"task-99"}}`,
			`{"id":"2","method":"factory.tasks","params":{"type":"database"}}`,
		} {
			resp := postRPC(t, body, secret)
			var out RPCResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			require.NotNil(t, out.Error)
			assert.Equal(t, InvalidParams, out.Error.Code)
		}
	})

	t.Run("should reject malformed requests", func(t *testing.T) {
		resp := postRPC(t, `{"method":"factory.status"}`, secret)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("should reject non-POST RPC", func(t *testing.T) {
		resp, err := http.Get(f.http.URL + "/rpc")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestServer_OutboxDropsWhenFull(t *testing.T) {
	store := task.NewStore(task.StoreConfig{})
	srv, err := NewServer(Config{Addr: "127.0.0.1:0", Store: store, OutboxSize: 1, Logger: zerolog.Nop()})
	require.NoError(t, err)

	// stop the drain loop so the outbox cannot empty
	srv.cancel()
	srv.loops.Wait()

	srv.Broadcast("first", nil)
	srv.Broadcast("second", nil)
	srv.Broadcast("third", nil)
	assert.Equal(t, int64(2), srv.Dropped())

	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()))
}

func TestServer_StartStop(t *testing.T) {
	store := task.NewStore(task.StoreConfig{})
	srv, err := NewServer(Config{Addr: "127.0.0.1:0", Store: store, Logger: zerolog.Nop()})
	require.NoError(t, err)

	require.NoError(t, srv.Start(context.Background()))
	addr := srv.Addr()
	assert.NotEqual(t, "127.0.0.1:0", addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}
