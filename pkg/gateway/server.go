package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/agentfactory/internal/observability"
	"github.com/harun/agentfactory/internal/tracing"
	"github.com/harun/agentfactory/pkg/subagent"
	"github.com/harun/agentfactory/pkg/task"
)

// SecretHeader carries the shared secret on HTTP RPC requests
const SecretHeader = "X-Factory-Secret"

// DefaultOutboxSize is the number of events queued for broadcast before
// new ones are dropped
const DefaultOutboxSize = 1024

// Server is the event gateway: a WebSocket stream of session events, task
// transitions and run updates, plus status and metrics endpoints
type Server struct {
	addr         string
	tickInterval time.Duration
	server       *http.Server
	listener     net.Listener
	upgrader     websocket.Upgrader
	clients      *ClientRegistry
	router       *RPCRouter
	authHandler  *AuthHandler
	broadcaster  *EventBroadcaster
	store        *task.Store
	tracker      *subagent.Tracker
	logger       zerolog.Logger

	outbox  chan EventMessage
	dropped int64

	mu             sync.RWMutex
	isShuttingDown bool
	inFlightReqs   sync.WaitGroup
	cancel         context.CancelFunc
	loops          sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8090". Port 0 picks a
	// free port.
	Addr string
	// SharedSecret enables challenge authentication when set.
	SharedSecret string
	// TickInterval emits a lifecycle tick. Zero disables it.
	TickInterval time.Duration
	OutboxSize   int
	Store        *task.Store
	Tracker      *subagent.Tracker
	Logger       zerolog.Logger
}

// NewServer creates a gateway over store. Task transitions and tracker
// runs are broadcast from the moment the server is created.
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = DefaultOutboxSize
	}

	logger := cfg.Logger.With().Str("component", "gateway").Logger()
	clients := NewClientRegistry()

	s := &Server{
		addr:         cfg.Addr,
		tickInterval: cfg.TickInterval,
		clients:      clients,
		router:       NewRPCRouter(),
		authHandler:  NewAuthHandler(cfg.SharedSecret),
		broadcaster:  NewEventBroadcaster(clients, logger),
		store:        cfg.Store,
		tracker:      cfg.Tracker,
		logger:       logger,
		outbox:       make(chan EventMessage, cfg.OutboxSize),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.registerBuiltinMethods()
	s.store.OnTransition(s.OnTaskTransition)
	if s.tracker != nil {
		s.tracker.On(subagent.EventRunRegistered, s.onRun)
		s.tracker.On(subagent.EventRunUpdated, s.onRun)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loops.Add(1)
	go s.drainOutbox(ctx)
	if s.tickInterval > 0 {
		s.loops.Add(1)
		go s.tick(ctx)
	}

	return s, nil
}

// Handler returns the gateway routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting gateway")

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop announces shutdown, waits for in-flight RPCs, closes every client
// and stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.isShuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	server := s.server
	s.mu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")

	s.cancel()
	s.loops.Wait()
	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown deadline reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown gateway: %w", err)
		}
	}

	s.logger.Info().Int64("dropped_events", s.Dropped()).Msg("Gateway stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isShuttingDown
}

// enqueue hands msg to the broadcast loop without blocking the producer
func (s *Server) enqueue(msg EventMessage) {
	if s.shuttingDown() {
		return
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	select {
	case s.outbox <- msg:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logger.Warn().Str("event", msg.Event).Msg("Gateway outbox full, dropping event")
	}
}

// Dropped returns the number of events dropped on a full outbox
func (s *Server) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

func (s *Server) drainOutbox(ctx context.Context) {
	defer s.loops.Done()
	for {
		select {
		case msg := <-s.outbox:
			s.broadcaster.BroadcastTyped(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-s.outbox:
					s.broadcaster.BroadcastTyped(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) tick(ctx context.Context) {
	defer s.loops.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueue(EventMessage{
				Event:  "tick",
				Stream: StreamTypeLifecycle,
				Phase:  "tick",
				Data: map[string]interface{}{
					"status":  "alive",
					"clients": s.clients.Count(),
				},
			})
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := s.greet(client); err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to greet client")
		_ = conn.Close()
		s.clients.Remove(clientID)
		return
	}

	go s.handleClient(client)
}

// greet sends the auth challenge, or accepts the client at once when no
// secret is configured
func (s *Server) greet(client *Client) error {
	if !s.authHandler.Required() {
		s.clients.MarkAuthenticated(client.ID)
		return client.WriteJSON(AuthResult{Event: "auth.success", Success: true})
	}

	challenge, err := s.authHandler.GenerateChallenge()
	if err != nil {
		return err
	}
	client.Challenge = challenge
	return client.WriteJSON(AuthChallenge{Event: "auth.challenge", Challenge: challenge})
}

func (s *Server) handleClient(client *Client) {
	defer func() {
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("clientId", client.ID).Msg("WebSocket read ended")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		if !s.handleMessage(client, message) {
			return
		}
	}
}

// handleMessage processes one client frame and reports whether the
// connection stays open
func (s *Server) handleMessage(client *Client, message []byte) bool {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		return s.handleAuthMessage(client, authResp)
	}

	if !s.clients.IsAuthenticated(client.ID) {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return true
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(client, "", ParseError, err.Error())
		}
		return true
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()

		response := s.router.RouteRequest(context.Background(), req)
		if err := client.WriteJSON(response); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Str("requestId", req.ID).
				Msg("Failed to send response")
		}
	}()
	return true
}

func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) bool {
	if !s.authHandler.Required() {
		_ = client.WriteJSON(AuthResult{Event: "auth.success", Success: true})
		return true
	}

	result := s.authHandler.HandleAuthResponse(client, authResp.Signature)
	if result.Success {
		s.clients.MarkAuthenticated(client.ID)
	}
	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return false
	}

	if !result.Success {
		s.logger.Warn().
			Str("clientId", client.ID).
			Str("reason", result.Message).
			Msg("Authentication failed")
		return client.AuthAttempts < maxAuthAttempts
	}
	s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
	return true
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.authHandler.Required() && !s.authHandler.VerifySecret(r.Header.Get(SecretHeader)) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	req, err := s.router.ParseRequest(body)
	if err != nil {
		resp := errorResponse("", ParseError, err.Error())
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			resp.Error = rpcErr
		}
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx := tracing.WithTraceID(r.Context(), traceID)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("request_id", req.ID).
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	resp := s.router.RouteRequest(ctx, req)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("Failed to encode RPC response")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	out := map[string]interface{}{
		"tasks":   s.store.Status(),
		"clients": s.clients.Count(),
		"seq":     s.broadcaster.Seq(),
	}
	if s.tracker != nil {
		out["runs"] = s.tracker.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode status")
	}
}

func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	if err := client.WriteJSON(errorResponse(requestID, code, message)); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error response")
	}
}

// Broadcast queues an untyped event for every authenticated client
func (s *Server) Broadcast(event string, data interface{}) {
	s.enqueue(EventMessage{Event: event, Data: data})
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}
