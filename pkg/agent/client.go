package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/agentfactory/internal/observability"
	"github.com/harun/agentfactory/pkg/commandqueue"
	"github.com/harun/agentfactory/pkg/session"
	"github.com/harun/agentfactory/pkg/toolexecutor"
)

const sessionIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ClientConfig configures an agent Client
type ClientConfig struct {
	Provider     LLMProvider
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	// MaxRetries bounds attempts per model call on transient errors.
	MaxRetries   int
	RetryBackoff time.Duration
	MaxToolTurns int
	// ContextLimit is the estimated token count above which a session
	// conversation is compacted.
	ContextLimit int
	ToolTimeout  time.Duration
	EventBuffer  int
	// MaxConcurrentTurns caps turns running across all sessions. Zero means no cap.
	MaxConcurrentTurns int

	Transcripts *session.Manager
	Sink        EventSink
	Logger      zerolog.Logger

	// MCPLauncher builds the client for a configured MCP server. Defaults
	// to launching cfg.Command as a child process.
	MCPLauncher func(serverID string, cfg MCPServerConfig) *toolexecutor.MCPClient
}

func (c *ClientConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxToolTurns <= 0 {
		c.MaxToolTurns = DefaultMaxToolTurns
	}
	if c.ContextLimit <= 0 {
		c.ContextLimit = DefaultContextLimit
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.MCPLauncher == nil {
		c.MCPLauncher = func(serverID string, cfg MCPServerConfig) *toolexecutor.MCPClient {
			return toolexecutor.NewMCPClient(serverID, cfg.Command, cfg.Args)
		}
	}
}

// Client owns the model provider and the sessions created from it
type Client struct {
	cfg    ClientConfig
	logger zerolog.Logger

	mu       sync.Mutex
	started  bool
	queue    *commandqueue.CommandQueue
	sessions map[string]*Session
}

// NewClient creates a client. A nil provider is a missing dependency.
func NewClient(cfg ClientConfig) (*Client, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("%w: model provider is required", ErrMissingDependency)
	}
	cfg.applyDefaults()

	return &Client{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "agent").Str("provider", cfg.Provider.Provider()).Logger(),
		sessions: make(map[string]*Session),
	}, nil
}

// Provider returns the name of the client's model provider
func (c *Client) Provider() string {
	return c.cfg.Provider.Provider()
}

// Start prepares the client for sessions. Calling it again is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	c.queue = commandqueue.New(commandqueue.Config{MaxConcurrent: c.cfg.MaxConcurrentTurns})
	c.started = true

	c.logger.Info().Str("model", c.cfg.Model).Msg("Agent client started")
	return nil
}

// Stop destroys the sessions still open and releases the turn queue.
// Stopping a stopped client is a no-op.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	open := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		open = append(open, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.Destroy(ctx); err != nil && !errors.Is(err, ErrSessionClosed) {
			errs = append(errs, fmt.Errorf("destroy session %s: %w", s.id, err))
		}
	}

	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.started = false
	c.mu.Unlock()

	if queue != nil {
		if err := queue.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(open) > 0 {
		c.logger.Warn().Int("sessions", len(open)).Msg("Destroyed sessions left open at stop")
	}
	c.logger.Info().Msg("Agent client stopped")
	return errors.Join(errs...)
}

// CreateSession validates opts, builds the session tool registry and
// launches any configured MCP servers
func (c *Client) CreateSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	c.mu.Lock()
	started := c.started
	queue := c.queue
	c.mu.Unlock()
	if !started {
		return nil, ErrClientNotStarted
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Model == "" {
		opts.Model = c.cfg.Model
	}

	id, err := gonanoid.Generate(sessionIDAlphabet, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "session"
	}
	id = name + "-" + id

	executor := toolexecutor.New()
	for _, def := range opts.Tools {
		if err := executor.RegisterTool(def); err != nil {
			return nil, fmt.Errorf("%w: tool %q: %v", ErrInvalidArgument, def.Name, err)
		}
	}

	s := &Session{
		id:       id,
		name:     name,
		opts:     opts,
		client:   c,
		queue:    queue,
		executor: executor,
		events:   make(chan Event, c.cfg.EventBuffer),
		closing:  make(chan struct{}),
		logger:   c.logger.With().Str("agent", name).Str("session", id).Logger(),
	}

	for _, serverID := range mcpServerIDs(opts.MCPServers) {
		srv := opts.MCPServers[serverID]
		mcpClient := c.cfg.MCPLauncher(serverID, srv)
		s.mcpClients = append(s.mcpClients, mcpClient)

		names, err := executor.RegisterMCPServer(ctx, mcpClient, srv.Tools)
		if err != nil {
			s.stopMCP()
			return nil, fmt.Errorf("mcp server %s: %w", serverID, err)
		}
		s.logger.Info().Str("server", serverID).Strs("tools", names).Msg("MCP server tools registered")
	}

	if err := validateAgentTools(opts.CustomAgents, executor); err != nil {
		s.stopMCP()
		return nil, err
	}
	s.systemPrompt = buildSystemPrompt(c.cfg.SystemPrompt, opts)

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		s.stopMCP()
		return nil, ErrClientNotStarted
	}
	c.sessions[id] = s
	count := len(c.sessions)
	c.mu.Unlock()

	observability.SetActiveSessions(count)
	s.logger.Info().
		Str("model", opts.Model).
		Bool("streaming", opts.Streaming).
		Strs("tools", executor.ListTools()).
		Msg("Session created")
	return s, nil
}

// Sessions returns the ids of open sessions, sorted
func (c *Client) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	count := len(c.sessions)
	c.mu.Unlock()
	observability.SetActiveSessions(count)
}
