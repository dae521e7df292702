package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/agentfactory/pkg/commandqueue"
	"github.com/harun/agentfactory/pkg/session"
	"github.com/harun/agentfactory/pkg/toolexecutor"
)

const turnWarnAfter = 2 * time.Minute

// Session is a stateful conversation with the model. It runs one turn at
// a time and delivers the turn's events on a bounded channel.
type Session struct {
	id           string
	name         string
	opts         SessionOptions
	client       *Client
	queue        *commandqueue.CommandQueue
	executor     *toolexecutor.ToolExecutor
	systemPrompt string
	events       chan Event
	logger       zerolog.Logger
	mcpClients   []*toolexecutor.MCPClient

	// inflight tracks turn goroutines; Destroy waits on it before closing
	// events. closing is closed by Destroy to release blocked emits.
	inflight sync.WaitGroup
	closing  chan struct{}

	mu      sync.Mutex
	history []Message
	usage   TokenUsage
	turns   int
	closed  bool
	current *turn
}

type turn struct {
	id     string
	cancel context.CancelFunc
	// err is set before the terminal event is emitted
	err error
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Name returns the agent name the session was created with
func (s *Session) Name() string { return s.name }

// Model returns the model the session talks to
func (s *Session) Model() string { return s.opts.Model }

// SystemPrompt returns the rendered system prompt
func (s *Session) SystemPrompt() string { return s.systemPrompt }

// Events returns the session event channel. It is closed by Destroy.
func (s *Session) Events() <-chan Event { return s.events }

// Tools returns the names of the tools registered in the session
func (s *Session) Tools() []string { return s.executor.ListTools() }

// History returns a copy of the committed conversation
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Usage returns the tokens consumed by the session so far
func (s *Session) Usage() TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Turns returns the number of turns started in the session
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

func (s *Session) lane() string {
	return "session:" + s.id
}

// Send starts a turn and returns without waiting for it. The turn's events
// arrive on Events; the caller must drain them. Cancelling ctx cancels the
// turn.
func (s *Session) Send(ctx context.Context, prompt string) error {
	_, err := s.start(ctx, prompt)
	return err
}

// SendAndWait runs a turn and consumes its events until the session is idle,
// returning the final assistant content.
func (s *Session) SendAndWait(ctx context.Context, prompt string) (string, error) {
	t, err := s.start(ctx, prompt)
	if err != nil {
		return "", err
	}

	for {
		select {
		case ev, ok := <-s.events:
			if !ok {
				return "", ErrSessionClosed
			}
			if ev.TurnID != t.id {
				continue
			}
			switch ev.Type {
			case EventSessionIdle:
				return ev.Data.Content, nil
			case EventSessionError:
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				return "", t.err
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Abort cancels the running turn, if any. The session stays usable.
func (s *Session) Abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	s.logger.Info().Str("turn", s.current.id).Msg("Aborting turn")
	s.current.cancel()
	return true
}

// Destroy cancels any running turn, stops MCP servers and closes the event
// channel. A second call returns ErrSessionClosed.
func (s *Session) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.closed = true
	current := s.current
	s.mu.Unlock()

	if current != nil {
		current.cancel()
	}
	close(s.closing)
	s.inflight.Wait()

	if s.queue != nil {
		s.queue.RemoveLane(s.lane())
	}
	s.stopMCP()
	close(s.events)
	s.client.forget(s.id)

	s.logger.Info().Int("turns", s.Turns()).Msg("Session destroyed")
	return nil
}

func (s *Session) stopMCP() {
	for _, c := range s.mcpClients {
		if err := c.Stop(); err != nil {
			s.logger.Warn().Err(err).Str("server", c.ServerID()).Msg("Failed to stop MCP server")
		}
	}
	s.mcpClients = nil
}

func (s *Session) start(ctx context.Context, prompt string) (*turn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", ErrInvalidArgument)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.current != nil {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}
	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{
		id:     uuid.NewString(),
		cancel: cancel,
	}
	s.current = t
	s.turns++
	s.inflight.Add(1)
	s.mu.Unlock()

	go s.run(turnCtx, t, prompt)
	return t, nil
}

func (s *Session) run(ctx context.Context, t *turn, prompt string) {
	defer s.inflight.Done()
	defer t.cancel()

	var content string
	value, err := s.queue.EnqueueWithContext(ctx, s.lane(), func(taskCtx context.Context) (interface{}, error) {
		return s.runTurn(taskCtx, t.id, prompt)
	}, &commandqueue.TaskOptions{WarnAfter: turnWarnAfter})
	if err == nil {
		content, _ = value.(string)
	}

	t.err = err
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("turn", t.id).Msg("Turn failed")
		s.emit(ctx, newEvent(EventSessionError, s, t.id, EventData{Error: err.Error()}))
		return
	}
	s.emit(ctx, newEvent(EventSessionIdle, s, t.id, EventData{Content: content}))
}

// emit publishes ev to the sink and then to the event channel, blocking
// while the channel is full unless the turn is cancelled or the session is
// being destroyed. Events are only sent from turn goroutines, which Destroy
// waits for before closing the channel.
func (s *Session) emit(ctx context.Context, ev Event) {
	if sink := s.client.cfg.Sink; sink != nil {
		sink.Publish(ev)
	}
	if ctx.Err() != nil {
		return
	}
	select {
	case <-s.closing:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
	case <-s.closing:
	}
}

func (s *Session) record(ctx context.Context, msg session.Message) {
	transcripts := s.client.cfg.Transcripts
	if transcripts == nil {
		return
	}
	if err := transcripts.Append(ctx, s.id, msg); err != nil {
		s.logger.Warn().Err(err).Str("role", msg.Role).Msg("Failed to record transcript")
	}
}
