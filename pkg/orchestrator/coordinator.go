package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/agentfactory/internal/observability"
	"github.com/harun/agentfactory/internal/tracing"
	"github.com/harun/agentfactory/pkg/agent"
	"github.com/harun/agentfactory/pkg/coretools"
	"github.com/harun/agentfactory/pkg/subagent"
	"github.com/harun/agentfactory/pkg/task"
	"github.com/harun/agentfactory/pkg/toolexecutor"
)

// DefaultMaxIterations bounds the execute and check loop, counting the
// first execution
const DefaultMaxIterations = 3

const tracerName = "orchestrator"

// Config holds coordinator configuration
type Config struct {
	Client Client
	// Toolset supplies the factory tools and the task store they share.
	// Defaults to a toolset over a new store.
	Toolset *coretools.Toolset
	// Tracker records every agent call. Defaults to an in-memory tracker.
	Tracker *subagent.Tracker
	// Agents defaults to DefaultAgents.
	Agents []AgentSpec
	Model  string
	// MaxIterations caps the execution passes. A further pass runs only
	// while tasks of a worker type are pending; pending test tasks wait
	// for the tester and never trigger a pass.
	MaxIterations int
	// AgentTimeout bounds each agent call. Zero means no timeout.
	AgentTimeout time.Duration
	Logger       zerolog.Logger
}

// Coordinator runs the development cycle over a fixed set of agent sessions
// sharing one task store
type Coordinator struct {
	cfg      Config
	store    *task.Store
	toolset  *coretools.Toolset
	tracker  *subagent.Tracker
	parallel *ParallelExecutor
	logger   zerolog.Logger

	supervisor AgentSpec
	tester     AgentSpec
	workers    []AgentSpec

	mu          sync.Mutex
	initialized bool
	shutdown    bool
	sessions    map[string]Session
	order       []string
	state       State
	iterations  int
}

// New validates cfg and creates a coordinator. Sessions are created by
// Initialize.
func New(cfg Config) (*Coordinator, error) {
	observability.EnsureRegistered()

	if cfg.Client == nil {
		return nil, fmt.Errorf("%w: agent client is required", agent.ErrMissingDependency)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.AgentTimeout < 0 {
		return nil, fmt.Errorf("%w: agent timeout cannot be negative", task.ErrInvalidArgument)
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultAgents()
	}
	if cfg.Toolset == nil {
		cfg.Toolset = coretools.New(task.NewStore(task.StoreConfig{Logger: cfg.Logger}), coretools.Options{Logger: cfg.Logger})
	}
	if cfg.Tracker == nil {
		cfg.Tracker = subagent.New(subagent.Config{Logger: cfg.Logger})
	}

	c := &Coordinator{
		cfg:      cfg,
		store:    cfg.Toolset.Store(),
		toolset:  cfg.Toolset,
		tracker:  cfg.Tracker,
		logger:   cfg.Logger.With().Str("component", "orchestrator").Logger(),
		sessions: make(map[string]Session),
	}
	c.parallel = NewParallelExecutor(c.runWorker, c.logger)

	if err := c.assignRoles(cfg.Agents); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) assignRoles(specs []AgentSpec) error {
	seen := make(map[string]bool, len(specs))
	var supervisors, testers int
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("%w: %v", task.ErrInvalidArgument, err)
		}
		if seen[spec.ID] {
			return fmt.Errorf("%w: duplicate agent id %s", task.ErrInvalidArgument, spec.ID)
		}
		seen[spec.ID] = true

		switch spec.Role {
		case RoleSupervisor:
			c.supervisor = spec
			supervisors++
		case RoleTester:
			c.tester = spec
			testers++
		case RoleWorker:
			c.workers = append(c.workers, spec)
		}
	}
	if supervisors != 1 || testers != 1 || len(c.workers) == 0 {
		return fmt.Errorf("%w: need one supervisor, one tester and at least one worker", task.ErrInvalidArgument)
	}
	return nil
}

// Store returns the task store shared by every agent
func (c *Coordinator) Store() *task.Store {
	return c.store
}

// Tracker returns the run tracker
func (c *Coordinator) Tracker() *subagent.Tracker {
	return c.tracker
}

// State returns the current cycle state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(ctx context.Context, state State, status string) {
	c.mu.Lock()
	c.state = state
	iteration := c.iterations
	c.mu.Unlock()

	observability.RecordCycleAudit(ctx, string(state), status, map[string]interface{}{
		"iteration": iteration,
	})
}

// Initialize starts the client and creates one session per agent. On
// failure the sessions created so far stay registered for Shutdown.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return ErrShutdown
	}
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.state = StateInitializing
	c.mu.Unlock()

	if err := c.cfg.Client.Start(ctx); err != nil {
		return &StateError{State: StateInitializing, Err: err}
	}

	tools := c.toolset.Definitions()
	for _, spec := range c.cfg.Agents {
		sess, err := c.cfg.Client.CreateSession(ctx, agent.SessionOptions{
			Name:       spec.ID,
			Model:      c.cfg.Model,
			Streaming:  true,
			Tools:      tools,
			ToolPolicy: toolexecutor.AllowOnly(spec.Tools...),
			SystemMessage: &agent.SystemMessageConfig{
				Mode:    agent.SystemMessageAppend,
				Content: spec.Prompt,
			},
		})
		if err != nil {
			c.logger.Error().Err(err).Str("agent", spec.ID).Msg("Failed to create agent session")
			return &StateError{State: StateInitializing, Agent: spec.ID, Err: err}
		}

		c.mu.Lock()
		c.sessions[spec.ID] = sess
		c.order = append(c.order, spec.ID)
		c.mu.Unlock()

		c.logger.Info().Str("agent", spec.ID).Str("session", sess.ID()).Msg("Agent session created")
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	return nil
}

// Run drives one development cycle for requirement and returns its report.
// An agent failure aborts the cycle with a *StateError.
func (c *Coordinator) Run(ctx context.Context, requirement string) (*Report, error) {
	if strings.TrimSpace(requirement) == "" {
		return nil, fmt.Errorf("%w: requirement cannot be empty", task.ErrInvalidArgument)
	}
	c.mu.Lock()
	switch {
	case c.shutdown:
		c.mu.Unlock()
		return nil, ErrShutdown
	case !c.initialized:
		c.mu.Unlock()
		return nil, ErrNotInitialized
	}
	c.iterations = 0
	c.mu.Unlock()

	ctx = tracing.NewCycleContext(ctx)
	ctx, span := tracing.StartSpan(ctx, tracerName, "factory.cycle",
		attribute.Int("max_iterations", c.cfg.MaxIterations),
		attribute.Int("agents", len(c.cfg.Agents)),
	)
	logger := tracing.LoggerFromContext(ctx, c.logger)
	start := time.Now()

	report, err := c.cycle(ctx, logger, requirement)

	observability.RecordCycle(time.Since(start), err == nil)
	tracing.EndSpan(span, err)
	if err != nil {
		var stateErr *StateError
		if errors.As(err, &stateErr) {
			c.setState(ctx, stateErr.State, "failure")
		}
		logger.Error().Err(err).Msg("Development cycle failed")
		return nil, err
	}

	report.StartedAt = start
	report.Duration = time.Since(start)
	logger.Info().
		Int("iterations", report.Iterations).
		Int("completed", report.Completed).
		Int("pending", report.Pending).
		Dur("duration", report.Duration).
		Msg("Development cycle finished")
	return report, nil
}

func (c *Coordinator) cycle(ctx context.Context, logger zerolog.Logger, requirement string) (*Report, error) {
	c.setState(ctx, StateAssigning, "started")
	logger.Info().Str("agent", c.supervisor.ID).Msg("Assigning requirement")
	if _, err := c.ask(ctx, StateAssigning, c.supervisor.ID, assignPrompt(requirement)); err != nil {
		return nil, err
	}

	for {
		c.mu.Lock()
		c.iterations++
		iteration := c.iterations
		c.mu.Unlock()
		observability.RecordCycleIteration()

		c.setState(ctx, StateExecuting, "started")
		logger.Info().Int("iteration", iteration).Int("workers", len(c.workers)).Msg("Executing worker tasks")
		if err := c.executeWorkers(ctx); err != nil {
			return nil, err
		}

		c.setState(ctx, StateCheckingPending, "started")
		if _, err := c.ask(ctx, StateCheckingPending, c.supervisor.ID, checkPrompt); err != nil {
			return nil, err
		}

		pending := c.workerPending()
		logger.Info().Int("iteration", iteration).Int("pending", pending).Msg("Checked pending tasks")
		if pending == 0 {
			break
		}
		if iteration >= c.cfg.MaxIterations {
			logger.Warn().Int("pending", pending).Msg("Iteration limit reached with pending tasks")
			break
		}
	}

	c.setState(ctx, StateTesting, "started")
	logger.Info().Str("agent", c.tester.ID).Msg("Running tests")
	testSummary, err := c.ask(ctx, StateTesting, c.tester.ID, testPrompt)
	if err != nil {
		return nil, err
	}

	c.setState(ctx, StateReporting, "started")
	report := c.buildReport(ctx, requirement, testSummary)

	c.setState(ctx, StateDone, "success")
	return report, nil
}

// workerPending counts pending tasks some worker can claim. Test tasks
// wait for the testing state.
func (c *Coordinator) workerPending() int {
	types := make(map[task.Type]bool, len(c.workers))
	for _, w := range c.workers {
		types[w.TaskType] = true
	}
	n := 0
	for _, t := range c.store.List() {
		if t.Status == task.StatusPending && types[t.Type] {
			n++
		}
	}
	return n
}

func (c *Coordinator) executeWorkers(ctx context.Context) error {
	tasks := make([]AgentTask, 0, len(c.workers))
	for _, w := range c.workers {
		tasks = append(tasks, AgentTask{AgentID: w.ID, Prompt: executePrompt})
	}
	_, err := c.parallel.Execute(ctx, ParallelRequest{Tasks: tasks, OnFail: OnFailAbort})
	return err
}

func (c *Coordinator) runWorker(ctx context.Context, t AgentTask) (AgentResult, error) {
	start := time.Now()
	out, err := c.ask(ctx, StateExecuting, t.AgentID, t.Prompt)
	if err != nil {
		failed := c.store.FailAssigned(t.AgentID, err.Error())
		if len(failed) > 0 {
			c.logger.Warn().Str("agent", t.AgentID).Int("tasks", len(failed)).Msg("Marked claimed tasks failed")
		}
	}
	return AgentResult{AgentID: t.AgentID, Output: out, Duration: time.Since(start)}, err
}

// ask sends prompt to one agent and waits for its answer, bounded by the
// agent timeout
func (c *Coordinator) ask(ctx context.Context, state State, agentID, prompt string) (string, error) {
	c.mu.Lock()
	sess, ok := c.sessions[agentID]
	c.mu.Unlock()
	if !ok {
		return "", &StateError{State: state, Agent: agentID, Err: fmt.Errorf("no session for agent")}
	}

	ctx = tracing.ForAgent(ctx, agentID, sess.ID())
	ctx, span := tracing.StartSpan(ctx, tracerName, "factory."+string(state),
		attribute.String("agent", agentID),
	)
	logger := tracing.LoggerFromContext(ctx, c.logger)

	runID, err := c.tracker.Register(subagent.RunParams{
		AgentID:   agentID,
		SessionID: sess.ID(),
		Prompt:    prompt,
		Metadata: map[string]interface{}{
			"state":  string(state),
			"run_id": tracing.GetRunID(ctx),
		},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to register agent run")
	}
	if runID != "" {
		_ = c.tracker.Start(runID)
	}

	callCtx := ctx
	if c.cfg.AgentTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.AgentTimeout)
		defer cancel()
	}

	out, err := sess.SendAndWait(callCtx, prompt)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		sess.Abort()
		err = fmt.Errorf("%w: no answer within %s", agent.ErrAgentTimeout, c.cfg.AgentTimeout)
	}

	if runID != "" {
		_ = c.tracker.Finish(runID, out, err)
	}
	tracing.EndSpan(span, err)

	if err != nil {
		logger.Error().Err(err).Str("state", string(state)).Msg("Agent call failed")
		return "", &StateError{State: state, Agent: agentID, Err: err}
	}
	logger.Debug().Str("state", string(state)).Int("chars", len(out)).Msg("Agent answered")
	return out, nil
}

// Shutdown destroys every session exactly once and stops the client. It is
// safe after a failed Initialize and on repeated calls.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	order := c.order
	sessions := c.sessions
	c.order = nil
	c.sessions = make(map[string]Session)
	c.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if err := sessions[id].Destroy(ctx); err != nil && !errors.Is(err, agent.ErrSessionClosed) {
			c.logger.Warn().Err(err).Str("agent", id).Msg("Failed to destroy session")
			errs = append(errs, fmt.Errorf("destroy %s: %w", id, err))
		}
	}
	if err := c.cfg.Client.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop client: %w", err))
	}
	if err := c.tracker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tracker: %w", err))
	}

	c.logger.Info().Int("sessions", len(order)).Msg("Coordinator shut down")
	return errors.Join(errs...)
}
