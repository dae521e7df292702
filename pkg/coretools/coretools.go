// Package coretools provides the tools agents call: the task factory tools
// bound to one task store, workspace read tools and the blog example tools.
package coretools

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/agentfactory/pkg/task"
	"github.com/harun/agentfactory/pkg/toolexecutor"
)

// Factory tool names
const (
	ToolCreateTask    = "create_task"
	ToolClaimTask     = "claim_task"
	ToolCompleteTask  = "complete_task"
	ToolGetTaskStatus = "get_task_status"
	ToolWriteCode     = "write_code"
	ToolRunTests      = "run_tests"
)

// FactoryToolNames lists the factory tools in registration order
var FactoryToolNames = []string{
	ToolCreateTask,
	ToolClaimTask,
	ToolCompleteTask,
	ToolGetTaskStatus,
	ToolWriteCode,
	ToolRunTests,
}

// Options configures the factory tools.
type Options struct {
	// WorkspaceRoot, when set, receives the files passed to write_code.
	WorkspaceRoot string
	// Rand drives run_tests. Defaults to a time-seeded source.
	Rand   *rand.Rand
	Logger zerolog.Logger
}

// Artifact is a file reported through write_code
type Artifact struct {
	Path        string    `json:"path"`
	Description string    `json:"description"`
	Bytes       int       `json:"bytes"`
	Author      string    `json:"author,omitempty"`
	Written     bool      `json:"written"`
	At          time.Time `json:"at"`
}

// Toolset holds the factory tools and the state they share
type Toolset struct {
	store  *task.Store
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	rnd       *rand.Rand
	artifacts []Artifact
}

// New creates a toolset bound to store
func New(store *task.Store, opts Options) *Toolset {
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Toolset{
		store:  store,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "coretools").Logger(),
		rnd:    rnd,
	}
}

// Store returns the task store the tools operate on
func (ts *Toolset) Store() *task.Store {
	return ts.store
}

// Definitions returns the six factory tools
func (ts *Toolset) Definitions() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		ts.createTaskTool(),
		ts.claimTaskTool(),
		ts.completeTaskTool(),
		ts.getTaskStatusTool(),
		ts.writeCodeTool(),
		ts.runTestsTool(),
	}
}

// Artifacts returns the artifacts recorded so far, in write order
func (ts *Toolset) Artifacts() []Artifact {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]Artifact, len(ts.artifacts))
	copy(out, ts.artifacts)
	return out
}

// Register registers every factory tool with executor.
func (ts *Toolset) Register(executor *toolexecutor.ToolExecutor) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	for _, tool := range ts.Definitions() {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

// toolError maps store sentinels onto tool result codes
func toolError(err error) error {
	switch {
	case errors.Is(err, task.ErrInvalidArgument):
		return toolexecutor.NewToolError(toolexecutor.CodeInvalidArgument, err.Error())
	case errors.Is(err, task.ErrNotFound):
		return toolexecutor.NewToolError(toolexecutor.CodeNotFound, err.Error())
	case errors.Is(err, task.ErrInvalidTransition):
		return toolexecutor.NewToolError(toolexecutor.CodeInvalidTransition, err.Error())
	}
	return err
}

func actorFromContext(execCtx *toolexecutor.ExecutionContext) string {
	if execCtx == nil {
		return ""
	}
	return execCtx.AgentID
}

// numberParam reads a numeric argument decoded from JSON or passed from Go
func numberParam(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
