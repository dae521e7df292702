package orchestrator

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/harun/agentfactory/pkg/coretools"
	"github.com/harun/agentfactory/pkg/task"
)

// Role defines the part an agent plays in the development cycle
type Role string

const (
	RoleSupervisor Role = "supervisor"
	RoleWorker     Role = "worker"
	RoleTester     Role = "tester"
)

// AgentSpec describes one agent session the coordinator creates
type AgentSpec struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name"`
	TaskType    task.Type `json:"task_type,omitempty"`
	// Prompt is appended to the client's base system prompt.
	Prompt string `json:"prompt"`
	// Tools restricts the factory tools the agent may call. Empty allows
	// all of them.
	Tools []string `json:"tools,omitempty"`
}

// Validate checks that the agent definition is well formed
func (s AgentSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	switch s.Role {
	case RoleSupervisor, RoleTester:
	case RoleWorker:
		if !s.TaskType.Valid() || s.TaskType == task.TypeTest {
			return fmt.Errorf("worker %s: invalid task type %q", s.ID, s.TaskType)
		}
	default:
		return fmt.Errorf("agent %s: invalid role %q", s.ID, s.Role)
	}
	if s.Prompt == "" {
		return fmt.Errorf("agent %s: prompt is required", s.ID)
	}
	for _, name := range s.Tools {
		if !slices.Contains(coretools.FactoryToolNames, name) {
			return fmt.Errorf("agent %s: unknown tool %q", s.ID, name)
		}
	}
	return nil
}

// State is a step of the development cycle
type State string

const (
	StateInitializing    State = "initializing"
	StateAssigning       State = "assigning"
	StateExecuting       State = "executing"
	StateCheckingPending State = "checking_pending"
	StateTesting         State = "testing"
	StateReporting       State = "reporting"
	StateDone            State = "done"
)

// OnFailStrategy defines what a parallel run does when one agent fails
type OnFailStrategy string

const (
	OnFailAbort    OnFailStrategy = "abort"
	OnFailContinue OnFailStrategy = "continue"
)

// AgentTask is one prompt sent to one agent
type AgentTask struct {
	AgentID string
	Prompt  string
}

// AgentResult holds the outcome of one agent call
type AgentResult struct {
	AgentID  string        `json:"agent_id"`
	Success  bool          `json:"success"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

var (
	// ErrNotInitialized is returned by Run before Initialize succeeded
	ErrNotInitialized = errors.New("coordinator not initialized")
	// ErrShutdown is returned after Shutdown
	ErrShutdown = errors.New("coordinator shut down")
)

// StateError is an agent failure together with the cycle state it
// happened in
type StateError struct {
	State State
	Agent string
	Err   error
}

func (e *StateError) Error() string {
	if e.Agent == "" {
		return fmt.Sprintf("%s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("%s: agent %s: %v", e.State, e.Agent, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}
