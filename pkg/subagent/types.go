package subagent

import "time"

// RunParams describes an agent turn about to run
type RunParams struct {
	AgentID   string                 `json:"agent_id"`
	SessionID string                 `json:"session_id"`
	Prompt    string                 `json:"prompt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// RunRecord is one agent turn
type RunRecord struct {
	ID          string                 `json:"id"`
	CycleID     string                 `json:"cycle_id,omitempty"`
	AgentID     string                 `json:"agent_id"`
	SessionID   string                 `json:"session_id"`
	Prompt      string                 `json:"prompt"`
	Status      RunStatus              `json:"status"`
	StartedAt   int64                  `json:"started_at"`
	CompletedAt *int64                 `json:"completed_at,omitempty"`
	Result      string                 `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Duration returns the run time of a finished run, or zero
func (r *RunRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return time.Duration(*r.CompletedAt-r.StartedAt) * time.Millisecond
}

// RunStatus represents the execution state of a run
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusAborted   RunStatus = "aborted"
)

// IsTerminal returns true if the status is terminal
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Registry represents the persistent storage format
type Registry struct {
	Version     int          `json:"version"`
	Runs        []*RunRecord `json:"runs"`
	LastUpdated int64        `json:"last_updated"`
}

// Stats contains run counts
type Stats struct {
	TotalRuns     int `json:"total_runs"`
	ActiveRuns    int `json:"active_runs"`
	CompletedRuns int `json:"completed_runs"`
	FailedRuns    int `json:"failed_runs"`
	AbortedRuns   int `json:"aborted_runs"`
}

// AgentStats summarizes the runs of one agent
type AgentStats struct {
	Stats
	TotalDuration time.Duration `json:"total_duration"`
}

// EventHandler is a function that handles tracker events
type EventHandler func(record RunRecord)

// Event names
const (
	EventRunRegistered = "run:registered"
	EventRunUpdated    = "run:updated"
)
