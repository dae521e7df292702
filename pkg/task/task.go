package task

import "time"

// Type is the kind of work a task represents
type Type string

const (
	TypeFrontend Type = "frontend"
	TypeBackend  Type = "backend"
	TypeStyling  Type = "styling"
	TypeTest     Type = "test"
)

// Types lists every task type in declaration order
var Types = []Type{TypeFrontend, TypeBackend, TypeStyling, TypeTest}

// Valid reports whether t is one of the known task types
func (t Type) Valid() bool {
	switch t {
	case TypeFrontend, TypeBackend, TypeStyling, TypeTest:
		return true
	}
	return false
}

// Status represents the lifecycle state of a task
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal returns true if the status is terminal
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a unit of work shared between agents
type Task struct {
	ID          string     `json:"id"`
	Type        Type       `json:"type"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	Result      string     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (t *Task) clone() *Task {
	c := *t
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

// Summary is the short form of a task returned in status listings
type Summary struct {
	ID       string `json:"id"`
	Type     Type   `json:"type"`
	Status   Status `json:"status"`
	Assignee string `json:"assignee,omitempty"`
}

// StatusReport holds task counts plus the most recent tasks
type StatusReport struct {
	Pending    int       `json:"pending"`
	InProgress int       `json:"in_progress"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
	Recent     []Summary `json:"recent"`
}

// Transition describes a single task state change
type Transition struct {
	Task *Task  `json:"task"`
	From Status `json:"from,omitempty"`
	To   Status `json:"to"`
}
