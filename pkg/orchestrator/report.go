package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/harun/agentfactory/internal/tracing"
	"github.com/harun/agentfactory/pkg/agent"
	"github.com/harun/agentfactory/pkg/coretools"
	"github.com/harun/agentfactory/pkg/subagent"
	"github.com/harun/agentfactory/pkg/task"
)

// AgentReport summarizes one agent's calls during a cycle
type AgentReport struct {
	ID          string              `json:"id"`
	Role        Role                `json:"role"`
	DisplayName string              `json:"display_name"`
	Runs        subagent.AgentStats `json:"runs"`
	Usage       agent.TokenUsage    `json:"usage"`
}

// Report is the outcome of a development cycle
type Report struct {
	CycleID       string               `json:"cycle_id"`
	Requirement   string               `json:"requirement"`
	Iterations    int                  `json:"iterations"`
	MaxIterations int                  `json:"max_iterations"`
	Completed     int                  `json:"completed"`
	Pending       int                  `json:"pending"`
	InProgress    int                  `json:"in_progress"`
	Failed        int                  `json:"failed"`
	Total         int                  `json:"total"`
	Tasks         []*task.Task         `json:"tasks"`
	Artifacts     []coretools.Artifact `json:"artifacts"`
	Agents        []AgentReport        `json:"agents"`
	TestSummary   string               `json:"test_summary,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	Duration      time.Duration        `json:"duration"`
}

func (c *Coordinator) buildReport(ctx context.Context, requirement, testSummary string) *Report {
	status := c.store.Status()

	c.mu.Lock()
	iterations := c.iterations
	sessions := make(map[string]Session, len(c.sessions))
	for id, s := range c.sessions {
		sessions[id] = s
	}
	c.mu.Unlock()

	stats := c.tracker.StatsByAgent()
	agents := make([]AgentReport, 0, len(c.cfg.Agents))
	for _, spec := range c.cfg.Agents {
		ar := AgentReport{
			ID:          spec.ID,
			Role:        spec.Role,
			DisplayName: spec.DisplayName,
			Runs:        stats[spec.ID],
		}
		if s, ok := sessions[spec.ID]; ok {
			ar.Usage = s.Usage()
		}
		agents = append(agents, ar)
	}

	return &Report{
		CycleID:       tracing.GetRunID(ctx),
		Requirement:   requirement,
		Iterations:    iterations,
		MaxIterations: c.cfg.MaxIterations,
		Completed:     status.Completed,
		Pending:       status.Pending,
		InProgress:    status.InProgress,
		Failed:        status.Failed,
		Total:         status.Total,
		Tasks:         c.store.List(),
		Artifacts:     c.toolset.Artifacts(),
		Agents:        agents,
		TestSummary:   testSummary,
	}
}

// Render writes a human readable summary of the report to w
func (r *Report) Render(w io.Writer) error {
	var b strings.Builder

	b.WriteString("Development cycle report\n")
	b.WriteString(strings.Repeat("=", 24) + "\n")
	fmt.Fprintf(&b, "Iterations: %d/%d\n", r.Iterations, r.MaxIterations)
	if r.Duration > 0 {
		fmt.Fprintf(&b, "Duration:   %s\n", r.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "Tasks:      %d total, %d completed, %d pending, %d in progress, %d failed\n",
		r.Total, r.Completed, r.Pending, r.InProgress, r.Failed)

	if len(r.Tasks) > 0 {
		b.WriteString("\nTasks\n")
		for _, t := range r.Tasks {
			fmt.Fprintf(&b, "  %-8s %-9s %-12s %s\n", t.ID, t.Type, t.Status, oneLine(t.Description, 60))
			if t.Assignee != "" {
				fmt.Fprintf(&b, "  %-8s assignee: %s\n", "", t.Assignee)
			}
		}
	}

	if len(r.Artifacts) > 0 {
		b.WriteString("\nArtifacts\n")
		arts := make([]coretools.Artifact, len(r.Artifacts))
		copy(arts, r.Artifacts)
		sort.SliceStable(arts, func(i, j int) bool { return arts[i].Path < arts[j].Path })
		for _, a := range arts {
			fmt.Fprintf(&b, "  %-40s %6d bytes  %s\n", a.Path, a.Bytes, a.Author)
		}
	}

	if len(r.Agents) > 0 {
		b.WriteString("\nAgents\n")
		for _, a := range r.Agents {
			fmt.Fprintf(&b, "  %-16s runs=%d completed=%d failed=%d time=%s tokens=%d/%d\n",
				a.ID, a.Runs.TotalRuns, a.Runs.CompletedRuns, a.Runs.FailedRuns,
				a.Runs.TotalDuration.Round(time.Millisecond), a.Usage.InputTokens, a.Usage.OutputTokens)
		}
	}

	if r.TestSummary != "" {
		b.WriteString("\nTest summary\n")
		for _, line := range strings.Split(strings.TrimSpace(r.TestSummary), "\n") {
			b.WriteString("  " + line + "\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > limit {
		return s[:limit-3] + "..."
	}
	return s
}
