package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agentfactory/pkg/agent"
	"github.com/harun/agentfactory/pkg/coretools"
	"github.com/harun/agentfactory/pkg/subagent"
	"github.com/harun/agentfactory/pkg/task"
)

func TestReport_Render(t *testing.T) {
	report := &Report{
		Iterations:    2,
		MaxIterations: 3,
		Completed:     1,
		Pending:       1,
		Total:         2,
		Duration:      1500 * time.Millisecond,
		Tasks: []*task.Task{
			{ID: "task-1", Type: task.TypeFrontend, Status: task.StatusCompleted, Assignee: "worker-frontend", Description: "Hero   section\nwith CTA"},
			{ID: "task-2", Type: task.TypeBackend, Status: task.StatusPending, Description: "Signup API"},
		},
		Artifacts: []coretools.Artifact{
			{Path: "app/page.tsx", Bytes: 120, Author: "worker-frontend"},
		},
		Agents: []AgentReport{
			{ID: "supervisor", Role: RoleSupervisor, Runs: subagent.AgentStats{Stats: subagent.Stats{TotalRuns: 3, CompletedRuns: 3}}, Usage: agent.TokenUsage{InputTokens: 10, OutputTokens: 4}},
		},
		TestSummary: "unit: passed (coverage 90%)\ne2e: failed (coverage 71%)",
	}

	var buf bytes.Buffer
	require.NoError(t, report.Render(&buf))
	out := buf.String()

	assert.Contains(t, out, "Iterations: 2/3")
	assert.Contains(t, out, "Duration:   1.5s")
	assert.Contains(t, out, "2 total, 1 completed, 1 pending, 0 in progress, 0 failed")
	assert.Contains(t, out, "Hero section with CTA")
	assert.Contains(t, out, "assignee: worker-frontend")
	assert.Contains(t, out, "app/page.tsx")
	assert.Contains(t, out, "runs=3 completed=3 failed=0")
	assert.Contains(t, out, "tokens=10/4")
	assert.Contains(t, out, "  e2e: failed (coverage 71%)")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine(" a\n b\tc ", 20))
	assert.Equal(t, "abcdefg...", oneLine("abcdefghijklmnop", 10))
}

func TestDefaultAgents(t *testing.T) {
	agents := DefaultAgents()
	require.Len(t, agents, 5)

	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		require.NoError(t, a.Validate(), a.ID)
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{SupervisorID, WorkerFrontendID, WorkerBackendID, WorkerStylingID, TesterID}, ids)

	t.Run("should tell each worker its id and type", func(t *testing.T) {
		prompt := WorkerPrompt(WorkerStylingID, task.TypeStyling)
		assert.Contains(t, prompt, `worker_id "worker-styling"`)
		assert.Contains(t, prompt, `preferred_type "styling"`)
		assert.Contains(t, prompt, "#00FF99")
	})
}

func TestOfflineScript(t *testing.T) {
	ctx := context.Background()
	specs := DefaultAgents()
	script := OfflineScript(specs)
	system := func(id string) string {
		for _, s := range specs {
			if s.ID == id {
				return "base prompt\n\n" + s.Prompt
			}
		}
		return ""
	}

	t.Run("should create one task per worker type on assignment", func(t *testing.T) {
		resp, err := script(ctx, agent.LLMRequest{
			SystemPrompt: system(SupervisorID),
			Messages:     []agent.Message{{Role: agent.RoleUser, Content: assignPrompt("Build a blog")}},
		})
		require.NoError(t, err)
		require.Len(t, resp.ToolCalls, 3)
		for i, want := range []string{"frontend", "backend", "styling"} {
			assert.Equal(t, coretools.ToolCreateTask, resp.ToolCalls[i].Name)
			assert.Equal(t, want, resp.ToolCalls[i].Parameters["type"])
		}
	})

	t.Run("should write code for a claimed task", func(t *testing.T) {
		claimed, err := json.Marshal(map[string]interface{}{
			"success": true,
			"task":    task.Task{ID: "task-2", Type: task.TypeBackend, Description: "Signup API"},
		})
		require.NoError(t, err)

		resp, err := script(ctx, agent.LLMRequest{
			SystemPrompt: system(WorkerBackendID),
			Messages: []agent.Message{
				{Role: agent.RoleUser, Content: executePrompt},
				{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "c1", Name: coretools.ToolClaimTask}}},
				{Role: agent.RoleTool, ToolCallID: "c1", Content: string(claimed)},
			},
		})
		require.NoError(t, err)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, coretools.ToolWriteCode, resp.ToolCalls[0].Name)
		assert.Equal(t, "app/api/task-2/route.ts", resp.ToolCalls[0].Parameters["file_path"])
	})

	t.Run("should stop when nothing could be claimed", func(t *testing.T) {
		resp, err := script(ctx, agent.LLMRequest{
			SystemPrompt: system(WorkerFrontendID),
			Messages: []agent.Message{
				{Role: agent.RoleUser, Content: executePrompt},
				{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "c1", Name: coretools.ToolClaimTask}}},
				{Role: agent.RoleTool, ToolCallID: "c1", Content: `{"success":true,"task":null}`},
			},
		})
		require.NoError(t, err)
		assert.Empty(t, resp.ToolCalls)
		assert.Equal(t, "No frontend task available.", resp.Content)
	})

	t.Run("should acknowledge unknown agents", func(t *testing.T) {
		resp, err := script(ctx, agent.LLMRequest{
			SystemPrompt: "someone else",
			Messages:     []agent.Message{{Role: agent.RoleUser, Content: "hi"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Acknowledged.", resp.Content)
	})
}
