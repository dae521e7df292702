package coretools

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agentfactory/pkg/task"
	"github.com/harun/agentfactory/pkg/toolexecutor"
)

func setupToolset(t *testing.T, opts Options) (*Toolset, *toolexecutor.ToolExecutor) {
	t.Helper()
	store := task.NewStore(task.StoreConfig{Logger: zerolog.Nop()})
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	opts.Logger = zerolog.Nop()
	ts := New(store, opts)
	exec := toolexecutor.New()
	require.NoError(t, ts.Register(exec))
	return ts, exec
}

func call(t *testing.T, exec *toolexecutor.ToolExecutor, name string, params map[string]interface{}) toolexecutor.ToolResult {
	t.Helper()
	return exec.Execute(context.Background(), name, params, &toolexecutor.ExecutionContext{AgentID: "worker-backend"})
}

func output(t *testing.T, result toolexecutor.ToolResult) map[string]interface{} {
	t.Helper()
	require.True(t, result.Success, result.Error)
	out, ok := result.Output.(map[string]interface{})
	require.True(t, ok)
	return out
}

func TestFactoryTools(t *testing.T) {
	t.Run("should register all six tools", func(t *testing.T) {
		_, exec := setupToolset(t, Options{})
		for _, name := range FactoryToolNames {
			assert.NotNil(t, exec.GetTool(name), name)
		}
	})

	t.Run("should run the create claim complete scenario", func(t *testing.T) {
		ts, exec := setupToolset(t, Options{})

		created := output(t, call(t, exec, ToolCreateTask, map[string]interface{}{"type": "backend", "description": "X"}))
		assert.Equal(t, "task-1", created["task_id"])

		claimed := output(t, call(t, exec, ToolClaimTask, map[string]interface{}{"worker_id": "w1", "preferred_type": "backend"}))
		claimedTask := claimed["task"].(*task.Task)
		assert.Equal(t, task.StatusInProgress, claimedTask.Status)
		assert.Equal(t, "w1", claimedTask.Assignee)

		completed := output(t, call(t, exec, ToolCompleteTask, map[string]interface{}{"task_id": "task-1", "result": "done"}))
		assert.Equal(t, true, completed["success"])

		status := call(t, exec, ToolGetTaskStatus, nil)
		require.True(t, status.Success)
		report := status.Output.(task.StatusReport)
		assert.Equal(t, 0, report.Pending)
		assert.Equal(t, 0, report.InProgress)
		assert.Equal(t, 1, report.Completed)
		assert.Len(t, ts.Store().CompletedTasks(), 1)
	})

	t.Run("should reject empty descriptions and unknown types", func(t *testing.T) {
		_, exec := setupToolset(t, Options{})

		empty := call(t, exec, ToolCreateTask, map[string]interface{}{"type": "frontend", "description": "   "})
		assert.False(t, empty.Success)
		assert.Equal(t, toolexecutor.CodeInvalidArgument, empty.Code)

		badType := call(t, exec, ToolCreateTask, map[string]interface{}{"type": "database", "description": "x"})
		assert.Equal(t, toolexecutor.CodeInvalidArgument, badType.Code)
	})

	t.Run("should return a null task when nothing matches", func(t *testing.T) {
		_, exec := setupToolset(t, Options{})

		out := output(t, call(t, exec, ToolClaimTask, map[string]interface{}{"worker_id": "w1"}))
		assert.Nil(t, out["task"])
		assert.NotEmpty(t, out["message"])
	})

	t.Run("should report typed failures from complete_task", func(t *testing.T) {
		_, exec := setupToolset(t, Options{})
		call(t, exec, ToolCreateTask, map[string]interface{}{"type": "styling", "description": "theme"})

		unknown := call(t, exec, ToolCompleteTask, map[string]interface{}{"task_id": "task-404", "result": "x"})
		assert.False(t, unknown.Success)
		assert.Equal(t, toolexecutor.CodeNotFound, unknown.Code)
		assert.Contains(t, unknown.Payload(), `"success":false`)

		pending := call(t, exec, ToolCompleteTask, map[string]interface{}{"task_id": "task-1", "result": "x"})
		assert.Equal(t, toolexecutor.CodeInvalidTransition, pending.Code)
	})

	t.Run("should assign each task once under concurrent claims", func(t *testing.T) {
		ts, exec := setupToolset(t, Options{})
		for i := 0; i < 30; i++ {
			call(t, exec, ToolCreateTask, map[string]interface{}{"type": "frontend", "description": "page " + strconv.Itoa(i)})
		}

		var mu sync.Mutex
		seen := map[string]string{}
		var wg sync.WaitGroup
		for w := 0; w < 6; w++ {
			wg.Add(1)
			go func(worker string) {
				defer wg.Done()
				for {
					result := exec.Execute(context.Background(), ToolClaimTask, map[string]interface{}{"worker_id": worker}, nil)
					out := result.Output.(map[string]interface{})
					claimed, _ := out["task"].(*task.Task)
					if claimed == nil {
						return
					}
					mu.Lock()
					_, dup := seen[claimed.ID]
					seen[claimed.ID] = worker
					mu.Unlock()
					assert.False(t, dup, "task %s claimed twice", claimed.ID)
				}
			}("w" + strconv.Itoa(w))
		}
		wg.Wait()

		assert.Len(t, seen, 30)
		assert.Equal(t, 30, ts.Store().Status().InProgress)
	})
}

func TestWriteCode(t *testing.T) {
	t.Run("should record artifacts without a workspace", func(t *testing.T) {
		ts, exec := setupToolset(t, Options{})

		out := output(t, call(t, exec, ToolWriteCode, map[string]interface{}{
			"file_path":   "api/users.go",
			"code":        "package api",
			"description": "users endpoint",
		}))
		assert.Equal(t, "api/users.go", out["file_path"])
		assert.Equal(t, 11, out["bytes"])

		artifacts := ts.Artifacts()
		require.Len(t, artifacts, 1)
		assert.Equal(t, "worker-backend", artifacts[0].Author)
		assert.False(t, artifacts[0].Written)
	})

	t.Run("should write inside the workspace", func(t *testing.T) {
		root := t.TempDir()
		ts, exec := setupToolset(t, Options{WorkspaceRoot: root})

		output(t, call(t, exec, ToolWriteCode, map[string]interface{}{
			"file_path":   "web/index.html",
			"code":        "<html></html>",
			"description": "landing page",
		}))

		data, err := os.ReadFile(filepath.Join(root, "web", "index.html"))
		require.NoError(t, err)
		assert.Equal(t, "<html></html>", string(data))
		assert.True(t, ts.Artifacts()[0].Written)
	})

	t.Run("should refuse paths outside the workspace", func(t *testing.T) {
		ts, exec := setupToolset(t, Options{WorkspaceRoot: t.TempDir()})

		result := call(t, exec, ToolWriteCode, map[string]interface{}{
			"file_path":   "../escape.go",
			"code":        "x",
			"description": "nope",
		})
		assert.False(t, result.Success)
		assert.Equal(t, toolexecutor.CodeInvalidArgument, result.Code)
		assert.Empty(t, ts.Artifacts())
	})

	t.Run("should not write or record after the context is done", func(t *testing.T) {
		root := t.TempDir()
		ts, exec := setupToolset(t, Options{WorkspaceRoot: root})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result := exec.Execute(ctx, ToolWriteCode, map[string]interface{}{
			"file_path":   "late.go",
			"code":        "package late",
			"description": "too late",
		}, &toolexecutor.ExecutionContext{AgentID: "worker-backend"})

		assert.False(t, result.Success)
		assert.Empty(t, ts.Artifacts())
		_, err := os.Stat(filepath.Join(root, "late.go"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestRunTests(t *testing.T) {
	t.Run("should be deterministic for a seeded source", func(t *testing.T) {
		_, first := setupToolset(t, Options{Rand: rand.New(rand.NewSource(42))})
		_, second := setupToolset(t, Options{Rand: rand.New(rand.NewSource(42))})

		a := output(t, call(t, first, ToolRunTests, map[string]interface{}{"test_type": "unit"}))
		b := output(t, call(t, second, ToolRunTests, map[string]interface{}{"test_type": "unit"}))
		assert.Equal(t, a, b)
	})

	t.Run("should report coverage between 70 and 100 percent", func(t *testing.T) {
		_, exec := setupToolset(t, Options{})
		for i := 0; i < 50; i++ {
			out := output(t, call(t, exec, ToolRunTests, map[string]interface{}{"test_type": "e2e", "target_file": "app.go"}))
			coverage := out["coverage"].(string)
			require.True(t, strings.HasSuffix(coverage, "%"))
			n, err := strconv.Atoi(strings.TrimSuffix(coverage, "%"))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n, 70)
			assert.LessOrEqual(t, n, 100)
			assert.Equal(t, "app.go", out["target_file"])
		}
	})

	t.Run("should reject unknown test types", func(t *testing.T) {
		_, exec := setupToolset(t, Options{})
		result := call(t, exec, ToolRunTests, map[string]interface{}{"test_type": "smoke"})
		assert.Equal(t, toolexecutor.CodeInvalidArgument, result.Code)
	})
}
