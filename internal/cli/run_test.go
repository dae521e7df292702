package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agentfactory/pkg/agent"
)

func TestRunCommand(t *testing.T) {
	t.Run("should run an offline cycle and archive its tasks", func(t *testing.T) {
		cfgPath, dataDir := isolate(t)

		out, _, err := execute(t, "run", "--config", cfgPath, "--provider", "scripted", "--log-level", "error",
			"Build a landing page with a signup form")
		require.NoError(t, err)

		assert.Contains(t, out, "4 total, 4 completed")
		assert.FileExists(t, filepath.Join(dataDir, "history.db"))

		hist, _, err := execute(t, "history", "--config", cfgPath, "--json")
		require.NoError(t, err)

		var rows []struct {
			RunID  string `json:"run_id"`
			ID     string `json:"id"`
			Type   string `json:"type"`
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal([]byte(hist), &rows))
		require.Len(t, rows, 4)
		types := map[string]bool{}
		for _, row := range rows {
			assert.Equal(t, rows[0].RunID, row.RunID)
			assert.Equal(t, "completed", row.Status)
			types[row.Type] = true
		}
		assert.Len(t, types, 4)
	})

	t.Run("should print the report as JSON and write files to the workspace", func(t *testing.T) {
		cfgPath, _ := isolate(t)
		workspace := t.TempDir()

		out, _, err := execute(t, "run", "--config", cfgPath, "--provider", "scripted", "--log-level", "error",
			"--json", "--no-archive", "--workspace", workspace, "--max-iterations", "2", "Add a pricing table")
		require.NoError(t, err)

		var report struct {
			CycleID       string `json:"cycle_id"`
			Requirement   string `json:"requirement"`
			MaxIterations int    `json:"max_iterations"`
			Total         int    `json:"total"`
			Completed     int    `json:"completed"`
			Artifacts     []struct {
				Path string `json:"path"`
			} `json:"artifacts"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.NotEmpty(t, report.CycleID)
		assert.Equal(t, "Add a pricing table", report.Requirement)
		assert.Equal(t, 2, report.MaxIterations)
		assert.Equal(t, 4, report.Total)
		assert.Equal(t, 4, report.Completed)
		require.NotEmpty(t, report.Artifacts)

		entries, err := os.ReadDir(workspace)
		require.NoError(t, err)
		assert.NotEmpty(t, entries)
	})

	t.Run("should explain how to configure a missing provider key", func(t *testing.T) {
		cfgPath, _ := isolate(t)

		_, errOut, err := execute(t, "run", "--config", cfgPath, "--log-level", "error", "Build something")
		require.Error(t, err)
		assert.ErrorIs(t, err, agent.ErrMissingDependency)
		assert.Contains(t, errOut, "OPENAI_API_KEY")
		assert.Contains(t, errOut, "--provider scripted")
	})

	t.Run("should reject an unknown provider", func(t *testing.T) {
		cfgPath, _ := isolate(t)

		_, _, err := execute(t, "run", "--config", cfgPath, "--provider", "mystery", "Build something")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("should require a requirement", func(t *testing.T) {
		_, _, err := execute(t, "run")
		assert.Error(t, err)
	})
}

func TestHistoryCommand(t *testing.T) {
	t.Run("should report an empty history", func(t *testing.T) {
		cfgPath, _ := isolate(t)

		out, _, err := execute(t, "history", "--config", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, "No archived tasks.")
	})

	t.Run("should filter by run", func(t *testing.T) {
		cfgPath, _ := isolate(t)

		_, _, err := execute(t, "run", "--config", cfgPath, "--provider", "scripted", "--log-level", "error", "First")
		require.NoError(t, err)

		out, _, err := execute(t, "history", "--config", cfgPath, "--run", "no-such-run")
		require.NoError(t, err)
		assert.Contains(t, out, "No archived tasks.")

		out, _, err = execute(t, "history", "--config", cfgPath, "--limit", "2")
		require.NoError(t, err)
		assert.Contains(t, out, "RUN")
		assert.Contains(t, out, "completed")
	})
}
