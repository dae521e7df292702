package cli

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExampleCommand(t *testing.T) {
	t.Run("should run the basic example offline", func(t *testing.T) {
		cfgPath, _ := isolate(t)

		out, _, err := execute(t, "example", "basic", "--config", cfgPath, "--provider", "scripted", "--log-level", "error")
		require.NoError(t, err)

		assert.Contains(t, out, "== Example 1: basic conversation ==")
		assert.Contains(t, out, "AI: Acknowledged: Describe the cyberpunk style in one sentence.")
	})

	t.Run("should run every offline example by default", func(t *testing.T) {
		cfgPath, _ := isolate(t)

		out, _, err := execute(t, "example", "--config", cfgPath, "--provider", "scripted", "--log-level", "error")
		require.NoError(t, err)

		assert.Equal(t, 4, strings.Count(out, "Acknowledged"))
		assert.NotContains(t, out, "Example 4")
	})

	t.Run("should reject an unknown example", func(t *testing.T) {
		cfgPath, _ := isolate(t)

		_, _, err := execute(t, "example", "nope", "--config", cfgPath, "--provider", "scripted", "--log-level", "error")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown example")
	})
}

func TestToolsCommand(t *testing.T) {
	out, _, err := execute(t, "tools")
	require.NoError(t, err)

	for _, name := range []string{
		"create_task", "claim_task", "complete_task", "get_task_status", "write_code", "run_tests",
		"generate_blog_outline", "fetch_blog_categories", "read_file", "search_code",
	} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "Factory tools:")
	assert.Contains(t, out, "Example tools:")
	assert.Contains(t, out, "test_type")
}

func TestConfigCommand(t *testing.T) {
	t.Run("should write defaults once", func(t *testing.T) {
		cfgPath, _ := isolate(t)

		out, _, err := execute(t, "config", "init", "--config", cfgPath)
		require.NoError(t, err)
		assert.Contains(t, out, cfgPath)
		assert.FileExists(t, cfgPath)

		info, err := os.Stat(cfgPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		_, _, err = execute(t, "config", "init", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")

		_, _, err = execute(t, "config", "init", "--config", cfgPath, "--force")
		require.NoError(t, err)
	})

	t.Run("should show the config with secrets masked", func(t *testing.T) {
		cfgPath, _ := isolate(t)
		t.Setenv("OPENAI_API_KEY", "sk-test-1234567890abcdef")

		out, _, err := execute(t, "config", "show", "--config", cfgPath)
		require.NoError(t, err)

		assert.Contains(t, out, `"provider": "openai"`)
		assert.Contains(t, out, "sk-t****cdef")
		assert.NotContains(t, out, "sk-test-1234567890abcdef")
	})

	t.Run("should validate a complete config", func(t *testing.T) {
		cfgPath, _ := isolate(t)

		out, _, err := execute(t, "config", "validate", "--config", cfgPath, "--provider", "scripted")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid.")
	})

	t.Run("should list every problem", func(t *testing.T) {
		cfgPath, _ := isolate(t)
		t.Setenv("FACTORY_FACTORY_MAX_ITERATIONS", "0")

		_, errOut, err := execute(t, "config", "validate", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, errOut, "API key cannot be empty")
		assert.Contains(t, errOut, "max_iterations")
	})
}
