package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestManager_AppendAndLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("should round trip messages in order", func(t *testing.T) {
		m := setupTestManager(t)

		require.NoError(t, m.Append(ctx, "supervisor", Message{Role: RoleUser, Content: "plan the blog"}))
		require.NoError(t, m.Append(ctx, "supervisor", Message{
			Role:     RoleTool,
			Content:  `{"task_id":"task-1"}`,
			Metadata: map[string]interface{}{"tool": "create_task"},
		}))
		require.NoError(t, m.Append(ctx, "supervisor", Message{Role: RoleAssistant, Content: "done"}))

		entries, err := m.Load(ctx, "supervisor")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, RoleUser, entries[0].Message.Role)
		assert.Equal(t, "create_task", entries[1].Message.Metadata["tool"])
		assert.Equal(t, "done", entries[2].Message.Content)
		assert.False(t, entries[0].Message.Timestamp.IsZero())
	})

	t.Run("should reject unsafe keys", func(t *testing.T) {
		m := setupTestManager(t)
		for _, key := range []string{"", "../x", "a/b", "a\\b", "a\x00b"} {
			assert.Error(t, m.Append(ctx, key, Message{Role: RoleUser, Content: "x"}), key)
		}
	})

	t.Run("should report missing transcripts", func(t *testing.T) {
		m := setupTestManager(t)
		_, err := m.Load(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should serialize concurrent appends", func(t *testing.T) {
		m := setupTestManager(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, m.Append(ctx, "worker", Message{Role: RoleAssistant, Content: "line"}))
			}()
		}
		wg.Wait()

		entries, err := m.Load(ctx, "worker")
		require.NoError(t, err)
		assert.Len(t, entries, 20)
	})
}

func TestManager_Repair(t *testing.T) {
	ctx := context.Background()
	m := setupTestManager(t)

	require.NoError(t, m.Append(ctx, "tester", Message{Role: RoleUser, Content: "run tests"}))
	f, err := os.OpenFile(filepath.Join(m.Dir(), "tester.jsonl"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, m.Append(ctx, "tester", Message{Role: RoleAssistant, Content: "passed"}))

	entries, err := m.Load(ctx, "tester")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, m.Repair(ctx, "tester"))
	data, err := os.ReadFile(filepath.Join(m.Dir(), "tester.jsonl"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "{not json")
}

func TestManager_ListInfoDelete(t *testing.T) {
	ctx := context.Background()
	m := setupTestManager(t)

	require.NoError(t, m.Append(ctx, "a", Message{Role: RoleUser, Content: "1"}))
	require.NoError(t, m.Append(ctx, "b", Message{Role: RoleUser, Content: "1"}))
	require.NoError(t, m.Append(ctx, "b", Message{Role: RoleUser, Content: "2"}))

	infos, err := m.List()
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	info, err := m.Info(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, info.MessageCount)
	assert.Greater(t, info.Size, int64(0))

	require.NoError(t, m.Delete("a"))
	require.NoError(t, m.Delete("a"))
	infos, err = m.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "b", infos[0].SessionKey)
}
