package task

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchive(t *testing.T) {
	t.Run("should require a database path", func(t *testing.T) {
		_, err := OpenArchive(ArchiveConfig{})
		assert.Error(t, err)
	})

	t.Run("should record the latest state of each task", func(t *testing.T) {
		archive, err := OpenArchive(ArchiveConfig{
			DBPath: filepath.Join(t.TempDir(), "tasks.db"),
			Logger: zerolog.Nop(),
		})
		require.NoError(t, err)
		defer archive.Close()

		store := setupTestStore(t)
		archive.Attach(store, "run-1")

		_, err = store.Create(TypeBackend, "X")
		require.NoError(t, err)
		_, err = store.Create(TypeFrontend, "Y")
		require.NoError(t, err)
		_, err = store.Claim("w1", TypeBackend)
		require.NoError(t, err)
		_, err = store.Complete("task-1", "done")
		require.NoError(t, err)

		rows, err := archive.List(context.Background(), "run-1", 0)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		byID := map[string]ArchivedTask{}
		for _, row := range rows {
			byID[row.ID] = row
		}
		assert.Equal(t, StatusCompleted, byID["task-1"].Status)
		assert.Equal(t, "w1", byID["task-1"].Assignee)
		assert.Equal(t, "done", byID["task-1"].Result)
		assert.NotNil(t, byID["task-1"].CompletedAt)
		assert.Equal(t, StatusPending, byID["task-2"].Status)
		assert.Nil(t, byID["task-2"].CompletedAt)
	})

	t.Run("should keep the final state when a slow handler delays an earlier transition", func(t *testing.T) {
		archive, err := OpenArchive(ArchiveConfig{
			DBPath: filepath.Join(t.TempDir(), "tasks.db"),
			Logger: zerolog.Nop(),
		})
		require.NoError(t, err)
		defer archive.Close()

		store := setupTestStore(t)
		claimSeen := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		store.OnTransition(func(tr Transition) {
			if tr.To != StatusInProgress {
				return
			}
			once.Do(func() { close(claimSeen) })
			<-release
		})
		archive.Attach(store, "run-1")

		_, err = store.Create(TypeBackend, "X")
		require.NoError(t, err)

		claimDone := make(chan struct{})
		go func() {
			defer close(claimDone)
			_, _ = store.Claim("w1", TypeBackend)
		}()
		<-claimSeen

		completeDone := make(chan error, 1)
		go func() {
			_, err := store.Complete("task-1", "done")
			completeDone <- err
		}()

		select {
		case <-completeDone:
			t.Fatal("completion delivered before the claim")
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		<-claimDone
		select {
		case err := <-completeDone:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("complete did not return")
		}

		rows, err := archive.List(context.Background(), "run-1", 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, StatusCompleted, rows[0].Status)
		assert.Equal(t, "done", rows[0].Result)
	})

	t.Run("should separate runs", func(t *testing.T) {
		archive, err := OpenArchive(ArchiveConfig{
			DBPath: filepath.Join(t.TempDir(), "tasks.db"),
			Logger: zerolog.Nop(),
		})
		require.NoError(t, err)
		defer archive.Close()

		ctx := context.Background()
		first := setupTestStore(t)
		archive.Attach(first, "run-a")
		_, _ = first.Create(TypeTest, "a")

		second := setupTestStore(t)
		archive.Attach(second, "run-b")
		_, _ = second.Create(TypeTest, "b")

		all, err := archive.List(ctx, "", 10)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		onlyB, err := archive.List(ctx, "run-b", 10)
		require.NoError(t, err)
		require.Len(t, onlyB, 1)
		assert.Equal(t, "b", onlyB[0].Description)
	})
}
