package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agentTasks(ids ...string) []AgentTask {
	out := make([]AgentTask, len(ids))
	for i, id := range ids {
		out[i] = AgentTask{AgentID: id, Prompt: "work"}
	}
	return out
}

func TestParallelExecutor_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject an empty request", func(t *testing.T) {
		p := NewParallelExecutor(nil, zerolog.Nop())
		results, err := p.Execute(ctx, ParallelRequest{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no tasks provided")
		assert.Empty(t, results)
	})

	t.Run("should reject an unknown on-fail strategy", func(t *testing.T) {
		p := NewParallelExecutor(nil, zerolog.Nop())
		_, err := p.Execute(ctx, ParallelRequest{Tasks: agentTasks("a"), OnFail: "retry"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid on-fail strategy")
	})

	t.Run("should run all tasks concurrently and keep request order", func(t *testing.T) {
		var running, peak int32
		p := NewParallelExecutor(func(ctx context.Context, task AgentTask) (AgentResult, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return AgentResult{Output: "done by " + task.AgentID}, nil
		}, zerolog.Nop())

		results, err := p.Execute(ctx, ParallelRequest{Tasks: agentTasks("a", "b", "c")})
		require.NoError(t, err)
		require.Len(t, results, 3)
		for i, id := range []string{"a", "b", "c"} {
			assert.Equal(t, id, results[i].AgentID)
			assert.Equal(t, "done by "+id, results[i].Output)
			assert.True(t, results[i].Success)
			assert.Greater(t, results[i].Duration, time.Duration(0))
		}
		assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
	})

	t.Run("should cancel the others and return the first failure on abort", func(t *testing.T) {
		boom := errors.New("boom")
		p := NewParallelExecutor(func(ctx context.Context, task AgentTask) (AgentResult, error) {
			if task.AgentID == "bad" {
				return AgentResult{}, boom
			}
			select {
			case <-ctx.Done():
				return AgentResult{}, ctx.Err()
			case <-time.After(5 * time.Second):
				return AgentResult{}, nil
			}
		}, zerolog.Nop())

		start := time.Now()
		results, err := p.Execute(ctx, ParallelRequest{Tasks: agentTasks("slow", "bad"), OnFail: OnFailAbort})
		require.Error(t, err)
		assert.True(t, errors.Is(err, boom))
		assert.Less(t, time.Since(start), 2*time.Second)
		require.Len(t, results, 2)
		assert.False(t, results[0].Success)
		assert.Equal(t, context.Canceled.Error(), results[0].Error)
		assert.Equal(t, "boom", results[1].Error)
	})

	t.Run("should keep going and report failures on continue", func(t *testing.T) {
		p := NewParallelExecutor(func(ctx context.Context, task AgentTask) (AgentResult, error) {
			if task.AgentID == "bad" {
				return AgentResult{}, errors.New("boom")
			}
			return AgentResult{Output: "ok"}, nil
		}, zerolog.Nop())

		results, err := p.Execute(ctx, ParallelRequest{Tasks: agentTasks("good", "bad"), OnFail: OnFailContinue})
		require.NoError(t, err)
		assert.True(t, results[0].Success)
		assert.False(t, results[1].Success)
		assert.Equal(t, "boom", results[1].Error)
	})
}
