package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_Enqueue(t *testing.T) {
	t.Run("should return the task result", func(t *testing.T) {
		cq := New(Config{})
		defer cq.Close()

		result, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
			return "result", nil
		}, nil)

		assert.NoError(t, err)
		assert.Equal(t, "result", result)
	})

	t.Run("should return the task error", func(t *testing.T) {
		cq := New(Config{})
		defer cq.Close()

		expectedErr := errors.New("task failed")
		result, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
			return nil, expectedErr
		}, nil)

		assert.Equal(t, expectedErr, err)
		assert.Nil(t, result)
	})

	t.Run("should reject work after close", func(t *testing.T) {
		cq := New(Config{})
		require.NoError(t, cq.Close())

		_, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestCommandQueue_LaneOrdering(t *testing.T) {
	t.Run("should run one task at a time per lane", func(t *testing.T) {
		cq := New(Config{})
		defer cq.Close()

		var running, maxRunning int32
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = cq.Enqueue("session-a", func(ctx context.Context) (interface{}, error) {
					n := atomic.AddInt32(&running, 1)
					for {
						m := atomic.LoadInt32(&maxRunning)
						if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&running, -1)
					return nil, nil
				}, nil)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
	})

	t.Run("should keep FIFO order within a lane", func(t *testing.T) {
		cq := New(Config{})
		defer cq.Close()

		release := make(chan struct{})
		started := make(chan struct{})
		go func() {
			_, _ = cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) {
				close(started)
				<-release
				return nil, nil
			}, nil)
		}()
		<-started

		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					return nil, nil
				}, nil)
			}()
			require.Eventually(t, func() bool { return cq.GetQueueSize("lane") == i+1 }, time.Second, time.Millisecond)
		}

		close(release)
		wg.Wait()
		assert.Equal(t, []int{0, 1, 2}, order)
	})

	t.Run("should run separate lanes concurrently", func(t *testing.T) {
		cq := New(Config{})
		defer cq.Close()

		barrier := make(chan struct{})
		var wg sync.WaitGroup
		for _, lane := range []string{"a", "b"} {
			lane := lane
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := cq.Enqueue(lane, func(ctx context.Context) (interface{}, error) {
					select {
					case barrier <- struct{}{}:
					case <-barrier:
					case <-time.After(time.Second):
						return nil, errors.New("lanes did not overlap")
					}
					return nil, nil
				}, nil)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	})
}

func TestCommandQueue_GlobalCap(t *testing.T) {
	cq := New(Config{MaxConcurrent: 2})
	defer cq.Close()

	var running, maxRunning int32
	var wg sync.WaitGroup
	for _, lane := range []string{"a", "b", "c", "d", "e"} {
		lane := lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(lane, func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil, nil
			}, nil)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(2))
}

func TestCommandQueue_Cancellation(t *testing.T) {
	t.Run("should drop a queued task when its context is cancelled", func(t *testing.T) {
		cq := New(Config{})
		defer cq.Close()

		release := make(chan struct{})
		started := make(chan struct{})
		go func() {
			_, _ = cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) {
				close(started)
				<-release
				return nil, nil
			}, nil)
		}()
		<-started

		ctx, cancel := context.WithCancel(context.Background())
		var ran int32
		done := make(chan error, 1)
		go func() {
			_, err := cq.EnqueueWithContext(ctx, "lane", func(ctx context.Context) (interface{}, error) {
				atomic.StoreInt32(&ran, 1)
				return nil, nil
			}, nil)
			done <- err
		}()
		require.Eventually(t, func() bool { return cq.GetQueueSize("lane") == 1 }, time.Second, time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		close(release)
		assert.True(t, cq.WaitForActive(time.Second))
		assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
	})

	t.Run("should cancel running tasks on close", func(t *testing.T) {
		cq := New(Config{})

		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, err := cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			}, nil)
			done <- err
		}()
		<-started

		require.NoError(t, cq.Close())
		assert.ErrorIs(t, <-done, context.Canceled)
	})

	t.Run("should reject queued tasks when a lane is cleared", func(t *testing.T) {
		cq := New(Config{})
		defer cq.Close()

		release := make(chan struct{})
		started := make(chan struct{})
		go func() {
			_, _ = cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) {
				close(started)
				<-release
				return nil, nil
			}, nil)
		}()
		<-started

		done := make(chan error, 1)
		go func() {
			_, err := cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) { return nil, nil }, nil)
			done <- err
		}()
		require.Eventually(t, func() bool { return cq.GetQueueSize("lane") == 1 }, time.Second, time.Millisecond)

		assert.Equal(t, 1, cq.ClearLane("lane"))
		assert.ErrorIs(t, <-done, ErrLaneCleared)
		close(release)
	})
}

func TestCommandQueue_Events(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	var mu sync.Mutex
	var types []string
	record := func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	}
	cq.On("enqueued", record)
	cq.On("completed", record)

	_, err := cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) { return nil, nil }, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"enqueued", "completed"}, types)

	stats := cq.GetStats()
	assert.Equal(t, 1, stats["lane"]["concurrency"])
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	warned := make(chan int, 1)
	go func() {
		_, _ = cq.Enqueue("lane", func(ctx context.Context) (interface{}, error) { return nil, nil }, &TaskOptions{
			WarnAfter: 10 * time.Millisecond,
			OnWait: func(wait time.Duration, queuePos int) {
				warned <- queuePos
			},
		})
	}()

	select {
	case pos := <-warned:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("expected a wait warning")
	}
	close(release)
}
