// Package commandqueue serializes agent turns per session lane while letting
// different sessions run side by side.
//
// Invariants:
// - Turns in the same lane execute in FIFO order.
// - Lanes run concurrently, up to the global MaxConcurrent cap when set.
// - Every enqueued turn receives exactly one result, including when its lane
//   is cleared or the queue is closed.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Config{MaxConcurrent: 4})
//	defer queue.Close()
//	reply, err := queue.EnqueueWithContext(ctx, "session:worker-1", func(ctx context.Context) (interface{}, error) {
//		return runTurn(ctx)
//	}, &commandqueue.TaskOptions{WarnAfter: 2 * time.Minute})
package commandqueue
