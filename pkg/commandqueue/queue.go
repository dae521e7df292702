package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/agentfactory/internal/observability"
	"github.com/harun/agentfactory/internal/tracing"
)

var (
	// ErrClosed is returned for tasks enqueued on, or still queued in, a closed queue
	ErrClosed = errors.New("command queue closed")
	// ErrLaneCleared is returned to tasks removed by ClearLane
	ErrLaneCleared = errors.New("lane cleared")
)

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// Config configures a CommandQueue
type Config struct {
	// MaxConcurrent caps running tasks across all lanes. Zero means no cap.
	MaxConcurrent int
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// Event represents a queue event
type Event struct {
	Type   string                 // "enqueued" or "completed"
	Lane   string                 // Lane name
	TaskID string                 // Task ID
	Data   map[string]interface{} // Additional event data
}

// CommandQueue runs tasks in named lanes. Tasks in one lane run one at a
// time in FIFO order; a global cap bounds the total number of running
// tasks.
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	slots     chan struct{}

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a new CommandQueue
func New(cfg Config) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	cq := &CommandQueue{
		lanes:         make(map[string]*laneState),
		ctx:           ctx,
		cancel:        cancel,
		eventHandlers: make(map[string][]EventHandler),
	}
	if cfg.MaxConcurrent > 0 {
		cq.slots = make(chan struct{}, cfg.MaxConcurrent)
	}
	return cq
}

func (cq *CommandQueue) lane(lane string, create bool) *laneState {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if exists || !create {
		return ls
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, exists = cq.lanes[lane]; !exists {
		ls = &laneState{concurrency: 1}
		cq.lanes[lane] = ls
		log.Debug().Str("lane", lane).Msg("Lane initialized")
	}
	return ls
}

// Enqueue adds a task to the specified lane and waits for its result
func (cq *CommandQueue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext adds a task to the lane and waits for its result.
// Cancelling ctx while the task is still queued removes it and returns
// ctx.Err(); once running, the task sees the cancellation through its ctx.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, "factory.commandqueue", "commandqueue.enqueue", attribute.String("lane", lane))
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		spanErr = ErrClosed
		return nil, ErrClosed
	}
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	ls := cq.lane(lane, true)
	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)
	cq.emit(Event{
		Type:   "enqueued",
		Lane:   lane,
		TaskID: taskID,
		Data:   map[string]interface{}{"queueSize": queueSize},
	})

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, lane)
	}

	cq.processLane(lane)

	select {
	case result := <-record.result:
		spanErr = result.err
		return result.value, result.err
	case <-ctx.Done():
		if cq.removeQueued(lane, record) {
			spanErr = ctx.Err()
			return nil, ctx.Err()
		}
		result := <-record.result
		spanErr = result.err
		return result.value, result.err
	}
}

func (cq *CommandQueue) removeQueued(lane string, record *taskRecord) bool {
	ls := cq.lane(lane, false)
	if ls == nil {
		return false
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (cq *CommandQueue) processLane(lane string) {
	ls := cq.lane(lane, false)
	if ls == nil {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		cq.wg.Add(1)
		go cq.executeTask(lane, record)
	}
}

func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"factory.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	var value interface{}
	var err error

	if cq.slots != nil {
		select {
		case cq.slots <- struct{}{}:
			value, err = record.task(runCtx)
			<-cq.slots
		case <-runCtx.Done():
			err = runCtx.Err()
		}
	} else {
		value, err = record.task(runCtx)
	}
	duration := time.Since(startTime)

	ls := cq.lane(lane, false)
	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	tracing.EndSpan(span, err)

	if err != nil {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)
	cq.emit(Event{
		Type:   "completed",
		Lane:   lane,
		TaskID: record.id,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  err == nil,
		},
	})

	cq.processLane(lane)
}

func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls := cq.lane(lane, false)
		if ls == nil {
			return
		}
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r == record {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-cq.ctx.Done():
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	ls := cq.lane(lane, false)
	if ls == nil {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// ClearLane rejects every queued task of a lane with ErrLaneCleared and
// returns how many were removed. Running tasks are not affected.
func (cq *CommandQueue) ClearLane(lane string) int {
	return cq.clearLane(lane, ErrLaneCleared)
}

func (cq *CommandQueue) clearLane(lane string, reason error) int {
	ls := cq.lane(lane, false)
	if ls == nil {
		return 0
	}

	ls.mu.Lock()
	queued := ls.queue
	ls.queue = nil
	ls.mu.Unlock()

	for _, record := range queued {
		record.result <- taskResult{err: reason}
	}
	if len(queued) > 0 {
		log.Debug().Str("lane", lane).Int("cleared", len(queued)).Msg("Lane cleared")
	}
	return len(queued)
}

// RemoveLane clears a lane and forgets it once idle
func (cq *CommandQueue) RemoveLane(lane string) {
	cq.ClearLane(lane)

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok := cq.lanes[lane]; ok {
		ls.mu.Lock()
		idle := ls.running == 0 && len(ls.queue) == 0
		ls.mu.Unlock()
		if idle {
			delete(cq.lanes, lane)
		}
	}
}

// WaitForActive waits for all running tasks to finish, up to timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
		return false
	}
}

// Close rejects queued tasks with ErrClosed, cancels running ones and waits
// for them to return.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	lanes := make([]string, 0, len(cq.lanes))
	for lane := range cq.lanes {
		lanes = append(lanes, lane)
	}
	cq.mu.Unlock()

	for _, lane := range lanes {
		cq.clearLane(lane, ErrClosed)
	}
	cq.cancel()
	cq.wg.Wait()
	return nil
}

// On registers an event handler for a specific event type
func (cq *CommandQueue) On(eventType string, handler EventHandler) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	cq.eventHandlers[eventType] = append(cq.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type
func (cq *CommandQueue) Off(eventType string) {
	cq.eventMu.Lock()
	defer cq.eventMu.Unlock()

	delete(cq.eventHandlers, eventType)
}

func (cq *CommandQueue) emit(event Event) {
	cq.eventMu.RLock()
	handlers := cq.eventHandlers[event.Type]
	cq.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
