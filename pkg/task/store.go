package task

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/agentfactory/internal/observability"
	"github.com/rs/zerolog"
)

// recentLimit is the number of tasks listed in a status report
const recentLimit = 10

// TransitionHandler is called after every task state change
type TransitionHandler func(tr Transition)

// Store owns every task of a factory run. All operations hold a single
// mutex, so claim is atomic with respect to other claims.
type Store struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	order     []string
	completed []string
	nextID    int
	now       func() time.Time
	logger    zerolog.Logger

	handlers  []TransitionHandler
	handlerMu sync.RWMutex

	// seq numbers transitions under mu; published is the last seq whose
	// handlers have returned.
	seq         uint64
	published   uint64
	publishMu   sync.Mutex
	publishCond *sync.Cond
}

// StoreConfig holds store configuration
type StoreConfig struct {
	Logger zerolog.Logger
	// Now overrides the clock, used by tests
	Now func() time.Time
}

// NewStore creates an empty task store
func NewStore(cfg StoreConfig) *Store {
	observability.EnsureRegistered()

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		tasks:  make(map[string]*Task),
		now:    now,
		logger: cfg.Logger,
	}
	s.publishCond = sync.NewCond(&s.publishMu)
	return s
}

// OnTransition registers a handler invoked after each state change.
// Handlers run outside the store lock, one transition at a time, in the
// order the transitions happened. A handler may read the store but must
// not mutate it.
func (s *Store) OnTransition(handler TransitionHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	s.handlers = append(s.handlers, handler)
}

// Create appends a new pending task
func (s *Store) Create(taskType Type, description string) (*Task, error) {
	if !taskType.Valid() {
		return nil, fmt.Errorf("%w: unknown task type %q", ErrInvalidArgument, taskType)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("%w: description cannot be empty", ErrInvalidArgument)
	}

	s.mu.Lock()
	s.nextID++
	t := &Task{
		ID:          fmt.Sprintf("task-%d", s.nextID),
		Type:        taskType,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   s.now(),
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	snapshot := t.clone()
	report := s.reportLocked()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.logger.Info().
		Str("taskId", snapshot.ID).
		Str("type", string(snapshot.Type)).
		Msg("Task created")

	s.publish(seq, Transition{Task: snapshot, To: StatusPending}, report)
	return snapshot, nil
}

// Claim assigns the first pending task matching preferred to workerID.
// An empty preferred type matches any task. It returns nil, nil when
// nothing is claimable.
func (s *Store) Claim(workerID string, preferred Type) (*Task, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker id cannot be empty", ErrInvalidArgument)
	}
	if preferred != "" && !preferred.Valid() {
		return nil, fmt.Errorf("%w: unknown task type %q", ErrInvalidArgument, preferred)
	}

	s.mu.Lock()
	var claimed *Task
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status != StatusPending {
			continue
		}
		if preferred != "" && t.Type != preferred {
			continue
		}
		t.Status = StatusInProgress
		t.Assignee = workerID
		claimed = t.clone()
		break
	}
	if claimed == nil {
		s.mu.Unlock()
		return nil, nil
	}
	report := s.reportLocked()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.logger.Info().
		Str("taskId", claimed.ID).
		Str("worker", workerID).
		Msg("Task claimed")

	s.publish(seq, Transition{Task: claimed, From: StatusPending, To: StatusInProgress}, report)
	return claimed, nil
}

// Complete marks an in-progress task as completed with the given result
func (s *Store) Complete(taskID, result string) (*Task, error) {
	return s.finish(taskID, StatusCompleted, result)
}

// Fail marks an in-progress task as failed with the given reason
func (s *Store) Fail(taskID, reason string) (*Task, error) {
	return s.finish(taskID, StatusFailed, reason)
}

func (s *Store) finish(taskID string, to Status, result string) (*Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if t.Status != StatusInProgress {
		from := t.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidTransition, taskID, from, to)
	}

	now := s.now()
	t.Status = to
	t.Result = result
	t.CompletedAt = &now
	if to == StatusCompleted {
		s.completed = append(s.completed, t.ID)
	}
	snapshot := t.clone()
	report := s.reportLocked()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.logger.Info().
		Str("taskId", snapshot.ID).
		Str("status", string(to)).
		Str("worker", snapshot.Assignee).
		Msg("Task finished")

	s.publish(seq, Transition{Task: snapshot, From: StatusInProgress, To: to}, report)
	return snapshot, nil
}

// FailAssigned fails every in-progress task held by workerID and returns
// the affected tasks
func (s *Store) FailAssigned(workerID, reason string) []*Task {
	s.mu.Lock()
	ids := []string{}
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status == StatusInProgress && t.Assignee == workerID {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	failed := make([]*Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Fail(id, reason)
		if err != nil {
			// completed concurrently
			continue
		}
		failed = append(failed, t)
	}
	return failed
}

// Get returns a copy of the task with the given id
func (s *Store) Get(taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return t.clone(), nil
}

// List returns copies of all tasks in creation order
func (s *Store) List() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]*Task, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, s.tasks[id].clone())
	}
	return tasks
}

// CompletedTasks returns copies of completed tasks in completion order
func (s *Store) CompletedTasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]*Task, 0, len(s.completed))
	for _, id := range s.completed {
		tasks = append(tasks, s.tasks[id].clone())
	}
	return tasks
}

// Status returns task counts and the most recent tasks
func (s *Store) Status() StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reportLocked()
}

func (s *Store) reportLocked() StatusReport {
	report := StatusReport{
		Total:     len(s.order),
		Completed: len(s.completed),
		Recent:    []Summary{},
	}
	for _, id := range s.order {
		switch s.tasks[id].Status {
		case StatusPending:
			report.Pending++
		case StatusInProgress:
			report.InProgress++
		case StatusFailed:
			report.Failed++
		}
	}

	start := len(s.order) - recentLimit
	if start < 0 {
		start = 0
	}
	for _, id := range s.order[start:] {
		t := s.tasks[id]
		report.Recent = append(report.Recent, Summary{
			ID:       t.ID,
			Type:     t.Type,
			Status:   t.Status,
			Assignee: t.Assignee,
		})
	}
	return report
}

func (s *Store) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// publish waits until every earlier transition has been delivered, then
// runs the handlers for this one.
func (s *Store) publish(seq uint64, tr Transition, report StatusReport) {
	s.publishMu.Lock()
	for s.published != seq-1 {
		s.publishCond.Wait()
	}
	s.publishMu.Unlock()

	defer func() {
		s.publishMu.Lock()
		s.published = seq
		s.publishCond.Broadcast()
		s.publishMu.Unlock()
	}()

	observability.RecordTaskTransition(string(tr.Task.Type), string(tr.To))
	observability.SetTaskCounts(report.Pending, report.InProgress, report.Completed, report.Failed)

	s.handlerMu.RLock()
	handlers := s.handlers
	s.handlerMu.RUnlock()

	for _, handler := range handlers {
		handler(tr)
	}
}
