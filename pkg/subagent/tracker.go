package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const maxPromptLen = 500

// Tracker records every agent turn of a factory run
type Tracker struct {
	runs         map[string]*RunRecord
	registryPath string
	cycleID      string
	logger       zerolog.Logger
	now          func() time.Time
	mu           sync.RWMutex

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// Config holds tracker configuration
type Config struct {
	// RegistryPath enables JSON persistence when set
	RegistryPath string
	// CycleID tags every run registered by this tracker
	CycleID string
	Logger  zerolog.Logger
	Now     func() time.Time
}

// New creates a tracker
func New(cfg Config) *Tracker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		runs:          make(map[string]*RunRecord),
		registryPath:  cfg.RegistryPath,
		cycleID:       cfg.CycleID,
		logger:        cfg.Logger.With().Str("component", "subagent").Logger(),
		now:           now,
		eventHandlers: make(map[string][]EventHandler),
	}
}

// Initialize loads previously persisted runs. Unreadable registries are
// logged and ignored.
func (t *Tracker) Initialize() error {
	if t.registryPath == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.registryPath)
	if os.IsNotExist(err) {
		t.logger.Debug().Msg("Run registry does not exist, starting empty")
		return nil
	}
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to read run registry")
		return nil
	}

	var registry Registry
	if err := json.Unmarshal(data, &registry); err != nil {
		t.logger.Error().Err(err).Msg("Failed to parse run registry, starting empty")
		return nil
	}

	for _, run := range registry.Runs {
		// a run still active on disk did not survive the previous process
		if !run.Status.IsTerminal() {
			run.Status = StatusAborted
			now := t.now().UnixMilli()
			run.CompletedAt = &now
		}
		t.runs[run.ID] = run
	}

	t.logger.Info().Int("runs", len(t.runs)).Msg("Run registry loaded")
	return nil
}

// Close persists the registry
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

// Register records a pending run and returns its id
func (t *Tracker) Register(params RunParams) (string, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}

	prompt := params.Prompt
	if len(prompt) > maxPromptLen {
		prompt = prompt[:maxPromptLen] + "..."
	}

	record := &RunRecord{
		ID:        runID,
		CycleID:   t.cycleID,
		AgentID:   params.AgentID,
		SessionID: params.SessionID,
		Prompt:    prompt,
		Status:    StatusPending,
		StartedAt: t.now().UnixMilli(),
		Metadata:  params.Metadata,
	}

	t.mu.Lock()
	t.runs[runID] = record
	snapshot := *record
	err = t.saveLocked()
	t.mu.Unlock()
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to save run registry after registration")
	}

	t.logger.Debug().
		Str("runId", runID).
		Str("agent", params.AgentID).
		Msg("Run registered")

	t.emit(EventRunRegistered, snapshot)
	return runID, nil
}

// UpdateStatus moves a run to status. Terminal runs cannot change.
func (t *Tracker) UpdateStatus(runID string, status RunStatus, result, errMsg string) error {
	t.mu.Lock()
	record, exists := t.runs[runID]
	if !exists {
		t.mu.Unlock()
		return fmt.Errorf("run not found: %s", runID)
	}
	if record.Status.IsTerminal() {
		t.mu.Unlock()
		return fmt.Errorf("run %s already %s", runID, record.Status)
	}

	record.Status = status
	if status == StatusRunning {
		record.StartedAt = t.now().UnixMilli()
	}
	if status.IsTerminal() {
		now := t.now().UnixMilli()
		record.CompletedAt = &now
	}
	if result != "" {
		record.Result = result
	}
	if errMsg != "" {
		record.Error = errMsg
	}
	snapshot := *record
	saveErr := t.saveLocked()
	t.mu.Unlock()

	if saveErr != nil {
		t.logger.Error().Err(saveErr).Msg("Failed to save run registry after status update")
	}

	t.logger.Debug().
		Str("runId", runID).
		Str("agent", snapshot.AgentID).
		Str("status", string(status)).
		Msg("Run status updated")

	t.emit(EventRunUpdated, snapshot)
	return nil
}

// Start marks a run as running
func (t *Tracker) Start(runID string) error {
	return t.UpdateStatus(runID, StatusRunning, "", "")
}

// Finish closes a run from the outcome of the turn: cancellation aborts it,
// any other error fails it
func (t *Tracker) Finish(runID, result string, err error) error {
	switch {
	case err == nil:
		return t.UpdateStatus(runID, StatusCompleted, result, "")
	case errors.Is(err, context.Canceled):
		return t.UpdateStatus(runID, StatusAborted, "", err.Error())
	default:
		return t.UpdateStatus(runID, StatusFailed, "", err.Error())
	}
}

// Get returns a copy of a run
func (t *Tracker) Get(runID string) (RunRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	record, ok := t.runs[runID]
	if !ok {
		return RunRecord{}, false
	}
	return *record, true
}

// List returns copies of all runs ordered by start time
func (t *Tracker) List() []RunRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sortedLocked(func(*RunRecord) bool { return true })
}

// ListByAgent returns the runs of one agent ordered by start time
func (t *Tracker) ListByAgent(agentID string) []RunRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sortedLocked(func(r *RunRecord) bool { return r.AgentID == agentID })
}

func (t *Tracker) sortedLocked(keep func(*RunRecord) bool) []RunRecord {
	out := make([]RunRecord, 0, len(t.runs))
	for _, r := range t.runs {
		if keep(r) {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt < out[j].StartedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CountActive counts pending or running runs of an agent
func (t *Tracker) CountActive(agentID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, r := range t.runs {
		if r.AgentID == agentID && !r.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// Cleanup removes terminal runs finished before the retention window
func (t *Tracker) Cleanup(retention time.Duration) int {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-retention).UnixMilli()
	removed := 0
	for id, r := range t.runs {
		if r.Status.IsTerminal() && r.CompletedAt != nil && *r.CompletedAt < cutoff {
			delete(t.runs, id)
			removed++
		}
	}

	if removed > 0 {
		if err := t.saveLocked(); err != nil {
			t.logger.Error().Err(err).Msg("Failed to save run registry after cleanup")
		}
	}
	t.logger.Info().Int("removed", removed).Msg("Run cleanup completed")
	return removed
}

// Stats returns run counts over every tracked run
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{TotalRuns: len(t.runs)}
	for _, r := range t.runs {
		addStatus(&stats, r.Status)
	}
	return stats
}

// StatsByAgent returns counts and total run time per agent
func (t *Tracker) StatsByAgent() map[string]AgentStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]AgentStats)
	for _, r := range t.runs {
		s := out[r.AgentID]
		s.TotalRuns++
		addStatus(&s.Stats, r.Status)
		s.TotalDuration += r.Duration()
		out[r.AgentID] = s
	}
	return out
}

func addStatus(stats *Stats, status RunStatus) {
	switch status {
	case StatusPending, StatusRunning:
		stats.ActiveRuns++
	case StatusCompleted:
		stats.CompletedRuns++
	case StatusFailed:
		stats.FailedRuns++
	case StatusAborted:
		stats.AbortedRuns++
	}
}

// On registers an event handler
func (t *Tracker) On(eventType string, handler EventHandler) {
	t.eventMu.Lock()
	defer t.eventMu.Unlock()
	t.eventHandlers[eventType] = append(t.eventHandlers[eventType], handler)
}

// Off removes all handlers for an event type
func (t *Tracker) Off(eventType string) {
	t.eventMu.Lock()
	defer t.eventMu.Unlock()
	delete(t.eventHandlers, eventType)
}

func (t *Tracker) emit(eventType string, record RunRecord) {
	t.eventMu.RLock()
	handlers := t.eventHandlers[eventType]
	t.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(record)
	}
}

// saveLocked writes the registry atomically. Callers hold t.mu.
func (t *Tracker) saveLocked() error {
	if t.registryPath == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(t.registryPath), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	runs := make([]*RunRecord, 0, len(t.runs))
	for _, r := range t.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt != runs[j].StartedAt {
			return runs[i].StartedAt < runs[j].StartedAt
		}
		return runs[i].ID < runs[j].ID
	})

	data, err := json.MarshalIndent(Registry{
		Version:     1,
		Runs:        runs,
		LastUpdated: t.now().UnixMilli(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tempPath := t.registryPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp registry file: %w", err)
	}
	if err := os.Rename(tempPath, t.registryPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename registry file: %w", err)
	}
	return nil
}
