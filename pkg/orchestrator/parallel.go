package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RunFunc runs one agent task
type RunFunc func(ctx context.Context, t AgentTask) (AgentResult, error)

// ParallelRequest is a set of agent tasks joined on all of them
type ParallelRequest struct {
	Tasks  []AgentTask
	OnFail OnFailStrategy
}

// ParallelExecutor fans agent tasks out to goroutines and waits for all
type ParallelExecutor struct {
	run    RunFunc
	logger zerolog.Logger
}

// NewParallelExecutor creates a new ParallelExecutor instance
func NewParallelExecutor(run RunFunc, logger zerolog.Logger) *ParallelExecutor {
	return &ParallelExecutor{
		run:    run,
		logger: logger,
	}
}

// Execute runs every task concurrently and returns results in request
// order. With OnFailAbort the first failure cancels the remaining tasks
// and is returned.
func (p *ParallelExecutor) Execute(ctx context.Context, req ParallelRequest) ([]AgentResult, error) {
	if len(req.Tasks) == 0 {
		return []AgentResult{}, fmt.Errorf("no tasks provided")
	}
	if req.OnFail == "" {
		req.OnFail = OnFailAbort
	}
	if req.OnFail != OnFailAbort && req.OnFail != OnFailContinue {
		return []AgentResult{}, fmt.Errorf("invalid on-fail strategy: %s", req.OnFail)
	}

	p.logger.Debug().
		Int("num_agents", len(req.Tasks)).
		Str("on_fail", string(req.OnFail)).
		Msg("Starting parallel execution")

	start := time.Now()
	results, err := p.executeJoinAll(ctx, req)

	p.logger.Debug().
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Int("num_results", len(results)).
		Bool("success", err == nil).
		Msg("Parallel execution completed")

	return results, err
}

func (p *ParallelExecutor) executeJoinAll(ctx context.Context, req ParallelRequest) ([]AgentResult, error) {
	results := make([]AgentResult, len(req.Tasks))
	errs := make([]error, len(req.Tasks))
	var wg sync.WaitGroup

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// first failure in time, not in request order; later ones may only
	// be the cancellation it caused
	var (
		firstMu  sync.Mutex
		firstErr error
	)

	for i, t := range req.Tasks {
		wg.Add(1)
		go func(index int, t AgentTask) {
			defer wg.Done()

			start := time.Now()
			result, err := p.run(execCtx, t)
			if result.AgentID == "" {
				result.AgentID = t.AgentID
			}
			if result.Duration == 0 {
				result.Duration = time.Since(start)
			}
			result.Success = err == nil
			if err != nil {
				result.Error = err.Error()
			}
			results[index] = result
			errs[index] = err

			if err != nil {
				firstMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				firstMu.Unlock()

				if req.OnFail == OnFailAbort {
					p.logger.Error().Err(err).Str("agent_id", t.AgentID).Msg("Agent failed, aborting all")
					cancel()
				}
			}
		}(i, t)
	}

	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			p.logger.Warn().Err(err).Str("agent_id", req.Tasks[i].AgentID).Msg("Agent execution failed")
		}
	}

	if req.OnFail == OnFailAbort && firstErr != nil {
		return results, firstErr
	}
	if failed > 0 {
		p.logger.Info().
			Int("failed_count", failed).
			Int("total_count", len(req.Tasks)).
			Msg("Parallel execution completed with failures")
	}
	return results, nil
}
