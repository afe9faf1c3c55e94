package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"xrpl-token-sync/internal/observability"
	"xrpl-token-sync/internal/scheduler"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Policy   scheduler.Policy
	Interval time.Duration
	Logger   zerolog.Logger
	Metrics  *observability.Metrics
}

// EngineResult aggregates one cycle across all runners.
type EngineResult struct {
	CycleID  string
	Runners  []*CycleResult
	Updated  int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Engine runs its runners sequentially, once per cycle.
type Engine struct {
	runners []*Runner
	loop    *scheduler.Loop
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu   sync.Mutex
	last *EngineResult
}

// NewEngine creates an engine over runners, run in the given order.
func NewEngine(runners []*Runner, opts EngineOptions) *Engine {
	e := &Engine{
		runners: runners,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	e.loop = scheduler.New(e.cycle, scheduler.Options{
		Policy:   opts.Policy,
		Interval: opts.Interval,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	return e
}

// Loop exposes the scheduling loop for health reporting.
func (e *Engine) Loop() *scheduler.Loop { return e.loop }

// LastResult returns the result of the most recent cycle, or nil.
func (e *Engine) LastResult() *EngineResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// RunOneCycle runs every runner once and returns the aggregate counts.
// Partial failure is reported through the counts, not the error. Returns
// scheduler.ErrCycleInProgress if a cycle is already running.
func (e *Engine) RunOneCycle(ctx context.Context) (*EngineResult, error) {
	var res *EngineResult
	stats, ok := e.loop.TryRun(ctx, func(ctx context.Context, id uuid.UUID) error {
		var err error
		res, err = e.runCycle(ctx, id)
		return err
	})
	if !ok {
		return nil, scheduler.ErrCycleInProgress
	}
	return res, stats.Err
}

// StartContinuousLoop drives cycles until ctx is cancelled.
func (e *Engine) StartContinuousLoop(ctx context.Context) error {
	err := e.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) cycle(ctx context.Context, id uuid.UUID) error {
	_, err := e.runCycle(ctx, id)
	return err
}

func (e *Engine) runCycle(ctx context.Context, id uuid.UUID) (*EngineResult, error) {
	start := time.Now()
	res := &EngineResult{CycleID: id.String()}
	ctx = WithCycleID(ctx, res.CycleID)

	var errs []error
	for _, r := range e.runners {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rr, err := r.RunOnce(ctx)
		if rr != nil {
			res.Runners = append(res.Runners, rr)
			res.Updated += rr.Updated
			res.Failed += rr.Failed
			res.Skipped += rr.Skipped
		}
		if err != nil {
			// The remaining runners still get their turn.
			e.logger.Error().
				Err(err).
				Str("cycle_id", res.CycleID).
				Str("variant", r.Variant()).
				Msg("runner aborted")
			errs = append(errs, fmt.Errorf("%s: %w", r.Variant(), err))
		}
	}
	res.Duration = time.Since(start)

	e.mu.Lock()
	e.last = res
	e.mu.Unlock()

	err := errors.Join(errs...)
	if err == nil {
		e.metrics.MarkSyncSuccess(time.Now())
	}
	e.metrics.RecordCycle("all", cycleStatus(err, res.Failed), res.Duration)
	return res, err
}

func cycleStatus(err error, failed int) string {
	switch {
	case err != nil:
		return "error"
	case failed > 0:
		return "partial"
	default:
		return "ok"
	}
}
