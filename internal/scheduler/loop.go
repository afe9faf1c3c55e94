// Package scheduler drives a cycle function repeatedly without ever running
// two cycles at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"xrpl-token-sync/internal/observability"
)

// State of the loop.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Policy selects how Run spaces cycles.
type Policy string

const (
	// PolicyImmediate starts the next cycle as soon as the previous one ends,
	// after a short yield.
	PolicyImmediate Policy = "immediate"
	// PolicyInterval starts cycles on a fixed tick. A tick that lands while a
	// cycle is running is skipped.
	PolicyInterval Policy = "interval"
	// PolicyDelay waits a fixed delay after each cycle completes.
	PolicyDelay Policy = "delay"
)

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyImmediate, PolicyInterval, PolicyDelay:
		return p, nil
	default:
		return "", fmt.Errorf("unknown loop policy %q", s)
	}
}

// Defaults.
const (
	DefaultInterval = 30 * time.Second
	DefaultYield    = 100 * time.Millisecond
)

// ErrCycleInProgress is returned when a cycle is requested while one runs.
var ErrCycleInProgress = errors.New("cycle already in progress")

// CycleFunc performs one cycle. id identifies the cycle in logs.
type CycleFunc func(ctx context.Context, id uuid.UUID) error

// CycleStats describes one completed cycle.
type CycleStats struct {
	ID        uuid.UUID
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// Options configures a Loop.
type Options struct {
	Policy   Policy
	Interval time.Duration // tick for PolicyInterval, pause for PolicyDelay
	Yield    time.Duration // pause for PolicyImmediate
	Logger   zerolog.Logger
	Metrics  *observability.Metrics
	Clock    func() time.Time
}

// Loop runs a CycleFunc with an Idle/Running guard.
type Loop struct {
	cycle    CycleFunc
	policy   Policy
	interval time.Duration
	yield    time.Duration
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	state atomic.Int32

	mu      sync.Mutex
	last    CycleStats
	hasLast bool
}

// New creates a loop around cycle.
func New(cycle CycleFunc, opts Options) *Loop {
	policy := opts.Policy
	if policy == "" {
		policy = PolicyDelay
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	yield := opts.Yield
	if yield <= 0 {
		yield = DefaultYield
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Loop{
		cycle:    cycle,
		policy:   policy,
		interval: interval,
		yield:    yield,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      now,
	}
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// LastCycle returns stats of the most recent completed cycle.
func (l *Loop) LastCycle() (CycleStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.hasLast
}

// Trigger runs one cycle if the loop is idle. It reports false, without
// running anything, when a cycle is already in progress.
func (l *Loop) Trigger(ctx context.Context) (CycleStats, bool) {
	return l.TryRun(ctx, l.cycle)
}

// TryRun runs fn under the same guard as Trigger.
func (l *Loop) TryRun(ctx context.Context, fn CycleFunc) (CycleStats, bool) {
	if !l.state.CompareAndSwap(int32(Idle), int32(Running)) {
		l.metrics.RecordOverlapSkipped()
		l.logger.Debug().Msg("cycle skipped: previous cycle still running")
		return CycleStats{}, false
	}
	defer l.state.Store(int32(Idle))

	stats := CycleStats{ID: uuid.New(), StartedAt: l.now()}
	stats.Err = l.runGuarded(ctx, fn, stats.ID)
	stats.Duration = l.now().Sub(stats.StartedAt)

	l.mu.Lock()
	l.last = stats
	l.hasLast = true
	l.mu.Unlock()

	ev := l.logger.Info()
	if stats.Err != nil {
		ev = l.logger.Error().Err(stats.Err)
	}
	ev.Str("cycle_id", stats.ID.String()).
		Dur("duration", stats.Duration).
		Msg("cycle finished")

	return stats, true
}

func (l *Loop) runGuarded(ctx context.Context, fn CycleFunc, id uuid.UUID) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cycle panic: %v", p)
		}
	}()
	return fn(ctx, id)
}

// Run drives cycles according to the policy until ctx is cancelled.
// Returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().
		Str("policy", string(l.policy)).
		Dur("interval", l.interval).
		Msg("scheduling loop started")
	defer l.logger.Info().Msg("scheduling loop stopped")

	switch l.policy {
	case PolicyImmediate:
		return l.runSequential(ctx, l.yield)
	case PolicyInterval:
		return l.runInterval(ctx)
	case PolicyDelay:
		return l.runSequential(ctx, l.interval)
	default:
		return fmt.Errorf("unknown loop policy %q", l.policy)
	}
}

func (l *Loop) runSequential(ctx context.Context, pause time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.Trigger(ctx)

		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Loop) runInterval(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	fire := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Trigger(ctx)
		}()
	}

	fire()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fire()
		}
	}
}
