package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/ledger"
	"xrpl-token-sync/internal/metrics"
	"xrpl-token-sync/internal/notify"
	"xrpl-token-sync/internal/observability"
	"xrpl-token-sync/internal/ratelimit"
	"xrpl-token-sync/internal/storage"
)

// Concurrency bounds.
const (
	DefaultConcurrency = 10
	MinConcurrency     = 1
	MaxConcurrency     = 50
)

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Variant Variant
	Store   storage.TokenStore

	// Optional sinks. Failures here are logged and never fail the token.
	Snapshots storage.PoolSnapshotStore
	Cache     storage.MetricsCache
	Publisher notify.CrownPublisher

	Concurrency int           // in-flight tokens; default 10, clamped to [1, 50]
	BatchSize   int           // > 0 selects fixed batches, each run fully in parallel; at most 50
	BatchPause  time.Duration // minimum pause between batches
	Limiter     *ratelimit.Limiter

	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Clock   func() time.Time
}

// Runner applies one Variant to every eligible token.
type Runner struct {
	variant   Variant
	store     storage.TokenStore
	snapshots storage.PoolSnapshotStore
	cache     storage.MetricsCache
	publisher notify.CrownPublisher

	concurrency int
	batchSize   int
	batchPause  time.Duration

	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRunner creates a runner. Variant and Store are required.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Variant == nil || opts.Store == nil {
		return nil, errors.New("syncer: variant and store are required")
	}

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	concurrency = max(MinConcurrency, min(MaxConcurrency, concurrency))

	batchSize := opts.BatchSize
	if batchSize > 0 {
		batchSize = min(MaxConcurrency, batchSize)
	}

	pause := opts.BatchPause
	if opts.Limiter != nil {
		pause = max(pause, opts.Limiter.MinInterval())
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Runner{
		variant:     opts.Variant,
		store:       opts.Store,
		snapshots:   opts.Snapshots,
		cache:       opts.Cache,
		publisher:   opts.Publisher,
		concurrency: concurrency,
		batchSize:   batchSize,
		batchPause:  pause,
		logger:      opts.Logger.With().Str("variant", opts.Variant.Name()).Logger(),
		metrics:     opts.Metrics,
		now:         now,
	}, nil
}

// Variant returns the runner's variant name.
func (r *Runner) Variant() string { return r.variant.Name() }

// Failure records one token that could not be synchronized.
type Failure struct {
	Key domain.TokenKey
	Err error
}

// CycleResult summarizes one runner pass.
type CycleResult struct {
	CycleID  string
	Variant  string
	Eligible int
	Updated  int
	Failed   int
	Skipped  int
	Failures []Failure
	Duration time.Duration
}

type tally struct {
	updated  atomic.Int64
	skipped  atomic.Int64
	mu       sync.Mutex
	failures []Failure
}

func (t *tally) fail(key domain.TokenKey, err error) {
	t.mu.Lock()
	t.failures = append(t.failures, Failure{Key: key, Err: err})
	t.mu.Unlock()
}

// RunOnce loads eligible tokens and synchronizes each of them. Per-token
// failures are counted, not returned; the error is non-nil only when the
// working set cannot be loaded or ctx ends.
func (r *Runner) RunOnce(ctx context.Context) (*CycleResult, error) {
	start := r.now()
	cycleID := CycleID(ctx)
	logger := r.logger.With().Str("cycle_id", cycleID).Logger()

	tokens, err := r.store.FindEligible(ctx, r.variant.Filter(), r.variant.Fields()...)
	if err != nil {
		r.metrics.RecordCycle(r.variant.Name(), "error", r.now().Sub(start))
		return nil, fmt.Errorf("load %s working set: %w", r.variant.Name(), err)
	}

	logger.Debug().Int("eligible", len(tokens)).Msg("runner started")

	t := &tally{}
	if r.batchSize > 0 {
		err = r.runBatches(ctx, logger, tokens, t)
	} else {
		r.runPool(ctx, logger, tokens, r.concurrency, t)
		err = ctx.Err()
	}

	res := &CycleResult{
		CycleID:  cycleID,
		Variant:  r.variant.Name(),
		Eligible: len(tokens),
		Updated:  int(t.updated.Load()),
		Skipped:  int(t.skipped.Load()),
		Failures: t.failures,
		Failed:   len(t.failures),
		Duration: r.now().Sub(start),
	}

	status := "ok"
	if err != nil {
		status = "cancelled"
	} else if res.Failed > 0 {
		status = "partial"
	}
	r.metrics.RecordCycle(res.Variant, status, res.Duration)
	r.metrics.RecordEntities(res.Variant, res.Updated, res.Failed, res.Skipped)

	logger.Info().
		Int("eligible", res.Eligible).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Dur("duration", res.Duration).
		Msg("runner finished")

	return res, err
}

// runPool drains tokens through at most limit workers.
func (r *Runner) runPool(ctx context.Context, logger zerolog.Logger, tokens []*domain.Token, limit int, t *tally) {
	var g errgroup.Group
	g.SetLimit(limit)
	for _, tok := range tokens {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r.handle(ctx, logger, tok, t)
			return nil
		})
	}
	_ = g.Wait()
}

// runBatches processes fixed-size batches, pausing between them.
func (r *Runner) runBatches(ctx context.Context, logger zerolog.Logger, tokens []*domain.Token, t *tally) error {
	for i := 0; i < len(tokens); i += r.batchSize {
		if i > 0 && r.batchPause > 0 {
			timer := time.NewTimer(r.batchPause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+r.batchSize, len(tokens))
		r.runPool(ctx, logger, tokens[i:end], end-i, t)
	}
	return ctx.Err()
}

// handle is the per-token isolation boundary.
func (r *Runner) handle(ctx context.Context, logger zerolog.Logger, tok *domain.Token, t *tally) {
	err := r.process(ctx, tok)
	switch {
	case err == nil:
		t.updated.Add(1)
	case errors.Is(err, ErrSkipped):
		t.skipped.Add(1)
	default:
		t.fail(tok.Key, err)
		logger.Warn().
			Err(err).
			Str("token", tok.Key.String()).
			Str("currency", ledger.CurrencyDisplay(tok.Key.Currency)).
			Msg("token sync failed")
	}
}

func (r *Runner) process(ctx context.Context, tok *domain.Token) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if !r.variant.Eligible(tok) {
		return ErrSkipped
	}

	upd, err := r.variant.Sync(ctx, tok, r.now())
	if err != nil {
		return err
	}
	if upd == nil || len(upd.Fields) == 0 {
		return ErrSkipped
	}

	if err := r.store.MergeUpsert(ctx, tok.Key, upd.Fields); err != nil {
		return err
	}

	r.afterMerge(ctx, tok, upd)
	return nil
}

// afterMerge feeds the optional sinks. Only reached after a successful merge.
func (r *Runner) afterMerge(ctx context.Context, tok *domain.Token, upd *Update) {
	key := tok.Key.String()

	if r.snapshots != nil && upd.Snapshot != nil {
		if err := r.snapshots.Insert(ctx, upd.Snapshot); err != nil {
			r.logger.Warn().Err(err).Str("token", key).Msg("snapshot insert failed")
		}
	}

	if r.cache != nil {
		if err := r.cache.SetLatest(ctx, key, upd.Fields); err != nil {
			r.logger.Warn().Err(err).Str("token", key).Msg("metrics cache update failed")
		}
	}

	if upd.Crowned != nil {
		r.metrics.RecordCrown()
		r.logger.Info().
			Str("token", key).
			Str("market_cap", metrics.FormatDecimal(upd.MarketCap)).
			Msg("king of the hill awarded")
		if r.publisher != nil {
			ev := notify.NewCrownEvent(tok.Key, upd.Crowned, upd.MarketCap)
			if err := r.publisher.PublishCrown(ctx, ev); err != nil {
				r.logger.Warn().Err(err).Str("token", key).Msg("crown publish failed")
			}
		}
	}
}

type cycleIDKey struct{}

// WithCycleID tags ctx with the cycle identifier used in logs.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey{}, id)
}

// CycleID returns the identifier set by WithCycleID, or "".
func CycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleIDKey{}).(string)
	return id
}
