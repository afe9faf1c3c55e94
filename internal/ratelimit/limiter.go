// Package ratelimit implements an adaptive client-side rate limiter driven by
// server-reported quota headers.
//
// The Limiter owns the only shared mutable quota state in the process. Units
// of work reserve a request slot with Consume, perform the call, then Release
// the ticket and feed the response metadata back with Observe. Availability is
// computed as remaining minus outstanding reservations, so concurrent units
// never admit more requests than the quota allows.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"xrpl-token-sync/internal/observability"
)

// Default limiter configuration values.
const (
	DefaultLimit           = 60
	DefaultWindow          = 60 * time.Second
	DefaultMaxConcurrent   = 5
	DefaultQuotaDelay      = 60 * time.Second
	DefaultMaxQuotaRetries = 5
)

// Options configures a Limiter.
type Options struct {
	Limit           int           // requests per window before headers arrive
	Window          time.Duration // local refill period when the server gives no reset
	MaxConcurrent   int           // in-flight cap for rate-limited requests
	MinInterval     time.Duration // minimum spacing between request starts; 0 disables
	DefaultDelay    time.Duration // backoff on 429 without Retry-After or reset
	MaxQuotaRetries int           // 429 retries per request before giving up
	Retry           RetryPolicy   // transient failure policy

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Limiter gates requests to rate-limited endpoints.
type Limiter struct {
	mu       sync.Mutex
	state    QuotaState
	window   time.Duration
	changed  chan struct{} // closed and replaced whenever capacity may have grown
	sem      *semaphore.Weighted
	pacer    *rate.Limiter
	interval time.Duration

	defaultDelay    time.Duration
	maxQuotaRetries int
	retry           RetryPolicy

	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates a Limiter with a full quota.
func New(opts Options) *Limiter {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = DefaultQuotaDelay
	}
	if opts.MaxQuotaRetries <= 0 {
		opts.MaxQuotaRetries = DefaultMaxQuotaRetries
	}

	l := &Limiter{
		window:          opts.Window,
		changed:         make(chan struct{}),
		sem:             semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		interval:        opts.MinInterval,
		defaultDelay:    opts.DefaultDelay,
		maxQuotaRetries: opts.MaxQuotaRetries,
		retry:           opts.Retry.withDefaults(),
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		now:             time.Now,
	}
	if opts.MinInterval > 0 {
		l.pacer = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	l.state = QuotaState{
		Limit:     opts.Limit,
		Remaining: opts.Limit,
		ResetAt:   l.now().Add(opts.Window),
	}
	l.metrics.SetQuotaRemaining(opts.Limit)
	return l
}

// MinInterval returns the configured minimum spacing between requests.
func (l *Limiter) MinInterval() time.Duration {
	return l.interval
}

// State returns a copy of the current quota state.
func (l *Limiter) State() QuotaState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Ticket is an admitted request. Exactly one Release per ticket.
type Ticket struct {
	l    *Limiter
	once sync.Once
}

// Release returns the ticket's slot. accepted reports whether the server
// processed the request (anything but a rate-limit rejection), in which case
// it counts against the remaining quota.
func (t *Ticket) Release(accepted bool) {
	t.once.Do(func() {
		t.l.release(accepted)
	})
}

// Consume blocks until a request may be sent: a concurrency slot is free, the
// pacing interval has elapsed and the quota has unreserved capacity. When the
// quota is spent it sleeps until the reset deadline, then refills.
func (l *Limiter) Consume(ctx context.Context) (*Ticket, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := l.Wait(ctx); err != nil {
		l.sem.Release(1)
		return nil, err
	}

	for {
		l.mu.Lock()
		now := l.now()
		if !l.state.ResetAt.After(now) {
			l.refillLocked(now)
		}
		if l.state.Remaining-l.state.Reserved > 0 {
			l.state.Reserved++
			l.mu.Unlock()
			l.metrics.AddInFlight(1)
			return &Ticket{l: l}, nil
		}
		wait := l.state.ResetAt.Sub(now)
		changed := l.changed
		l.mu.Unlock()

		l.metrics.RecordQuotaWait("quota")
		l.logger.Debug().Dur("wait", wait).Msg("quota spent, waiting for reset")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			l.sem.Release(1)
			return nil, ctx.Err()
		case <-t.C:
		case <-changed:
			t.Stop()
		}
	}
}

// Wait blocks until the pacing interval allows another request start.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.pacer == nil {
		return nil
	}
	return l.pacer.Wait(ctx)
}

func (l *Limiter) release(accepted bool) {
	l.mu.Lock()
	l.state.Reserved--
	if accepted && l.state.Remaining > 0 {
		l.state.Remaining--
	}
	remaining := l.state.Remaining
	l.broadcastLocked()
	l.mu.Unlock()

	l.sem.Release(1)
	l.metrics.AddInFlight(-1)
	l.metrics.SetQuotaRemaining(remaining)
}

// Observe merges response metadata into the quota state. Only fields present
// in meta are applied. A reset deadline in the past is ignored. Retry-After
// empties the quota until it elapses.
func (l *Limiter) Observe(meta Metadata) {
	if meta.IsEmpty() {
		return
	}

	l.mu.Lock()
	now := l.now()
	if meta.Limit != nil && *meta.Limit > 0 {
		l.state.Limit = *meta.Limit
	}
	if meta.Remaining != nil {
		l.state.Remaining = max(*meta.Remaining, 0)
	}
	if meta.Reset != nil && meta.Reset.After(now) {
		l.state.ResetAt = *meta.Reset
	}
	if meta.RetryAfter != nil {
		l.blockLocked(now, *meta.RetryAfter)
	}
	remaining := l.state.Remaining
	l.broadcastLocked()
	l.mu.Unlock()

	l.metrics.SetQuotaRemaining(remaining)
}

// Block empties the quota until now+d so every unit backs off. The deadline
// replaces any earlier estimate.
func (l *Limiter) Block(d time.Duration) {
	l.mu.Lock()
	l.blockLocked(l.now(), d)
	l.mu.Unlock()
	l.metrics.SetQuotaRemaining(0)
}

func (l *Limiter) blockLocked(now time.Time, d time.Duration) {
	l.state.Remaining = 0
	l.state.ResetAt = now.Add(d)
}

func (l *Limiter) refillLocked(now time.Time) {
	l.state.Remaining = l.state.Limit
	l.state.ResetAt = now.Add(l.window)
	l.broadcastLocked()
}

func (l *Limiter) broadcastLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// Op is one request attempt. It returns the quota metadata of the response,
// if any, and the attempt's error.
type Op func(ctx context.Context) (Metadata, error)

// Do runs op through the limiter. Quota rejections back off the whole
// limiter and resend the same request without touching the transient retry
// budget; transient errors retry with exponential backoff; any other error is
// returned immediately. Only attempts the server answered spend quota.
func (l *Limiter) Do(ctx context.Context, op Op) error {
	r := NewRetrier(l.retry)
	r.OnTransition = func(from, to RetryState) {
		ev := l.logger.Debug().Str("from", from.String()).Str("to", to.String()).Int("attempt", r.Attempts())
		if to == StateBackoff {
			l.metrics.RecordQuotaWait("backoff")
			ev = ev.AnErr("cause", r.lastErr)
		}
		ev.Msg("retry transition")
	}

	quotaRetries := 0
	return r.Run(ctx, func(ctx context.Context) error {
		return l.send(ctx, op, &quotaRetries)
	}, IsTransient)
}

// send performs one logical attempt, resending while the server rejects it
// for quota.
func (l *Limiter) send(ctx context.Context, op Op, quotaRetries *int) error {
	for {
		ticket, err := l.Consume(ctx)
		if err != nil {
			return err
		}

		meta, err := op(ctx)
		rejected := errors.Is(err, ErrQuotaExceeded)
		ticket.Release(!rejected && answered(err))

		if !rejected {
			l.Observe(meta)
			return err
		}

		var qe *QuotaExceededError
		if errors.As(err, &qe) && meta.IsEmpty() {
			meta = qe.Meta
		}
		delay := quotaDelay(meta, l.now(), l.defaultDelay)
		meta.RetryAfter = nil
		l.Observe(meta)

		*quotaRetries++
		if *quotaRetries > l.maxQuotaRetries {
			return fmt.Errorf("%d quota rejections: %w", *quotaRetries, err)
		}
		l.Block(delay)
		l.metrics.RecordQuotaWait("rejected")
		l.logger.Warn().Err(err).Dur("delay", delay).Int("retry", *quotaRetries).Msg("quota exceeded, backing off")
	}
}
