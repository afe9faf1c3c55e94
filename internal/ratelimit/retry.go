package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Default retry configuration values.
const (
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
	DefaultMaxRetries = 4
)

// RetryState is a state of the transient-failure retry machine.
//
//	Attempting --fail--> Backoff --resume--> Retrying --fail--> Backoff ...
//	Attempting/Retrying --succeed--> Succeeded
//	Attempting/Retrying --fail (budget spent)--> Exhausted
type RetryState int

const (
	StateAttempting RetryState = iota
	StateBackoff
	StateRetrying
	StateSucceeded
	StateExhausted
)

func (s RetryState) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackoff:
		return "backoff"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("RetryState(%d)", int(s))
	}
}

// RetryPolicy bounds exponential backoff.
type RetryPolicy struct {
	BaseDelay  time.Duration // first backoff delay
	MaxDelay   time.Duration // cap per delay
	MaxRetries int           // retries after the first attempt
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

// Retrier tracks one request through the retry state machine. It is not safe
// for concurrent use; each unit of work owns its own Retrier.
type Retrier struct {
	policy   RetryPolicy
	state    RetryState
	attempts int
	delay    time.Duration
	lastErr  error

	// OnTransition, if set, is called on every state change.
	OnTransition func(from, to RetryState)
}

// NewRetrier returns a Retrier in StateAttempting.
func NewRetrier(p RetryPolicy) *Retrier {
	p = p.withDefaults()
	return &Retrier{
		policy:   p,
		state:    StateAttempting,
		attempts: 1,
		delay:    p.BaseDelay,
	}
}

// State returns the current state.
func (r *Retrier) State() RetryState { return r.state }

// Attempts returns how many attempts have been started.
func (r *Retrier) Attempts() int { return r.attempts }

func (r *Retrier) transition(to RetryState) {
	from := r.state
	r.state = to
	if r.OnTransition != nil && from != to {
		r.OnTransition(from, to)
	}
}

// Succeed marks the in-progress attempt as successful.
func (r *Retrier) Succeed() {
	r.transition(StateSucceeded)
}

// Fail records a transient failure of the in-progress attempt. It returns the
// backoff delay and true, or false once the retry budget is spent.
func (r *Retrier) Fail(err error) (time.Duration, bool) {
	r.lastErr = err
	if r.attempts > r.policy.MaxRetries {
		r.transition(StateExhausted)
		return 0, false
	}
	d := r.delay
	r.delay *= 2
	if r.delay > r.policy.MaxDelay {
		r.delay = r.policy.MaxDelay
	}
	r.transition(StateBackoff)
	return d, true
}

// Resume leaves Backoff and starts the next attempt.
func (r *Retrier) Resume() {
	r.attempts++
	r.transition(StateRetrying)
}

// Err returns the terminal error once Exhausted, nil otherwise.
func (r *Retrier) Err() error {
	if r.state != StateExhausted {
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.attempts, r.lastErr)
}

// Run drives fn through the state machine, retrying errors accepted by
// retryable. Non-retryable errors are returned as-is.
func (r *Retrier) Run(ctx context.Context, fn func(context.Context) error, retryable func(error) bool) error {
	for {
		err := fn(ctx)
		if err == nil {
			r.Succeed()
			return nil
		}
		if !retryable(err) {
			return err
		}
		d, ok := r.Fail(err)
		if !ok {
			return r.Err()
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
		r.Resume()
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
