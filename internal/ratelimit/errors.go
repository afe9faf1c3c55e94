package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQuotaExceeded is matched by every QuotaExceededError.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrRetriesExhausted is returned when the retry budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// QuotaExceededError reports a rate-limit rejection (HTTP 429).
type QuotaExceededError struct {
	Endpoint string
	Meta     Metadata
}

func (e *QuotaExceededError) Error() string {
	if e.Meta.RetryAfter != nil {
		return fmt.Sprintf("quota exceeded at %s (retry after %s)", e.Endpoint, *e.Meta.RetryAfter)
	}
	return fmt.Sprintf("quota exceeded at %s", e.Endpoint)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// Transient is implemented by errors that are worth retrying with backoff.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether err or anything it wraps declares itself
// transient.
func IsTransient(err error) bool {
	var t Transient
	return errors.As(err, &t) && t.Transient()
}

// Unanswered is implemented by errors raised before any response arrived,
// such as a refused dial. The server never saw such a request.
type Unanswered interface {
	Unanswered() bool
}

// answered reports whether a server response came back for the attempt that
// returned err. Context errors and Unanswered failures spend no quota.
func answered(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var u Unanswered
	return !(errors.As(err, &u) && u.Unanswered())
}

// quotaDelay picks how long to back off after a rejection: explicit
// Retry-After, then the reset deadline, then the fallback.
func quotaDelay(meta Metadata, now time.Time, fallback time.Duration) time.Duration {
	if meta.RetryAfter != nil {
		return *meta.RetryAfter
	}
	if meta.Reset != nil && meta.Reset.After(now) {
		return meta.Reset.Sub(now)
	}
	return fallback
}
