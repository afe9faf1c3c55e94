package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// epochThreshold separates delta-seconds reset values from absolute epoch
// seconds. No quota window is longer than ~31 years.
const epochThreshold = 1e9

// Header names in priority order. Providers disagree on naming.
var (
	limitHeaders     = []string{"X-RateLimit-Limit", "RateLimit-Limit", "X-Rate-Limit-Limit"}
	remainingHeaders = []string{"X-RateLimit-Remaining", "RateLimit-Remaining", "X-Rate-Limit-Remaining"}
	resetHeaders     = []string{"X-RateLimit-Reset", "RateLimit-Reset", "X-Rate-Limit-Reset"}
)

// QuotaState is a point-in-time copy of the limiter's quota model.
type QuotaState struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Reserved  int // requests admitted but not yet released
}

// Metadata is the quota information carried by one response.
// Nil fields were absent or unparseable and must not touch state.
type Metadata struct {
	Limit      *int
	Remaining  *int
	Reset      *time.Time
	RetryAfter *time.Duration
}

// IsEmpty reports whether no quota field was present.
func (m Metadata) IsEmpty() bool {
	return m.Limit == nil && m.Remaining == nil && m.Reset == nil && m.RetryAfter == nil
}

// ParseHeaders extracts quota metadata from HTTP response headers.
func ParseHeaders(h http.Header, now time.Time) Metadata {
	var m Metadata

	if v, ok := firstInt(h, limitHeaders); ok && v > 0 {
		m.Limit = &v
	}
	if v, ok := firstInt(h, remainingHeaders); ok {
		if v < 0 {
			v = 0
		}
		m.Remaining = &v
	}
	if raw := first(h, resetHeaders); raw != "" {
		if t, ok := parseReset(raw, now); ok {
			m.Reset = &t
		}
	}
	if raw := strings.TrimSpace(h.Get("Retry-After")); raw != "" {
		if d, ok := parseRetryAfter(raw, now); ok {
			m.RetryAfter = &d
		}
	}
	return m
}

func first(h http.Header, names []string) string {
	for _, n := range names {
		if v := strings.TrimSpace(h.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

func firstInt(h http.Header, names []string) (int, bool) {
	raw := first(h, names)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseReset accepts delta seconds or epoch seconds, integer or fractional.
func parseReset(raw string, now time.Time) (time.Time, bool) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return time.Time{}, false
	}
	if f > epochThreshold {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)), true
	}
	return now.Add(time.Duration(f * float64(time.Second))), true
}

// parseRetryAfter accepts delay-seconds or an HTTP-date.
func parseRetryAfter(raw string, now time.Time) (time.Duration, bool) {
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return 0, false
	}
	d := t.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
