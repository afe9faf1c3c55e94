package failover

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport covers dial, write, read, timeout and 5xx failures.
	ErrTransport = errors.New("transport error")

	// ErrMalformedResponse means the endpoint answered without a usable result.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrAllEndpointsExhausted is matched by every ExhaustedError.
	ErrAllEndpointsExhausted = errors.New("all endpoints exhausted")

	// ErrNoEndpoints is returned when Do is called with an empty list.
	ErrNoEndpoints = errors.New("no endpoints configured")
)

// TransportError wraps a network-level failure for one endpoint.
type TransportError struct {
	Endpoint   string
	Err        error
	NoResponse bool // the request never reached the server
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error at %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// Transient marks transport failures as retryable by the rate limiter.
func (e *TransportError) Transient() bool { return true }

// Unanswered keeps failed dials from spending rate-limit quota.
func (e *TransportError) Unanswered() bool { return e.NoResponse }

// MalformedError describes why a response could not be used.
type MalformedError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response from %s: %s: %v", e.Endpoint, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed response from %s: %s", e.Endpoint, e.Reason)
}

func (e *MalformedError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedResponse, e.Err}
	}
	return []error{ErrMalformedResponse}
}

// Attempt records the outcome of one endpoint attempt.
type Attempt struct {
	Endpoint string
	Err      error // nil on success
}

// ExhaustedError is returned when every endpoint failed. It wraps the last
// failure so callers can inspect it with errors.Is / errors.As.
type ExhaustedError struct {
	Attempts []Attempt
}

// Last returns the final attempt's error.
func (e *ExhaustedError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

func (e *ExhaustedError) Error() string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Endpoint
	}
	return fmt.Sprintf("all %d endpoints failed [%s], last: %v",
		len(e.Attempts), strings.Join(names, ", "), e.Last())
}

func (e *ExhaustedError) Unwrap() []error {
	if last := e.Last(); last != nil {
		return []error{ErrAllEndpointsExhausted, last}
	}
	return []error{ErrAllEndpointsExhausted}
}
