// Package failover issues one request against an ordered list of endpoints
// and returns the first usable result.
package failover

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"xrpl-token-sync/internal/observability"
	"xrpl-token-sync/internal/ratelimit"
)

// DefaultAttemptTimeout bounds a single endpoint attempt.
const DefaultAttemptTimeout = 10 * time.Second

// Request describes one command. Endpoints translate it to their wire format.
type Request struct {
	Command string
	Params  map[string]any
}

// Response is the structured result of a successful call.
type Response struct {
	Payload json.RawMessage
	Quota   ratelimit.Metadata
}

// Endpoint is one source able to answer a Request.
type Endpoint interface {
	Name() string
	// RateLimited reports whether calls must go through the shared limiter.
	RateLimited() bool
	Call(ctx context.Context, req Request) (*Response, error)
}

// Options configures a Client.
type Options struct {
	AttemptTimeout time.Duration
	Limiter        *ratelimit.Limiter // used for RateLimited endpoints; nil bypasses
	Logger         zerolog.Logger
	Metrics        *observability.Metrics
}

// Client runs requests with ordered failover.
type Client struct {
	attemptTimeout time.Duration
	limiter        *ratelimit.Limiter
	logger         zerolog.Logger
	metrics        *observability.Metrics
}

// NewClient creates a failover client.
func NewClient(opts Options) *Client {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Client{
		attemptTimeout: opts.AttemptTimeout,
		limiter:        opts.Limiter,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
}

// Result is a decoded response and where it came from.
type Result[T any] struct {
	Value    T
	Endpoint string
	Attempts int
}

// Do tries endpoints strictly in order. The first endpoint whose response
// decodes successfully wins. Every failure is logged and the next endpoint is
// tried; when all fail an *ExhaustedError naming the last failure is returned.
// Cancellation of ctx stops the walk immediately.
func Do[T any](ctx context.Context, c *Client, endpoints []Endpoint, req Request, decode func(json.RawMessage) (T, error)) (Result[T], error) {
	var zero Result[T]
	if len(endpoints) == 0 {
		return zero, ErrNoEndpoints
	}

	attempts := make([]Attempt, 0, len(endpoints))
	for i, ep := range endpoints {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		start := time.Now()
		v, err := callAndDecode(ctx, c, ep, req, decode)
		c.metrics.RecordEndpointAttempt(ep.Name(), outcome(err), time.Since(start))
		if err == nil {
			return Result[T]{Value: v, Endpoint: ep.Name(), Attempts: i + 1}, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		attempts = append(attempts, Attempt{Endpoint: ep.Name(), Err: err})
		c.logger.Warn().
			Err(err).
			Str("endpoint", ep.Name()).
			Int("attempt", i+1).
			Str("command", req.Command).
			Msg("endpoint attempt failed")
	}

	return zero, &ExhaustedError{Attempts: attempts}
}

func callAndDecode[T any](ctx context.Context, c *Client, ep Endpoint, req Request, decode func(json.RawMessage) (T, error)) (T, error) {
	var zero T

	resp, err := c.call(ctx, ep, req)
	if err != nil {
		return zero, err
	}
	if resp == nil || len(resp.Payload) == 0 || string(resp.Payload) == "null" {
		return zero, &MalformedError{Endpoint: ep.Name(), Reason: "missing result"}
	}

	v, err := decode(resp.Payload)
	if err != nil {
		return zero, &MalformedError{Endpoint: ep.Name(), Reason: "decode", Err: err}
	}
	return v, nil
}

// call performs one endpoint attempt, routed through the limiter when the
// endpoint is rate limited. The attempt timeout covers the call itself, not
// time spent waiting for quota.
func (c *Client) call(ctx context.Context, ep Endpoint, req Request) (*Response, error) {
	if !ep.RateLimited() || c.limiter == nil {
		return c.attempt(ctx, ep, req)
	}

	var resp *Response
	err := c.limiter.Do(ctx, func(ctx context.Context) (ratelimit.Metadata, error) {
		r, err := c.attempt(ctx, ep, req)
		if err != nil {
			var qe *ratelimit.QuotaExceededError
			if errors.As(err, &qe) {
				return qe.Meta, err
			}
			return ratelimit.Metadata{}, err
		}
		resp = r
		return r.Quota, nil
	})
	return resp, err
}

func (c *Client) attempt(ctx context.Context, ep Endpoint, req Request) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	resp, err := ep.Call(actx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTransport) {
			return nil, &TransportError{Endpoint: ep.Name(), Err: err}
		}
		return nil, err
	}
	return resp, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ratelimit.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrTransport), errors.Is(err, ratelimit.ErrRetriesExhausted):
		return "transport"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
