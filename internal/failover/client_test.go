package failover

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-token-sync/internal/ratelimit"
)

type callLog struct {
	mu    sync.Mutex
	order []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

type fakeEndpoint struct {
	name    string
	limited bool
	log     *callLog
	fn      func(ctx context.Context) (*Response, error)
}

func (f *fakeEndpoint) Name() string      { return f.name }
func (f *fakeEndpoint) RateLimited() bool { return f.limited }

func (f *fakeEndpoint) Call(ctx context.Context, _ Request) (*Response, error) {
	if f.log != nil {
		f.log.add(f.name)
	}
	return f.fn(ctx)
}

func ok(payload string) func(context.Context) (*Response, error) {
	return func(context.Context) (*Response, error) {
		return &Response{Payload: json.RawMessage(payload)}, nil
	}
}

func fail(err error) func(context.Context) (*Response, error) {
	return func(context.Context) (*Response, error) { return nil, err }
}

type price struct {
	Price string `json:"price"`
}

func decodePrice(raw json.RawMessage) (price, error) {
	var p price
	if err := json.Unmarshal(raw, &p); err != nil {
		return price{}, err
	}
	if p.Price == "" {
		return price{}, errors.New("price missing")
	}
	return p, nil
}

func TestDo_ThirdEndpointWins(t *testing.T) {
	log := &callLog{}
	endpoints := []Endpoint{
		&fakeEndpoint{name: "a", log: log, fn: fail(&TransportError{Endpoint: "a", Err: errors.New("refused")})},
		&fakeEndpoint{name: "b", log: log, fn: ok(`{"unexpected":true}`)},
		&fakeEndpoint{name: "c", log: log, fn: ok(`{"price":"1.25"}`)},
	}
	c := NewClient(Options{})

	res, err := Do(context.Background(), c, endpoints, Request{Command: "ticker"}, decodePrice)

	require.NoError(t, err)
	assert.Equal(t, "1.25", res.Value.Price)
	assert.Equal(t, "c", res.Endpoint)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []string{"a", "b", "c"}, log.order)
}

func TestDo_FirstSuccessStops(t *testing.T) {
	log := &callLog{}
	endpoints := []Endpoint{
		&fakeEndpoint{name: "a", log: log, fn: ok(`{"price":"2"}`)},
		&fakeEndpoint{name: "b", log: log, fn: ok(`{"price":"3"}`)},
	}

	res, err := Do(context.Background(), NewClient(Options{}), endpoints, Request{}, decodePrice)

	require.NoError(t, err)
	assert.Equal(t, "2", res.Value.Price)
	assert.Equal(t, []string{"a"}, log.order)
}

func TestDo_AllFail(t *testing.T) {
	lastErr := errors.New("node unavailable")
	endpoints := []Endpoint{
		&fakeEndpoint{name: "a", fn: fail(&TransportError{Endpoint: "a", Err: errors.New("refused")})},
		&fakeEndpoint{name: "b", fn: ok(`null`)},
		&fakeEndpoint{name: "c", fn: fail(&TransportError{Endpoint: "c", Err: lastErr})},
	}

	_, err := Do(context.Background(), NewClient(Options{}), endpoints, Request{}, decodePrice)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllEndpointsExhausted)
	assert.ErrorIs(t, err, lastErr)
	assert.ErrorIs(t, err, ErrTransport)

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	require.Len(t, ex.Attempts, 3)
	assert.ErrorIs(t, ex.Attempts[1].Err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "node unavailable")
}

func TestDo_NoEndpoints(t *testing.T) {
	_, err := Do(context.Background(), NewClient(Options{}), nil, Request{}, decodePrice)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestDo_AttemptTimeoutCancelsOnlyThatAttempt(t *testing.T) {
	slow := &fakeEndpoint{name: "slow", fn: func(ctx context.Context) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fast := &fakeEndpoint{name: "fast", fn: ok(`{"price":"9"}`)}
	c := NewClient(Options{AttemptTimeout: 30 * time.Millisecond})

	res, err := Do(context.Background(), c, []Endpoint{slow, fast}, Request{}, decodePrice)

	require.NoError(t, err)
	assert.Equal(t, "fast", res.Endpoint)
	assert.Equal(t, 2, res.Attempts)
}

func TestDo_TimeoutClassifiedAsTransport(t *testing.T) {
	slow := &fakeEndpoint{name: "slow", fn: func(ctx context.Context) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := NewClient(Options{AttemptTimeout: 10 * time.Millisecond})

	_, err := Do(context.Background(), c, []Endpoint{slow}, Request{}, decodePrice)

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_ParentCancelStopsWalk(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	log := &callLog{}
	first := &fakeEndpoint{name: "a", log: log, fn: func(context.Context) (*Response, error) {
		cancel()
		return nil, errors.New("aborted")
	}}
	second := &fakeEndpoint{name: "b", log: log, fn: ok(`{"price":"1"}`)}

	_, err := Do(ctx, NewClient(Options{}), []Endpoint{first, second}, Request{}, decodePrice)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, log.order)
}

func TestDo_RateLimitedRoutesThroughLimiter(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Options{Limit: 10, Window: time.Hour})
	remaining := 4
	limited := &fakeEndpoint{name: "api", limited: true, fn: func(context.Context) (*Response, error) {
		return &Response{Payload: json.RawMessage(`{"price":"5"}`), Quota: ratelimit.Metadata{Remaining: &remaining}}, nil
	}}
	plain := &fakeEndpoint{name: "node", fn: ok(`{"price":"6"}`)}
	c := NewClient(Options{Limiter: limiter})

	_, err := Do(context.Background(), c, []Endpoint{plain}, Request{}, decodePrice)
	require.NoError(t, err)
	assert.Equal(t, 10, limiter.State().Remaining, "non-limited endpoint bypasses limiter")

	res, err := Do(context.Background(), c, []Endpoint{limited}, Request{}, decodePrice)
	require.NoError(t, err)
	assert.Equal(t, "5", res.Value.Price)
	assert.Equal(t, 4, limiter.State().Remaining)
}

func TestDo_QuotaExceededRetriesSameEndpoint(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Options{Limit: 10, Window: time.Hour})
	wait := 20 * time.Millisecond
	var calls int
	api := &fakeEndpoint{name: "api", limited: true, fn: func(context.Context) (*Response, error) {
		calls++
		if calls == 1 {
			return nil, &ratelimit.QuotaExceededError{Endpoint: "api", Meta: ratelimit.Metadata{RetryAfter: &wait}}
		}
		return &Response{Payload: json.RawMessage(`{"price":"7"}`)}, nil
	}}
	backup := &fakeEndpoint{name: "backup", fn: ok(`{"price":"8"}`)}

	res, err := Do(context.Background(), NewClient(Options{Limiter: limiter}), []Endpoint{api, backup}, Request{}, decodePrice)

	require.NoError(t, err)
	assert.Equal(t, "api", res.Endpoint)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 2, calls)
}
