// Package marketdata reads token tickers from quota-limited HTTP data APIs.
package marketdata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"xrpl-token-sync/internal/failover"
	"xrpl-token-sync/internal/ratelimit"
)

// Default configuration values.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "xrpl-token-sync/1.0"
	maxBodyBytes     = 4 << 20
)

// CommandTicker fetches price and volume for one token.
const CommandTicker = "ticker"

// APIError is a non-retryable HTTP error response.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("data api %s error %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Endpoint is one data API base URL. It implements failover.Endpoint and is
// always routed through the rate limiter.
type Endpoint struct {
	baseURL    string
	name       string
	apiKey     string
	userAgent  string
	httpClient *http.Client
}

var _ failover.Endpoint = (*Endpoint)(nil)

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(e *Endpoint) {
		e.apiKey = key
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Endpoint) {
		e.httpClient = c
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(e *Endpoint) {
		e.userAgent = ua
	}
}

// NewEndpoint creates a data API endpoint.
func NewEndpoint(baseURL string, opts ...Option) (*Endpoint, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse data api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("data api url %q: scheme must be http or https", baseURL)
	}

	e := &Endpoint{
		baseURL:    strings.TrimRight(baseURL, "/"),
		name:       u.Host,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Name returns the API host.
func (e *Endpoint) Name() string { return e.name }

// RateLimited is always true for data APIs.
func (e *Endpoint) RateLimited() bool { return true }

// Call performs the GET request described by req.
func (e *Endpoint) Call(ctx context.Context, req failover.Request) (*failover.Response, error) {
	path, err := e.path(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", e.userAgent)
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, &failover.TransportError{Endpoint: e.name, Err: err, NoResponse: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &failover.TransportError{Endpoint: e.name, Err: fmt.Errorf("read response: %w", err)}
	}
	meta := ratelimit.ParseHeaders(resp.Header, time.Now())

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ratelimit.QuotaExceededError{Endpoint: e.name, Meta: meta}
	case resp.StatusCode >= 500:
		return nil, &failover.TransportError{Endpoint: e.name, Err: e.apiError(resp, body)}
	case resp.StatusCode >= 400:
		return nil, e.apiError(resp, body)
	}

	return &failover.Response{Payload: body, Quota: meta}, nil
}

func (e *Endpoint) apiError(resp *http.Response, body []byte) *APIError {
	return &APIError{
		Endpoint:   e.name,
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Body:       body,
	}
}

func (e *Endpoint) path(req failover.Request) (string, error) {
	switch req.Command {
	case CommandTicker:
		issuer, _ := req.Params["issuer"].(string)
		currency, _ := req.Params["currency"].(string)
		if issuer == "" || currency == "" {
			return "", fmt.Errorf("ticker request needs issuer and currency")
		}
		return "/ticker/" + url.PathEscape(currency) + "." + url.PathEscape(issuer), nil
	default:
		return "", fmt.Errorf("unsupported command %q", req.Command)
	}
}
