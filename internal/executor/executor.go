// Package executor runs market API calls through the per-market proxy
// rotation with linear-backoff retry of transport failures.
//
// The retry boundary is strict: a request that produced no response at all
// may be retried, a request that produced any response may not. Once a
// status code arrives the call provably reached the market, and replaying a
// non-idempotent call such as a purchase could spend twice.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"csgo-arbiter/internal/market"
)

var (
	// ErrRetriesExhausted wraps the last transport error after every
	// allowed attempt failed to produce a response.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrFatalResponse marks authentication and authorization rejections
	// that neither retry nor proxy rotation can fix.
	ErrFatalResponse = errors.New("fatal response")
)

// Policy controls how one request is executed.
type Policy struct {
	Timeout    time.Duration // per-attempt window, each retry gets a fresh one
	MaxRetries int           // additional attempts after the first; 0 fires exactly once
	Backoff    time.Duration // attempt n waits n * Backoff before running
}

// NoRetry returns the policy with retries disabled, for calls whose effect
// cannot be safely repeated.
func (p Policy) NoRetry() Policy {
	p.MaxRetries = 0
	return p
}

// DefaultPolicy matches the cadence the market APIs tolerate.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
}

// Request is one market API call.
type Request struct {
	Method string
	URL    string
	Query  map[string]string
	Header map[string]string
	Body   any
}

// Response is the received reply, whatever its status code.
type Response struct {
	StatusCode int
	Body       []byte
}

// Executor owns the HTTP clients: one direct client for proxy-exempt
// markets and one lazily built client per proxy endpoint, shared across
// markets so connection pools are reused.
type Executor struct {
	rotation *Rotation
	policy   Policy
	logger   zerolog.Logger

	mu      sync.Mutex
	direct  *resty.Client
	proxied map[string]*resty.Client
}

func New(rotation *Rotation, policy Policy, logger zerolog.Logger) *Executor {
	return &Executor{
		rotation: rotation,
		policy:   policy,
		logger:   logger,
		proxied:  make(map[string]*resty.Client),
	}
}

// Do runs the request under the executor's default policy.
func (e *Executor) Do(ctx context.Context, m market.Market, req Request) (*Response, error) {
	return e.DoWithPolicy(ctx, m, req, e.policy)
}

// BasePolicy returns the policy Do applies, so callers can derive variants
// of it (typically NoRetry) without re-reading configuration.
func (e *Executor) BasePolicy() Policy { return e.policy }

// DoWithPolicy runs one request under an explicit policy. Buy, withdraw and
// trade-accept calls pass a NoRetry policy: if such an attempt times out the
// market may still have honored it, and only a fresh read of market state
// can tell.
func (e *Executor) DoWithPolicy(ctx context.Context, m market.Market, req Request, p Policy) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * p.Backoff
			e.logger.Debug().
				Str("market", m.String()).
				Str("url", req.URL).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying after transport failure")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := e.attempt(ctx, m, req, p.Timeout)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return resp, fmt.Errorf("%w: %s %s returned %d", ErrFatalResponse, req.Method, req.URL, resp.StatusCode)
		}
		return resp, nil
	}

	return nil, fmt.Errorf("%w: %s %s after %d attempts: %w", ErrRetriesExhausted, req.Method, req.URL, p.MaxRetries+1, lastErr)
}

func (e *Executor) attempt(ctx context.Context, m market.Market, req Request, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client, endpoint := e.clientFor(m)

	r := client.R().SetContext(ctx)
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if len(req.Header) > 0 {
		r.SetHeaders(req.Header)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		e.logger.Warn().
			Str("market", m.String()).
			Str("url", req.URL).
			Str("proxy", endpoint).
			Err(err).
			Msg("transport failure")
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

// clientFor picks the transport for the market: direct for proxy-exempt
// markets or when no pool is configured, otherwise the client bound to the
// market's next endpoint in the rotation.
func (e *Executor) clientFor(m market.Market) (*resty.Client, string) {
	if !m.UsesProxy() || e.rotation == nil || e.rotation.Empty() {
		return e.directClient(), ""
	}
	endpoint := e.rotation.Next(m)
	return e.proxiedClient(endpoint), endpoint
}

func (e *Executor) directClient() *resty.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.direct == nil {
		e.direct = resty.New()
	}
	return e.direct
}

func (e *Executor) proxiedClient(endpoint string) *resty.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	client, ok := e.proxied[endpoint]
	if !ok {
		client = resty.New()
		client.SetProxy(endpoint)
		e.proxied[endpoint] = client
	}
	return client
}
