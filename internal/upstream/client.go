// Package upstream provides a low-level client for the Spotify catalog,
// accounts and playlist HTTP APIs, with rate-limit backoff and hard
// per-call deadlines.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultAccountsURL = "https://accounts.spotify.com"
	defaultAPIURL      = "https://api.spotify.com/v1"
	userAgent          = "go-spotify-fanvote/1.0"

	// callTimeout is the hard deadline for a single HTTP call, including
	// any retry waits.
	callTimeout = 10 * time.Second

	// maxRetries is how many times a rate-limited call is retried.
	maxRetries = 2

	// maxRetryWait caps the wait suggested by Retry-After so one slow
	// upstream cannot cascade into request pileup.
	maxRetryWait = 5 * time.Second
)

// Client talks to the upstream service.
type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger

	accountsURL string
	apiURL      string

	// Cached client-credentials token for catalog reads.
	mu       sync.Mutex
	appToken Token
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURLs overrides the accounts and API base URLs, for tests.
func WithBaseURLs(accounts, api string) Option {
	return func(c *Client) {
		c.accountsURL = accounts
		c.apiURL = api
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the pacing applied to catalog calls.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a Client with the given application credentials.
func New(clientID, clientSecret string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: callTimeout},
		limiter:      rate.NewLimiter(rate.Limit(8), 8),
		logger:       logger,
		accountsURL:  defaultAccountsURL,
		apiURL:       defaultAPIURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs an authenticated GET against the API, with rate-limit
// retry and the per-call deadline.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	token, err := c.appAccessToken(ctx)
	if err != nil {
		return err
	}

	reqURL := c.apiURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		body, retryAfter, err := c.doOnce(ctx, op, http.MethodGet, reqURL, token)
		if err == nil {
			return decode(op, body, v)
		}
		if !errors.Is(err, ErrRateLimited) {
			return err
		}
		lastErr = err

		wait := backoffDelay(attempt)
		if retryAfter > 0 {
			wait = retryAfter
		}
		if wait > maxRetryWait {
			wait = maxRetryWait
		}
		c.logger.Warn("rate limited, backing off", "op", op, "wait", wait, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())}
		case <-time.After(wait):
		}
	}

	return &Error{Op: op, Status: http.StatusTooManyRequests, Err: lastErr}
}

// doOnce performs one HTTP exchange. On 429 it returns ErrRateLimited and
// the Retry-After hint (zero when absent).
func (c *Client) doOnce(ctx context.Context, op, method, reqURL, token string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, 0, &Error{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, 0, &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
		}
		return nil, 0, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &Error{Op: op, Err: fmt.Errorf("reading body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), ErrRateLimited
	default:
		return nil, 0, &Error{
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body))),
		}
	}
}

// decode unmarshals a response body, mapping empty or malformed bodies to
// ErrParse rather than silently producing zero values.
func decode(op string, body []byte, v any) error {
	if len(body) == 0 {
		return &Error{Op: op, Err: fmt.Errorf("%w: empty body", ErrParse)}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrParse, err)}
	}
	return nil
}

// backoffDelay is the exponential fallback used when no Retry-After hint
// is present: 1s, 2s, 4s.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// parseRetryAfter reads a Retry-After header value in seconds.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
