package upstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// appAccessToken returns the cached client-credentials token, requesting
// a new one when it is within a minute of expiry.
func (c *Client) appAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.appToken.AccessToken != "" && time.Until(c.appToken.Expiry) > time.Minute {
		return c.appToken.AccessToken, nil
	}

	token, err := c.ClientCredentialsToken(ctx)
	if err != nil {
		return "", err
	}
	c.appToken = token
	return token.AccessToken, nil
}

// ClientCredentialsToken requests an application token for catalog reads.
func (c *Client) ClientCredentialsToken(ctx context.Context) (Token, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	return c.tokenRequest(ctx, "clientCredentials", form)
}

// RefreshAccessToken exchanges a user's refresh token for a new access
// token. The returned Token carries a new refresh token only when the
// service rotated it.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.tokenRequest(ctx, "refreshToken", form)
}

// tokenRequest posts to the accounts token endpoint with basic auth.
// Token calls are not paced by the catalog limiter but share the retry
// and deadline discipline of every other call.
func (c *Client) tokenRequest(ctx context.Context, op string, form url.Values) (Token, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		body, retryAfter, err := c.postForm(ctx, op, form)
		if err == nil {
			return c.parseToken(op, body)
		}
		if !errors.Is(err, ErrRateLimited) {
			return Token{}, err
		}
		lastErr = err

		wait := backoffDelay(attempt)
		if retryAfter > 0 {
			wait = retryAfter
		}
		if wait > maxRetryWait {
			wait = maxRetryWait
		}

		select {
		case <-ctx.Done():
			return Token{}, &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())}
		case <-time.After(wait):
		}
	}
	return Token{}, &Error{Op: op, Status: http.StatusTooManyRequests, Err: lastErr}
}

func (c *Client) postForm(ctx context.Context, op string, form url.Values) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.accountsURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, &Error{Op: op, Err: err}
	}

	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
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

func (c *Client) parseToken(op string, body []byte) (Token, error) {
	var resp tokenResponse
	if err := decode(op, body, &resp); err != nil {
		return Token{}, err
	}
	if resp.AccessToken == "" {
		return Token{}, &Error{Op: op, Err: fmt.Errorf("%w: missing access_token", ErrParse)}
	}
	return Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}
