// Package spotify provides a wrapper around the Spotify Web API for the
// operations performed on behalf of a user.
package spotify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

// User is the authenticated user's profile.
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// Client wraps the Spotify API client with convenience methods.
type Client struct {
	api *spotify.Client
}

// New creates a Spotify client wrapper over an already authenticated
// underlying client.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

// NewWithToken creates a client from a bare access token. Token refresh
// is handled by the credential store, so the token source is static; the
// underlying client retries rate-limited calls on its own.
func NewWithToken(ctx context.Context, accessToken string) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	httpClient := oauth2.NewClient(ctx, src)
	return New(spotify.New(httpClient, spotify.WithRetry(true)))
}

// NewWithHTTPClient creates a client over a custom HTTP client, for tests.
func NewWithHTTPClient(httpClient *http.Client, opts ...spotify.ClientOption) *Client {
	return New(spotify.New(httpClient, opts...))
}

// CurrentUserID returns the authenticated user's Spotify ID.
func (c *Client) CurrentUserID(ctx context.Context) (string, error) {
	user, err := c.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// CurrentUser returns the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return User{}, fmt.Errorf("getting current user: %w", err)
	}
	return User{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
	}, nil
}
