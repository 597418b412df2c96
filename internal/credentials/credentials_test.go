package credentials

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewoodford/go-spotify-fanvote/internal/store"
	"github.com/ewoodford/go-spotify-fanvote/internal/upstream"
)

type fakeRefresher struct {
	token upstream.Token
	err   error
	calls int
	got   string
}

func (f *fakeRefresher) RefreshAccessToken(ctx context.Context, refreshToken string) (upstream.Token, error) {
	f.calls++
	f.got = refreshToken
	return f.token, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, refresher Refresher, now func() time.Time) *Store {
	t.Helper()
	kv, err := store.Open(t.TempDir(), discard())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return NewStore(kv, refresher, discard(), WithClock(now))
}

func TestGetValidAccessTokenServedFromStore(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{}
	creds := newTestStore(t, refresher, func() time.Time { return now })

	require.NoError(t, creds.Save(context.Background(), Credential{
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(10 * time.Minute),
	}))

	token, err := creds.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Zero(t, refresher.calls, "a token outside the expiry buffer must not trigger a refresh")
}

func TestGetValidAccessTokenRefreshesNearExpiry(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{
		token: upstream.Token{
			AccessToken: "access-2",
			Expiry:      now.Add(time.Hour),
		},
	}
	creds := newTestStore(t, refresher, func() time.Time { return now })

	require.NoError(t, creds.Save(context.Background(), Credential{
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Minute),
	}))

	token, err := creds.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, "refresh-1", refresher.got)

	// The refreshed token is persisted and reused without another
	// refresh. The non-rotated refresh token is kept.
	token, err = creds.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 1, refresher.calls)
}

func TestGetValidAccessTokenRotatedRefreshToken(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{
		token: upstream.Token{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			Expiry:       now.Add(time.Minute),
		},
	}
	creds := newTestStore(t, refresher, func() time.Time { return now })

	require.NoError(t, creds.Save(context.Background(), Credential{
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Minute),
	}))

	// Both tokens sit inside the buffer so each call refreshes; the
	// second call must present the rotated refresh token.
	_, err := creds.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = creds.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, refresher.calls)
	assert.Equal(t, "refresh-2", refresher.got)
}

func TestGetValidAccessTokenRefreshFailureMarksInvalid(t *testing.T) {
	now := time.Now()
	refresher := &fakeRefresher{err: errors.New("revoked")}
	creds := newTestStore(t, refresher, func() time.Time { return now })

	require.NoError(t, creds.Save(context.Background(), Credential{
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(time.Minute),
	}))

	_, err := creds.GetValidAccessToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrCredentialInvalid)

	// Invalid sticks without further refresh attempts until re-consent.
	_, err = creds.GetValidAccessToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrCredentialInvalid)
	assert.Equal(t, 1, refresher.calls)

	// A new consent clears the invalid state.
	require.NoError(t, creds.Save(context.Background(), Credential{
		UserID:       "user-1",
		AccessToken:  "access-3",
		RefreshToken: "refresh-3",
		ExpiresAt:    now.Add(time.Hour),
	}))
	token, err := creds.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-3", token)
}

func TestGetValidAccessTokenUnknownUser(t *testing.T) {
	creds := newTestStore(t, &fakeRefresher{}, time.Now)

	_, err := creds.GetValidAccessToken(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestSaveRejectsIncompleteCredential(t *testing.T) {
	creds := newTestStore(t, &fakeRefresher{}, time.Now)

	for _, cred := range []Credential{
		{AccessToken: "a", RefreshToken: "r"},
		{UserID: "u", RefreshToken: "r"},
		{UserID: "u", AccessToken: "a"},
	} {
		assert.Error(t, creds.Save(context.Background(), cred))
	}
}

func TestSubscribersSetIsIdempotent(t *testing.T) {
	now := time.Now()
	creds := newTestStore(t, &fakeRefresher{}, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		require.NoError(t, creds.Save(context.Background(), Credential{
			UserID:       "user-b",
			AccessToken:  "a",
			RefreshToken: "r",
			ExpiresAt:    now.Add(time.Hour),
		}))
	}
	require.NoError(t, creds.Save(context.Background(), Credential{
		UserID:       "user-a",
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    now.Add(time.Hour),
	}))

	subs, err := creds.Subscribers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"user-a", "user-b"}, subs)
}

func TestRemoveUnsubscribesAndForgetsToken(t *testing.T) {
	now := time.Now()
	creds := newTestStore(t, &fakeRefresher{}, func() time.Time { return now })

	require.NoError(t, creds.Save(context.Background(), Credential{
		UserID:       "user-1",
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    now.Add(time.Hour),
	}))
	require.NoError(t, creds.Remove(context.Background(), "user-1"))

	_, err := creds.GetValidAccessToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrNoCredential)

	subs, err := creds.Subscribers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)

	// Removing an absent user is a no-op, not an error.
	assert.NoError(t, creds.Remove(context.Background(), "user-1"))
}
