// Package credentials persists per-user OAuth tokens and keeps them
// valid for unattended playlist sync.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ewoodford/go-spotify-fanvote/internal/store"
	"github.com/ewoodford/go-spotify-fanvote/internal/upstream"
)

// expiryBuffer is subtracted from a token's expiry before handing it
// out, so a returned token stays valid through a follow-up API call.
const expiryBuffer = 5 * time.Minute

// Common errors.
var (
	// ErrNoCredential is returned for users who never authorized sync or
	// opted out.
	ErrNoCredential = errors.New("credentials: no credential stored")

	// ErrCredentialInvalid is returned when a refresh failed; the user
	// must re-consent before sync can resume.
	ErrCredentialInvalid = errors.New("credentials: refresh failed, re-consent required")
)

// Credential is one user's stored token pair.
type Credential struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Invalid      bool      `json:"invalid"`
}

// subscriberSet is the stored set of user IDs with a credential.
type subscriberSet struct {
	UserIDs []string `json:"userIds"`
}

// Store keys.
const (
	credKeyPrefix  = "cred:"
	subscribersKey = "subscribers"
)

func credKey(userID string) string {
	return credKeyPrefix + userID
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (upstream.Token, error)
}

// Store manages stored credentials and subscriber membership.
type Store struct {
	kv        *store.Store
	refresher Refresher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a credential Store.
func NewStore(kv *store.Store, refresher Refresher, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{kv: kv, refresher: refresher, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores a credential from a fresh consent and subscribes the user.
// Saving clears any previous invalid state.
func (s *Store) Save(ctx context.Context, cred Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cred.UserID == "" || cred.AccessToken == "" || cred.RefreshToken == "" {
		return fmt.Errorf("credentials: incomplete credential for %q", cred.UserID)
	}

	cred.Invalid = false
	if err := s.kv.Set(credKey(cred.UserID), &cred, 0); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	err := store.ReadModifyWrite(s.kv, subscribersKey, 0,
		func(set *subscriberSet, _ bool) (bool, error) {
			for _, id := range set.UserIDs {
				if id == cred.UserID {
					return false, nil
				}
			}
			set.UserIDs = append(set.UserIDs, cred.UserID)
			return true, nil
		})
	if err != nil {
		return fmt.Errorf("subscribing user: %w", err)
	}

	s.logger.Info("credential stored", "userId", cred.UserID)
	return nil
}

// Remove deletes a user's credential and subscription (opt-out). The
// credential is deleted first: a removal interrupted between the two
// writes leaves a subscriber whose token lookup comes back absent, which
// the sync job already skips.
func (s *Store) Remove(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.kv.Delete(credKey(userID)); err != nil {
		return fmt.Errorf("removing credential: %w", err)
	}

	err := store.ReadModifyWrite(s.kv, subscribersKey, 0,
		func(set *subscriberSet, found bool) (bool, error) {
			if !found {
				return false, nil
			}
			kept := set.UserIDs[:0]
			for _, id := range set.UserIDs {
				if id != userID {
					kept = append(kept, id)
				}
			}
			if len(kept) == len(set.UserIDs) {
				return false, nil
			}
			set.UserIDs = kept
			return true, nil
		})
	if err != nil {
		return fmt.Errorf("unsubscribing user: %w", err)
	}

	s.logger.Info("credential removed", "userId", userID)
	return nil
}

// GetValidAccessToken returns an access token guaranteed valid for at
// least the expiry buffer, refreshing it first when needed.
//
// State machine: Valid → return cached token; NeedsRefresh (inside the
// buffer) → exchange the refresh token, persist, return; refresh failure
// → Invalid, ErrCredentialInvalid until a new consent is saved.
func (s *Store) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var cred Credential
	err := s.kv.Get(credKey(userID), &cred)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("loading credential: %w", err)
	}

	if cred.Invalid {
		return "", ErrCredentialInvalid
	}

	if s.now().Before(cred.ExpiresAt.Add(-expiryBuffer)) {
		return cred.AccessToken, nil
	}

	token, err := s.refresher.RefreshAccessToken(ctx, cred.RefreshToken)
	if err != nil {
		s.logger.Warn("token refresh failed, credential now invalid",
			"userId", userID, "error", err)
		cred.Invalid = true
		if saveErr := s.kv.Set(credKey(userID), &cred, 0); saveErr != nil {
			s.logger.Error("persisting invalid credential state failed",
				"userId", userID, "error", saveErr)
		}
		return "", fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}

	cred.AccessToken = token.AccessToken
	cred.ExpiresAt = token.Expiry
	if token.RefreshToken != "" {
		// The service only rotates refresh tokens sometimes; keep the
		// old one otherwise.
		cred.RefreshToken = token.RefreshToken
	}
	if err := s.kv.Set(credKey(userID), &cred, 0); err != nil {
		return "", fmt.Errorf("saving refreshed credential: %w", err)
	}

	s.logger.Debug("access token refreshed", "userId", userID, "expiresAt", cred.ExpiresAt)
	return cred.AccessToken, nil
}

// Subscribers returns the IDs of all users with a stored credential, in
// stable order.
func (s *Store) Subscribers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var set subscriberSet
	err := s.kv.Get(subscribersKey, &set)
	if errors.Is(err, store.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading subscribers: %w", err)
	}

	ids := append([]string(nil), set.UserIDs...)
	sort.Strings(ids)
	return ids, nil
}
