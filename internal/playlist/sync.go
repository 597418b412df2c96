// Package playlist pushes the community leaderboard into subscribers'
// personal playlists.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ewoodford/go-spotify-fanvote/internal/credentials"
	"github.com/ewoodford/go-spotify-fanvote/internal/store"
	"github.com/ewoodford/go-spotify-fanvote/internal/voting"
)

// DefaultTopN is how many leaderboard tracks are synced.
const DefaultTopN = 25

// DefaultSyncCooldown is the minimum time between on-demand syncs for
// one user; the scheduled job bypasses it.
const DefaultSyncCooldown = 10 * time.Minute

// ErrSyncTooRecent is returned when an on-demand sync is attempted
// within the cooldown period.
var ErrSyncTooRecent = errors.New("playlist: sync attempted too recently")

const statusKeyPrefix = "playlist:"

func statusKey(userID string) string {
	return statusKeyPrefix + userID
}

// Status records the outcome of a user's most recent playlist sync.
type Status struct {
	UserID       string    `json:"userId"`
	PlaylistID   string    `json:"playlistId"`
	TrackCount   int       `json:"trackCount"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

// Report summarizes one batch run.
type Report struct {
	Updated        int `json:"updated"`
	SkippedNoToken int `json:"skippedNoToken"`
	Failed         int `json:"failed"`
}

// Syncer is the per-user playlist surface the job drives.
type Syncer interface {
	CurrentUserID(ctx context.Context) (string, error)
	FindPlaylistByName(ctx context.Context, name string) (string, bool, error)
	CreatePlaylist(ctx context.Context, userID, name, description string) (string, error)
	ReplacePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error
	UpdatePlaylistDescription(ctx context.Context, playlistID, description string) error
}

// ClientFactory builds a Syncer from a user's access token.
type ClientFactory func(ctx context.Context, accessToken string) Syncer

// Job syncs the leaderboard into every subscriber's playlist.
type Job struct {
	creds        *credentials.Store
	agg          *voting.Aggregator
	kv           *store.Store
	newClient    ClientFactory
	playlistName string
	topN         int
	cooldown     time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Job.
type Option func(*Job)

// WithTopN sets how many leaderboard tracks are synced.
func WithTopN(n int) Option {
	return func(j *Job) {
		j.topN = n
	}
}

// WithCooldown sets the minimum time between on-demand syncs per user.
func WithCooldown(d time.Duration) Option {
	return func(j *Job) {
		j.cooldown = d
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		j.now = now
	}
}

// NewJob creates the sync job.
func NewJob(creds *credentials.Store, agg *voting.Aggregator, kv *store.Store, newClient ClientFactory, playlistName string, logger *slog.Logger, opts ...Option) *Job {
	j := &Job{
		creds:        creds,
		agg:          agg,
		kv:           kv,
		newClient:    newClient,
		playlistName: playlistName,
		topN:         DefaultTopN,
		cooldown:     DefaultSyncCooldown,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run syncs every subscriber. Per-user failures are isolated: one user's
// failure never aborts the batch. A missing or invalid token skips the
// user without counting as a failure.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	subscribers, err := j.creds.Subscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing subscribers: %w", err)
	}

	top, err := j.agg.TopN(ctx, j.topN)
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}
	if len(top) == 0 {
		j.logger.Info("leaderboard empty, nothing to sync")
		return &Report{}, nil
	}

	report := &Report{}
	for _, userID := range subscribers {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		err := j.syncOne(ctx, userID, top)
		switch {
		case err == nil:
			report.Updated++
		case errors.Is(err, credentials.ErrNoCredential), errors.Is(err, credentials.ErrCredentialInvalid):
			j.logger.Info("skipping subscriber without usable token", "userId", userID)
			report.SkippedNoToken++
		default:
			j.logger.Error("playlist sync failed for user", "userId", userID, "error", err)
			report.Failed++
		}
	}

	j.logger.Info("playlist sync finished",
		"updated", report.Updated,
		"skippedNoToken", report.SkippedNoToken,
		"failed", report.Failed,
	)
	return report, nil
}

// SyncUser syncs one user on demand, honoring the cooldown unless force
// is set. Returns the resulting status.
func (j *Job) SyncUser(ctx context.Context, userID string, force bool) (*Status, error) {
	if !force {
		status, err := j.GetStatus(ctx, userID)
		if err != nil {
			return nil, err
		}
		if status != nil && j.now().Sub(status.LastSyncedAt) < j.cooldown {
			return status, ErrSyncTooRecent
		}
	}

	top, err := j.agg.TopN(ctx, j.topN)
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}

	if err := j.syncOne(ctx, userID, top); err != nil {
		return nil, err
	}
	return j.GetStatus(ctx, userID)
}

// GetStatus returns a user's last sync status, or nil when the user has
// never been synced.
func (j *Job) GetStatus(ctx context.Context, userID string) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var status Status
	err := j.kv.Get(statusKey(userID), &status)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading sync status: %w", err)
	}
	return &status, nil
}

func (j *Job) syncOne(ctx context.Context, userID string, top []voting.TrackResult) error {
	token, err := j.creds.GetValidAccessToken(ctx, userID)
	if err != nil {
		return err
	}

	client := j.newClient(ctx, token)

	spotifyUserID, err := client.CurrentUserID(ctx)
	if err != nil {
		return fmt.Errorf("resolving user: %w", err)
	}

	description := fmt.Sprintf("Community top %d, updated %s.",
		len(top), j.now().UTC().Format("2006-01-02 15:04 MST"))

	playlistID, found, err := client.FindPlaylistByName(ctx, j.playlistName)
	if err != nil {
		return fmt.Errorf("locating playlist: %w", err)
	}
	if !found {
		playlistID, err = client.CreatePlaylist(ctx, spotifyUserID, j.playlistName, description)
		if err != nil {
			return fmt.Errorf("creating playlist: %w", err)
		}
	}

	trackIDs := make([]string, len(top))
	for i, tr := range top {
		trackIDs[i] = tr.TrackID
	}

	if err := client.ReplacePlaylistTracks(ctx, playlistID, trackIDs); err != nil {
		return fmt.Errorf("writing playlist tracks: %w", err)
	}
	if err := client.UpdatePlaylistDescription(ctx, playlistID, description); err != nil {
		// Track contents made it; a stale description is not worth
		// failing the user over.
		j.logger.Warn("updating playlist description failed", "userId", userID, "error", err)
	}

	status := Status{
		UserID:       userID,
		PlaylistID:   playlistID,
		TrackCount:   len(trackIDs),
		LastSyncedAt: j.now(),
	}
	if err := j.kv.Set(statusKey(userID), &status, 0); err != nil {
		return fmt.Errorf("saving sync status: %w", err)
	}
	return nil
}
