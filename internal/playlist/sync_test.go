package playlist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewoodford/go-spotify-fanvote/internal/credentials"
	"github.com/ewoodford/go-spotify-fanvote/internal/store"
	"github.com/ewoodford/go-spotify-fanvote/internal/upstream"
	"github.com/ewoodford/go-spotify-fanvote/internal/voting"
)

type fakeSyncer struct {
	userID      string
	existingID  string
	created     bool
	tracks      []string
	description string

	currentUserErr error
	replaceErr     error
	descriptionErr error
}

func (f *fakeSyncer) CurrentUserID(ctx context.Context) (string, error) {
	return f.userID, f.currentUserErr
}

func (f *fakeSyncer) FindPlaylistByName(ctx context.Context, name string) (string, bool, error) {
	if f.existingID != "" {
		return f.existingID, true, nil
	}
	return "", false, nil
}

func (f *fakeSyncer) CreatePlaylist(ctx context.Context, userID, name, description string) (string, error) {
	f.created = true
	f.existingID = "pl-" + f.userID
	return f.existingID, nil
}

func (f *fakeSyncer) ReplacePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.tracks = trackIDs
	return nil
}

func (f *fakeSyncer) UpdatePlaylistDescription(ctx context.Context, playlistID, description string) error {
	if f.descriptionErr != nil {
		return f.descriptionErr
	}
	f.description = description
	return nil
}

type failingRefresher struct{}

func (failingRefresher) RefreshAccessToken(ctx context.Context, refreshToken string) (upstream.Token, error) {
	return upstream.Token{}, errors.New("revoked")
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires a real store, credential store and aggregator to the job
// so only the playlist surface is faked.
type fixture struct {
	kv      *store.Store
	creds   *credentials.Store
	agg     *voting.Aggregator
	syncers map[string]*fakeSyncer // keyed by access token
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv, err := store.Open(t.TempDir(), discard())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	return &fixture{
		kv:      kv,
		creds:   credentials.NewStore(kv, failingRefresher{}, discard()),
		agg:     voting.NewAggregator(kv, discard()),
		syncers: make(map[string]*fakeSyncer),
	}
}

func (fx *fixture) newJob(t *testing.T, opts ...Option) *Job {
	t.Helper()
	factory := func(ctx context.Context, accessToken string) Syncer {
		s, ok := fx.syncers[accessToken]
		if !ok {
			t.Fatalf("no fake syncer for token %q", accessToken)
		}
		return s
	}
	return NewJob(fx.creds, fx.agg, fx.kv, factory, "Fan Vote Top Tracks", discard(), opts...)
}

func (fx *fixture) addUser(t *testing.T, userID string, expiresAt time.Time) *fakeSyncer {
	t.Helper()
	token := "access-" + userID
	require.NoError(t, fx.creds.Save(context.Background(), credentials.Credential{
		UserID:       userID,
		AccessToken:  token,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    expiresAt,
	}))
	s := &fakeSyncer{userID: userID}
	fx.syncers[token] = s
	return s
}

func (fx *fixture) vote(t *testing.T, trackID string, points int) {
	t.Helper()
	require.NoError(t, fx.agg.RecordPoints(context.Background(), trackID, points, voting.Display{}))
}

func TestRunIsolatesPerUserFailures(t *testing.T) {
	fx := newFixture(t)
	fx.vote(t, "trk-1", 5)

	future := time.Now().Add(time.Hour)
	okUser := fx.addUser(t, "user-ok", future)
	failUser := fx.addUser(t, "user-fail", future)
	failUser.replaceErr = errors.New("upstream rejected write")

	// An expired credential whose refresh fails must be skipped, not
	// counted as a failure.
	fx.addUser(t, "user-skip", time.Now().Add(-time.Hour))

	job := fx.newJob(t)
	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.SkippedNoToken)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"trk-1"}, okUser.tracks)
}

func TestRunEmptyLeaderboardDoesNothing(t *testing.T) {
	fx := newFixture(t)
	syncer := fx.addUser(t, "user-1", time.Now().Add(time.Hour))

	job := fx.newJob(t)
	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &Report{}, report)
	assert.Nil(t, syncer.tracks)
	assert.False(t, syncer.created)
}

func TestSyncWritesLeaderboardOrderTruncated(t *testing.T) {
	fx := newFixture(t)
	fx.vote(t, "trk-low", 1)
	fx.vote(t, "trk-high", 5)
	fx.vote(t, "trk-mid", 3)

	syncer := fx.addUser(t, "user-1", time.Now().Add(time.Hour))

	job := fx.newJob(t, WithTopN(2))
	status, err := job.SyncUser(context.Background(), "user-1", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"trk-high", "trk-mid"}, syncer.tracks)
	assert.Equal(t, 2, status.TrackCount)
	assert.Equal(t, syncer.existingID, status.PlaylistID)
	assert.True(t, syncer.created)
	assert.Contains(t, syncer.description, "Community top 2")
}

func TestSyncReusesExistingPlaylist(t *testing.T) {
	fx := newFixture(t)
	fx.vote(t, "trk-1", 1)

	syncer := fx.addUser(t, "user-1", time.Now().Add(time.Hour))
	syncer.existingID = "pl-existing"

	job := fx.newJob(t)
	status, err := job.SyncUser(context.Background(), "user-1", false)
	require.NoError(t, err)

	assert.False(t, syncer.created)
	assert.Equal(t, "pl-existing", status.PlaylistID)
}

func TestSyncUserHonorsCooldown(t *testing.T) {
	fx := newFixture(t)
	fx.vote(t, "trk-1", 1)
	syncer := fx.addUser(t, "user-1", time.Now().Add(24*time.Hour))

	now := time.Now()
	job := fx.newJob(t, WithClock(func() time.Time { return now }))

	first, err := job.SyncUser(context.Background(), "user-1", false)
	require.NoError(t, err)

	// A retry inside the cooldown returns the previous status.
	status, err := job.SyncUser(context.Background(), "user-1", false)
	assert.ErrorIs(t, err, ErrSyncTooRecent)
	require.NotNil(t, status)
	assert.Equal(t, first.LastSyncedAt, status.LastSyncedAt)

	// Force bypasses the cooldown.
	_, err = job.SyncUser(context.Background(), "user-1", true)
	require.NoError(t, err)

	// Past the cooldown it syncs again.
	now = now.Add(DefaultSyncCooldown + time.Minute)
	_, err = job.SyncUser(context.Background(), "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"trk-1"}, syncer.tracks)
}

func TestGetStatusNeverSynced(t *testing.T) {
	fx := newFixture(t)

	job := fx.newJob(t)
	status, err := job.GetStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestDescriptionFailureDoesNotFailSync(t *testing.T) {
	fx := newFixture(t)
	fx.vote(t, "trk-1", 3)

	syncer := fx.addUser(t, "user-1", time.Now().Add(time.Hour))
	syncer.descriptionErr = errors.New("description too long")

	job := fx.newJob(t)
	status, err := job.SyncUser(context.Background(), "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, status.TrackCount)
	assert.Equal(t, []string{"trk-1"}, syncer.tracks)
}
