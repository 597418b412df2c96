package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewoodford/go-spotify-fanvote/internal/upstream"
)

type fakeFetcher struct {
	mu          sync.Mutex
	artist      upstream.Artist
	artistErr   error
	albums      []upstream.Album
	albumsErr   error
	tracks      map[string][]upstream.Track
	trackErrs   map[string]error
	trackCalls  []string
	maxParallel int
	inFlight    int
}

func (f *fakeFetcher) SearchArtist(ctx context.Context, name string) (upstream.Artist, error) {
	return f.artist, f.artistErr
}

func (f *fakeFetcher) ArtistAlbums(ctx context.Context, artistID string) ([]upstream.Album, error) {
	return f.albums, f.albumsErr
}

func (f *fakeFetcher) AlbumTracks(ctx context.Context, albumID string) ([]upstream.Track, error) {
	f.mu.Lock()
	f.trackCalls = append(f.trackCalls, albumID)
	f.inFlight++
	if f.inFlight > f.maxParallel {
		f.maxParallel = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	tracks := f.tracks[albumID]
	err := f.trackErrs[albumID]
	f.mu.Unlock()
	return tracks, err
}

func fastBatching() LoaderOption {
	return WithBatching(2, time.Millisecond, time.Millisecond)
}

func TestLoadBuildsDenormalizedCatalog(t *testing.T) {
	fetcher := &fakeFetcher{
		artist: upstream.Artist{ID: "art-1", Name: "The Band"},
		albums: []upstream.Album{
			{ID: "alb-1", Name: "Debut", AlbumType: "album"},
		},
		tracks: map[string][]upstream.Track{
			"alb-1": {
				{ID: "trk-1", Name: "Opener", Artists: []string{"The Band", "Guest"}},
			},
		},
	}

	loader := NewLoader(fetcher, "The Band", discard(), fastBatching())
	albums, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, albums, 1)
	require.Len(t, albums[0].Tracks, 1)

	track := albums[0].Tracks[0]
	assert.Equal(t, "trk-1", track.ID)
	assert.Equal(t, "The Band, Guest", track.Artist)
	assert.Equal(t, "alb-1", track.AlbumID)
	assert.Equal(t, "Debut", track.AlbumName)
}

func TestLoadOneAlbumFailureDegradesToEmptyTracks(t *testing.T) {
	fetcher := &fakeFetcher{
		artist: upstream.Artist{ID: "art-1"},
		albums: []upstream.Album{
			{ID: "alb-1", Name: "Good"},
			{ID: "alb-2", Name: "Broken"},
			{ID: "alb-3", Name: "Also Good"},
		},
		tracks: map[string][]upstream.Track{
			"alb-1": {{ID: "t1"}},
			"alb-3": {{ID: "t3"}},
		},
		trackErrs: map[string]error{
			"alb-2": errors.New("upstream hiccup"),
		},
	}

	loader := NewLoader(fetcher, "The Band", discard(), fastBatching())
	albums, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, albums, 3)

	assert.Len(t, albums[0].Tracks, 1)
	assert.Empty(t, albums[1].Tracks)
	assert.NotNil(t, albums[1].Tracks)
	assert.Len(t, albums[2].Tracks, 1)
}

func TestLoadRespectsBatchSize(t *testing.T) {
	var upAlbums []upstream.Album
	tracks := make(map[string][]upstream.Track)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		upAlbums = append(upAlbums, upstream.Album{ID: id})
		tracks[id] = []upstream.Track{{ID: id + "-t"}}
	}

	fetcher := &fakeFetcher{
		artist: upstream.Artist{ID: "art-1"},
		albums: upAlbums,
		tracks: tracks,
	}

	loader := NewLoader(fetcher, "The Band", discard(), fastBatching())
	_, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Len(t, fetcher.trackCalls, 5)
	assert.LessOrEqual(t, fetcher.maxParallel, 2)
}

func TestLoadArtistErrorAborts(t *testing.T) {
	fetcher := &fakeFetcher{artistErr: errors.New("search down")}

	loader := NewLoader(fetcher, "The Band", discard(), fastBatching())
	_, err := loader.Load(context.Background())
	assert.Error(t, err)
}
