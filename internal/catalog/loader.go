package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ewoodford/go-spotify-fanvote/internal/upstream"
)

const (
	// Albums are fetched in bounded batches to stay under upstream rate
	// limits: parallel workers within a batch, sequential batches.
	defaultBatchSize   = 8
	defaultItemStagger = 150 * time.Millisecond
	defaultBatchPause  = 500 * time.Millisecond
)

// Fetcher is the part of the upstream client the loader needs.
type Fetcher interface {
	SearchArtist(ctx context.Context, name string) (upstream.Artist, error)
	ArtistAlbums(ctx context.Context, artistID string) ([]upstream.Album, error)
	AlbumTracks(ctx context.Context, albumID string) ([]upstream.Track, error)
}

// UpstreamLoader loads the full catalog for one artist from the upstream
// service.
type UpstreamLoader struct {
	fetcher     Fetcher
	artistName  string
	batchSize   int
	itemStagger time.Duration
	batchPause  time.Duration
	logger      *slog.Logger
}

// LoaderOption configures an UpstreamLoader.
type LoaderOption func(*UpstreamLoader)

// WithBatching tunes the batch size and delays used for track fetches.
func WithBatching(size int, stagger, pause time.Duration) LoaderOption {
	return func(l *UpstreamLoader) {
		l.batchSize = size
		l.itemStagger = stagger
		l.batchPause = pause
	}
}

// NewLoader creates a loader for the given artist name.
func NewLoader(fetcher Fetcher, artistName string, logger *slog.Logger, opts ...LoaderOption) *UpstreamLoader {
	l := &UpstreamLoader{
		fetcher:     fetcher,
		artistName:  artistName,
		batchSize:   defaultBatchSize,
		itemStagger: defaultItemStagger,
		batchPause:  defaultBatchPause,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches the artist, every album, and each album's track list.
// A failure fetching one album's tracks degrades that album to an empty
// track list instead of aborting the reload.
func (l *UpstreamLoader) Load(ctx context.Context) ([]Album, error) {
	started := time.Now()

	artist, err := l.fetcher.SearchArtist(ctx, l.artistName)
	if err != nil {
		return nil, fmt.Errorf("resolving artist %q: %w", l.artistName, err)
	}

	upAlbums, err := l.fetcher.ArtistAlbums(ctx, artist.ID)
	if err != nil {
		return nil, fmt.Errorf("listing albums: %w", err)
	}

	albums := make([]Album, len(upAlbums))
	for i, a := range upAlbums {
		albums[i] = Album{
			ID:          a.ID,
			Name:        a.Name,
			AlbumType:   a.AlbumType,
			ReleaseDate: a.ReleaseDate,
			Images:      a.Images,
		}
	}

	for start := 0; start < len(albums); start += l.batchSize {
		end := min(start+l.batchSize, len(albums))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()

				// Small stagger so a batch does not land as one burst.
				if d := time.Duration(i-start) * l.itemStagger; d > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(d):
					}
				}

				l.fillTracks(ctx, &albums[i])
			}(i)
		}
		wg.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if end < len(albums) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.batchPause):
			}
		}
	}

	l.logger.Info("catalog loaded",
		"artist", artist.Name,
		"albums", len(albums),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return albums, nil
}

func (l *UpstreamLoader) fillTracks(ctx context.Context, album *Album) {
	upTracks, err := l.fetcher.AlbumTracks(ctx, album.ID)
	if err != nil {
		l.logger.Warn("fetching album tracks failed, serving album without tracks",
			"album", album.Name, "error", err)
		album.Tracks = []Track{}
		return
	}

	tracks := make([]Track, len(upTracks))
	for i, t := range upTracks {
		tracks[i] = Track{
			ID:        t.ID,
			Name:      t.Name,
			Artist:    upstream.JoinArtists(t.Artists),
			AlbumID:   album.ID,
			AlbumName: album.Name,
			Images:    album.Images,
		}
	}
	album.Tracks = tracks
}
