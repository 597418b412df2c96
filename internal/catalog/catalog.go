// Package catalog holds the in-memory artist catalog: a read-through
// cache over the expensive upstream album/track fetch, refreshed in the
// background with request coalescing.
package catalog

import (
	"time"

	"github.com/ewoodford/go-spotify-fanvote/internal/upstream"
)

// Track is a denormalized catalog track, carrying its album's display
// fields so votes can be recorded without a second lookup.
type Track struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Artist    string           `json:"artist"`
	AlbumID   string           `json:"albumId"`
	AlbumName string           `json:"albumName"`
	Images    []upstream.Image `json:"-"`
}

// Album is a catalog album with its full track list.
type Album struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	AlbumType   string           `json:"albumType"`
	ReleaseDate time.Time        `json:"releaseDate"`
	Images      []upstream.Image `json:"images"`
	Tracks      []Track          `json:"tracks"`
}

// Snapshot is one immutable generation of the catalog. It is replaced
// wholesale on refresh; callers must not mutate it.
type Snapshot struct {
	Albums   []Album
	LoadedAt time.Time
}

// Meta describes the cache state a snapshot was served under.
type Meta struct {
	LoadedAt   time.Time     `json:"loadedAt"`
	Age        time.Duration `json:"age"`
	Fresh      bool          `json:"fresh"`
	Stale      bool          `json:"stale"`
	Refreshing bool          `json:"refreshing"`
}
