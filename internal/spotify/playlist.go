package spotify

import (
	"context"
	"errors"
	"fmt"

	"github.com/zmb3/spotify/v2"
)

const maxTracksPerRequest = 100

// FindPlaylistByName scans the current user's playlists for an exact
// name match and returns its ID. The second return reports whether a
// match was found.
func (c *Client) FindPlaylistByName(ctx context.Context, name string) (string, bool, error) {
	page, err := c.api.CurrentUsersPlaylists(ctx, spotify.Limit(50))
	if err != nil {
		return "", false, fmt.Errorf("listing playlists: %w", err)
	}

	for {
		for _, p := range page.Playlists {
			if p.Name == name {
				return p.ID.String(), true, nil
			}
		}

		err = c.api.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("listing playlists next page: %w", err)
		}
	}
}

// CreatePlaylist creates a new private playlist for the given user.
// Returns the playlist ID.
func (c *Client) CreatePlaylist(ctx context.Context, userID, name, description string) (string, error) {
	playlist, err := c.api.CreatePlaylistForUser(ctx, userID, name, description, false, false)
	if err != nil {
		return "", fmt.Errorf("creating playlist: %w", err)
	}
	return playlist.ID.String(), nil
}

// ReplacePlaylistTracks overwrites the playlist's contents with the
// given tracks in order. The first chunk replaces, later chunks append;
// Spotify allows max 100 tracks per request.
func (c *Client) ReplacePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	ids := make([]spotify.ID, len(trackIDs))
	for i, id := range trackIDs {
		ids[i] = spotify.ID(id)
	}

	first := min(maxTracksPerRequest, len(ids))
	if err := c.api.ReplacePlaylistTracks(ctx, spotify.ID(playlistID), ids[:first]...); err != nil {
		return fmt.Errorf("replacing playlist tracks: %w", err)
	}

	for i := first; i < len(ids); i += maxTracksPerRequest {
		end := min(i+maxTracksPerRequest, len(ids))
		if _, err := c.api.AddTracksToPlaylist(ctx, spotify.ID(playlistID), ids[i:end]...); err != nil {
			return fmt.Errorf("adding tracks (batch %d-%d): %w", i+1, end, err)
		}
	}
	return nil
}

// UpdatePlaylistDescription sets the playlist description.
func (c *Client) UpdatePlaylistDescription(ctx context.Context, playlistID, description string) error {
	if err := c.api.ChangePlaylistDescription(ctx, spotify.ID(playlistID), description); err != nil {
		return fmt.Errorf("updating playlist description: %w", err)
	}
	return nil
}
