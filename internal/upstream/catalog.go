package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const pageLimit = 50

// ErrArtistNotFound is returned when an artist search yields no results.
var ErrArtistNotFound = errors.New("upstream: artist not found")

// SearchArtist returns the best match for an artist name.
func (c *Client) SearchArtist(ctx context.Context, name string) (Artist, error) {
	query := url.Values{
		"q":     {name},
		"type":  {"artist"},
		"limit": {"1"},
	}

	var resp searchResponse
	if err := c.get(ctx, "searchArtist", "/search", query, &resp); err != nil {
		return Artist{}, err
	}
	if len(resp.Artists.Items) == 0 {
		return Artist{}, fmt.Errorf("%w: %q", ErrArtistNotFound, name)
	}

	item := resp.Artists.Items[0]
	if item.ID == "" {
		return Artist{}, &Error{Op: "searchArtist", Err: fmt.Errorf("%w: missing artist id", ErrParse)}
	}
	return Artist{ID: item.ID, Name: item.Name}, nil
}

// ArtistAlbums lists all albums and singles by an artist, newest first.
func (c *Client) ArtistAlbums(ctx context.Context, artistID string) ([]Album, error) {
	var albums []Album

	for offset := 0; ; offset += pageLimit {
		query := url.Values{
			"include_groups": {"album,single"},
			"limit":          {strconv.Itoa(pageLimit)},
			"offset":         {strconv.Itoa(offset)},
		}

		var page albumsPage
		path := "/artists/" + url.PathEscape(artistID) + "/albums"
		if err := c.get(ctx, "artistAlbums", path, query, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			if item.ID == "" {
				continue
			}
			albums = append(albums, Album{
				ID:          item.ID,
				Name:        item.Name,
				AlbumType:   item.AlbumType,
				ReleaseDate: item.releaseDate(),
				Images:      item.Images,
			})
		}

		if page.Next == "" || len(page.Items) < pageLimit {
			break
		}
	}

	sort.SliceStable(albums, func(i, j int) bool {
		return albums[i].ReleaseDate.After(albums[j].ReleaseDate)
	})
	return albums, nil
}

// AlbumTracks lists the tracks of one album in album order.
func (c *Client) AlbumTracks(ctx context.Context, albumID string) ([]Track, error) {
	var tracks []Track

	for offset := 0; ; offset += pageLimit {
		query := url.Values{
			"limit":  {strconv.Itoa(pageLimit)},
			"offset": {strconv.Itoa(offset)},
		}

		var page tracksPage
		path := "/albums/" + url.PathEscape(albumID) + "/tracks"
		if err := c.get(ctx, "albumTracks", path, query, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			if item.ID == "" {
				continue
			}
			artists := make([]string, 0, len(item.Artists))
			for _, a := range item.Artists {
				artists = append(artists, a.Name)
			}
			tracks = append(tracks, Track{
				ID:      item.ID,
				Name:    item.Name,
				Artists: artists,
			})
		}

		if page.Next == "" || len(page.Items) < pageLimit {
			break
		}
	}

	return tracks, nil
}

// JoinArtists renders a track's artist list for display, matching the
// comma-separated form used across the service.
func JoinArtists(artists []string) string {
	return strings.Join(artists, ", ")
}
