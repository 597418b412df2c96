package upstream

import "time"

// Token is an access token issued by the upstream accounts service.
// RefreshToken is empty unless the service rotated it.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Artist is a catalog artist.
type Artist struct {
	ID   string
	Name string
}

// Image is one rendition of an album cover.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Album is a catalog album or single, without its track list.
type Album struct {
	ID          string
	Name        string
	AlbumType   string // "album" or "single"
	ReleaseDate time.Time
	Images      []Image
}

// Track is one track of an album.
type Track struct {
	ID      string
	Name    string
	Artists []string
}

// Wire types. Optional fields default to their zero value; required
// fields are validated after decoding rather than trusted blindly.

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

type searchResponse struct {
	Artists struct {
		Items []artistObject `json:"items"`
	} `json:"artists"`
}

type artistObject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type albumsPage struct {
	Items []albumObject `json:"items"`
	Next  string        `json:"next"`
}

type albumObject struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	AlbumType            string  `json:"album_type"`
	ReleaseDate          string  `json:"release_date"`
	ReleaseDatePrecision string  `json:"release_date_precision"`
	Images               []Image `json:"images"`
}

type tracksPage struct {
	Items []trackObject `json:"items"`
	Next  string        `json:"next"`
}

type trackObject struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
}

// releaseDate parses the album release date at whatever precision the
// service reported. Missing or unparseable dates become the zero time.
func (a albumObject) releaseDate() time.Time {
	layout := "2006-01-02"
	switch a.ReleaseDatePrecision {
	case "year":
		layout = "2006"
	case "month":
		layout = "2006-01"
	}
	t, err := time.Parse(layout, a.ReleaseDate)
	if err != nil {
		return time.Time{}
	}
	return t
}
