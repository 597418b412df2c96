// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults.
const (
	DefaultAddr         = "127.0.0.1:8080"
	DefaultDataDir      = "./data"
	DefaultPlaylistName = "Fan Vote Top Tracks"
	DefaultTopN         = 25
)

// Config holds the full service configuration.
type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string

	// BaseURL is the externally visible origin, used to build the OAuth
	// redirect URL.
	BaseURL string

	// DataDir is the directory holding the key-value store.
	DataDir string

	// Spotify application credentials.
	SpotifyID     string
	SpotifySecret string

	// ArtistName is the artist whose catalog is voted on.
	ArtistName string

	// Catalog cache policy windows.
	FreshWindow time.Duration
	StaleWindow time.Duration

	// PlaylistName is the name of each subscriber's sync playlist.
	PlaylistName string

	// TopN is how many leaderboard tracks are synced into playlists.
	TopN int

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// RedirectURL is the OAuth callback URL derived from the base URL.
func (c *Config) RedirectURL() string {
	return c.BaseURL + "/auth/callback"
}

// Load reads configuration from the environment, applying defaults and
// validating required values.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:          envOr("FANVOTE_ADDR", DefaultAddr),
		DataDir:       envOr("FANVOTE_DATA_DIR", DefaultDataDir),
		SpotifyID:     os.Getenv("SPOTIFY_ID"),
		SpotifySecret: os.Getenv("SPOTIFY_SECRET"),
		ArtistName:    os.Getenv("FANVOTE_ARTIST"),
		PlaylistName:  envOr("FANVOTE_PLAYLIST_NAME", DefaultPlaylistName),
		LogLevel:      envOr("FANVOTE_LOG_LEVEL", "info"),
	}
	cfg.BaseURL = envOr("FANVOTE_BASE_URL", "http://"+cfg.Addr)

	if cfg.SpotifyID == "" || cfg.SpotifySecret == "" {
		return nil, fmt.Errorf("config: SPOTIFY_ID and SPOTIFY_SECRET must be set")
	}
	if cfg.ArtistName == "" {
		return nil, fmt.Errorf("config: FANVOTE_ARTIST must be set")
	}

	var err error
	if cfg.FreshWindow, err = envDuration("FANVOTE_FRESH_WINDOW", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.StaleWindow, err = envDuration("FANVOTE_STALE_WINDOW", 4*time.Hour); err != nil {
		return nil, err
	}
	if cfg.StaleWindow >= cfg.FreshWindow {
		return nil, fmt.Errorf("config: stale window (%s) must be shorter than fresh window (%s)",
			cfg.StaleWindow, cfg.FreshWindow)
	}
	if cfg.TopN, err = envInt("FANVOTE_TOP_N", DefaultTopN); err != nil {
		return nil, err
	}
	if cfg.TopN <= 0 || cfg.TopN > 50 {
		return nil, fmt.Errorf("config: FANVOTE_TOP_N must be between 1 and 50")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: parsing %s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: parsing %s: %w", key, err)
	}
	return n, nil
}
