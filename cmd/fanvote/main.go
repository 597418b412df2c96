// Command fanvote runs the fan voting and leaderboard service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/ewoodford/go-spotify-fanvote/internal/catalog"
	"github.com/ewoodford/go-spotify-fanvote/internal/config"
	"github.com/ewoodford/go-spotify-fanvote/internal/credentials"
	"github.com/ewoodford/go-spotify-fanvote/internal/playlist"
	spotifyclient "github.com/ewoodford/go-spotify-fanvote/internal/spotify"
	"github.com/ewoodford/go-spotify-fanvote/internal/store"
	"github.com/ewoodford/go-spotify-fanvote/internal/upstream"
	"github.com/ewoodford/go-spotify-fanvote/internal/voting"
	"github.com/ewoodford/go-spotify-fanvote/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine, the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	kv, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer kv.Close()

	client := upstream.New(cfg.SpotifyID, cfg.SpotifySecret, logger)

	loader := catalog.NewLoader(client, cfg.ArtistName, logger)
	cache := catalog.NewCache(loader, logger,
		catalog.WithWindows(cfg.FreshWindow, cfg.StaleWindow),
	)

	agg := voting.NewAggregator(kv, logger)
	ledger := voting.NewLedger(kv, agg, logger)

	creds := credentials.NewStore(kv, client, logger)

	newClient := func(ctx context.Context, accessToken string) playlist.Syncer {
		return spotifyclient.NewWithToken(ctx, accessToken)
	}
	job := playlist.NewJob(creds, agg, kv, newClient, cfg.PlaylistName, logger,
		playlist.WithTopN(cfg.TopN),
	)

	server := web.NewServer(web.ServerConfig{
		Addr:         cfg.Addr,
		ClientID:     cfg.SpotifyID,
		ClientSecret: cfg.SpotifySecret,
		RedirectURL:  cfg.RedirectURL(),
	}, cache, ledger, agg, creds, job, logger)

	return server.Run()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
