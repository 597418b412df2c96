// Package web exposes the service's JSON API and the OAuth consent
// routes to the front end.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/ewoodford/go-spotify-fanvote/internal/catalog"
	"github.com/ewoodford/go-spotify-fanvote/internal/credentials"
	"github.com/ewoodford/go-spotify-fanvote/internal/playlist"
	"github.com/ewoodford/go-spotify-fanvote/internal/voting"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Server is the HTTP server for the service.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	logger   *slog.Logger
}

// NewServer creates a new server over the given components.
func NewServer(cfg ServerConfig, cache *catalog.Cache, ledger *voting.Ledger, agg *voting.Aggregator, creds *credentials.Store, job *playlist.Job, logger *slog.Logger) *Server {
	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithRedirectURL(cfg.RedirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadEmail,
			spotifyauth.ScopePlaylistModifyPublic,
			spotifyauth.ScopePlaylistModifyPrivate,
		),
	)

	handlers := NewHandlers(auth, cache, ledger, agg, creds, job, logger)

	router := chi.NewRouter()
	s := &Server{
		router:   router,
		handlers: handlers,
		logger:   logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures routes for the service.
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/votes", s.handlers.SubmitVote)
		r.Get("/votes/today", s.handlers.TodayVotes)
		r.Get("/catalog", s.handlers.Catalog)
		r.Get("/leaderboard", s.handlers.Leaderboard)
		r.Post("/playlist/sync", s.handlers.SyncPlaylist)
		r.Get("/playlist/status", s.handlers.PlaylistStatus)

		// Invoked by the external scheduler on a daily cadence.
		r.Post("/jobs/playlist-sync", s.handlers.RunSyncJob)
	})

	s.router.Get("/auth/login", s.handlers.Login)
	s.router.Get("/auth/callback", s.handlers.Callback)
	s.router.Post("/auth/logout", s.handlers.Logout)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt signals.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.logger.Info("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router exposes the configured router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
