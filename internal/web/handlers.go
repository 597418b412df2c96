package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/ewoodford/go-spotify-fanvote/internal/catalog"
	"github.com/ewoodford/go-spotify-fanvote/internal/credentials"
	"github.com/ewoodford/go-spotify-fanvote/internal/playlist"
	"github.com/ewoodford/go-spotify-fanvote/internal/voting"
)

const (
	userCookieName  = "fanvote_uid"
	stateCookieName = "oauth_state"
)

// Handlers contains the HTTP handlers for the JSON API.
type Handlers struct {
	auth   *spotifyauth.Authenticator
	cache  *catalog.Cache
	ledger *voting.Ledger
	agg    *voting.Aggregator
	creds  *credentials.Store
	job    *playlist.Job
	logger *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(auth *spotifyauth.Authenticator, cache *catalog.Cache, ledger *voting.Ledger, agg *voting.Aggregator, creds *credentials.Store, job *playlist.Job, logger *slog.Logger) *Handlers {
	return &Handlers{
		auth:   auth,
		cache:  cache,
		ledger: ledger,
		agg:    agg,
		creds:  creds,
		job:    job,
		logger: logger,
	}
}

// voteRequest is the submit-vote body.
type voteRequest struct {
	TrackID    string `json:"trackId"`
	Points     int    `json:"points"`
	TrackName  string `json:"trackName"`
	ArtistName string `json:"artistName"`
	AlbumName  string `json:"albumName"`
}

// SubmitVote handles POST /api/votes.
func (h *Handlers) SubmitVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TrackID == "" {
		respondError(w, http.StatusBadRequest, "trackId is required")
		return
	}

	result, err := h.ledger.SubmitVote(r.Context(), voting.Vote{
		UserID:     userID,
		TrackID:    req.TrackID,
		Points:     req.Points,
		TrackName:  req.TrackName,
		ArtistName: req.ArtistName,
		AlbumName:  req.AlbumName,
	})
	if errors.Is(err, voting.ErrInvalidPoints) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("submitting vote failed", "userId", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "recording vote failed")
		return
	}

	respond(w, http.StatusOK, result)
}

// TodayVotes handles GET /api/votes/today.
func (h *Handlers) TodayVotes(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	session, err := h.ledger.TodaySession(r.Context(), userID)
	if err != nil {
		h.logger.Error("loading today's votes failed", "userId", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "loading votes failed")
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"day":            session.Day,
		"votes":          session.Votes,
		"votesRemaining": session.Remaining(),
		"budget":         voting.DailyVoteBudget,
	})
}

// Catalog handles GET /api/catalog.
func (h *Handlers) Catalog(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "1"

	snap, meta, err := h.cache.Get(r.Context(), force)
	if errors.Is(err, catalog.ErrLoading) {
		respond(w, http.StatusAccepted, map[string]any{"status": "loading"})
		return
	}
	if err != nil {
		h.logger.Error("catalog unavailable", "error", err)
		respondError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"albums": snap.Albums,
		"cache":  meta,
	})
}

// Leaderboard handles GET /api/leaderboard.
func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := voting.MaxLeaderboardSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	top, err := h.agg.TopN(r.Context(), limit)
	if err != nil {
		h.logger.Error("loading leaderboard failed", "error", err)
		respondError(w, http.StatusInternalServerError, "loading leaderboard failed")
		return
	}

	respond(w, http.StatusOK, map[string]any{"tracks": top})
}

// SyncPlaylist handles POST /api/playlist/sync: an on-demand sync of the
// calling user's playlist.
func (h *Handlers) SyncPlaylist(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	status, err := h.job.SyncUser(r.Context(), userID, false)
	if errors.Is(err, playlist.ErrSyncTooRecent) {
		// Not an error worth surfacing: report the existing status.
		respond(w, http.StatusOK, status)
		return
	}
	if errors.Is(err, credentials.ErrNoCredential) || errors.Is(err, credentials.ErrCredentialInvalid) {
		respondError(w, http.StatusForbidden, "playlist sync not authorized, connect your account first")
		return
	}
	if err != nil {
		h.logger.Error("on-demand playlist sync failed", "userId", userID, "error", err)
		respondError(w, http.StatusBadGateway, "playlist sync failed")
		return
	}

	respond(w, http.StatusOK, status)
}

// PlaylistStatus handles GET /api/playlist/status.
func (h *Handlers) PlaylistStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	status, err := h.job.GetStatus(r.Context(), userID)
	if err != nil {
		h.logger.Error("loading playlist status failed", "userId", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "loading status failed")
		return
	}
	if status == nil {
		respond(w, http.StatusOK, map[string]any{"synced": false})
		return
	}

	respond(w, http.StatusOK, map[string]any{"synced": true, "status": status})
}

// RunSyncJob handles POST /api/jobs/playlist-sync, the scheduled batch
// trigger. Authentication of the trigger is handled by the route layer
// in front of this service.
func (h *Handlers) RunSyncJob(w http.ResponseWriter, r *http.Request) {
	report, err := h.job.Run(r.Context())
	if err != nil {
		h.logger.Error("playlist sync job failed", "error", err)
		respondError(w, http.StatusInternalServerError, "sync job failed")
		return
	}

	respond(w, http.StatusOK, report)
}

// Login initiates the OAuth consent flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateOAuthState()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate state")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})

	http.Redirect(w, r, h.auth.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback (GET /auth/callback): it exchanges
// the code, stores the credential, subscribes the user to playlist sync
// and identifies the browser with a user cookie.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing state cookie")
		return
	}

	state := r.URL.Query().Get("state")
	if state != stateCookie.Value {
		respondError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("consent denied: %s", errMsg))
		return
	}

	token, err := h.auth.Token(r.Context(), state, r)
	if err != nil {
		respondError(w, http.StatusBadGateway, "failed to exchange code for token")
		return
	}

	client := spotify.New(h.auth.Client(r.Context(), token))
	user, err := client.CurrentUser(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "failed to load user profile")
		return
	}

	err = h.creds.Save(r.Context(), credentials.Credential{
		UserID:       user.ID,
		Email:        user.Email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	})
	if err != nil {
		h.logger.Error("storing credential failed", "userId", user.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "storing credential failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     userCookieName,
		Value:    user.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   30 * 24 * 60 * 60,
	})

	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// Logout handles POST /auth/logout: the user opts out of playlist sync,
// deleting their credential and subscription.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(userCookieName); err == nil && cookie.Value != "" {
		if err := h.creds.Remove(r.Context(), cookie.Value); err != nil {
			h.logger.Error("removing credential failed", "userId", cookie.Value, "error", err)
			respondError(w, http.StatusInternalServerError, "opt-out failed")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     userCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	respond(w, http.StatusOK, map[string]any{"loggedOut": true})
}

// requireUser extracts the user ID from the identity cookie, writing a
// 401 when it is absent.
func (h *Handlers) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	cookie, err := r.Cookie(userCookieName)
	if err != nil || cookie.Value == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return "", false
	}
	return cookie.Value, true
}

// respond writes a JSON response.
func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes a JSON error envelope.
func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, map[string]string{"error": msg})
}

// generateOAuthState creates a random state string for OAuth.
func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
