package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/desertthunder/libmirror/internal/formatter"
	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/shared"
	"github.com/go-chi/chi/v5"
)

const stateCookie = "mirror_oauth_state"

// LoginResponse is returned once the OAuth callback stored the user.
type LoginResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// SyncResponse is returned by a successful sync.
type SyncResponse struct {
	Success   bool                         `json:"success"`
	Playlists []formatter.PlaylistDocument `json:"playlists"`
}

// PlaylistsResponse lists a user's stored playlists.
type PlaylistsResponse struct {
	UserID    string                       `json:"user_id"`
	Playlists []formatter.PlaylistDocument `json:"playlists"`
}

// TracksResponse lists a stored playlist's tracks.
type TracksResponse struct {
	PlaylistID string                    `json:"playlist_id"`
	Tracks     []formatter.TrackDocument `json:"tracks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "libmirror",
	})
}

// handleLogin redirects to the provider's consent page, remembering the CSRF state in a cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "login is not configured")
		return
	}

	state := shared.GenerateID()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.auth.AuthURL(state), http.StatusFound)
}

// handleCallback completes the login: exchange the code, resolve the profile and store the user.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil || s.profiles == nil || s.users == nil {
		writeError(w, http.StatusServiceUnavailable, "login is not configured")
		return
	}

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("authorization failed: %s", errParam))
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != query.Get("state") {
		writeError(w, http.StatusBadRequest, "invalid state parameter")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth", MaxAge: -1})

	token, err := s.auth.Exchange(r.Context(), query.Get("code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	profile, err := s.profiles.CurrentUser(r.Context(), token.AccessToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	user := &models.User{
		ProviderID:   profile.ID,
		DisplayName:  profile.DisplayName,
		Email:        profile.Email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		user.TokenExpiry = &expiry
	}
	if err := s.users.SaveUser(r.Context(), user); err != nil {
		s.fail(w, r, err)
		return
	}

	s.logger.Info("user logged in", "user", user.ID, "provider_id", user.ProviderID)
	writeJSON(w, http.StatusOK, LoginResponse{UserID: user.ID, DisplayName: user.DisplayName})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}

	committed, err := s.engine.Sync(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Success: true, Playlists: formatter.NewPlaylistDocuments(committed, false)})
}

// handlePlaylists lists the stored mirror. ?tracks=true includes every playlist's tracks.
func (s *Server) handlePlaylists(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	withTracks, _ := strconv.ParseBool(r.URL.Query().Get("tracks"))

	playlists, err := s.library.Playlists(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PlaylistsResponse{UserID: userID, Playlists: formatter.NewPlaylistDocuments(playlists, withTracks)})
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")

	tracks, err := s.library.Tracks(r.Context(), playlistID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TracksResponse{PlaylistID: playlistID, Tracks: formatter.NewTrackDocuments(tracks)})
}
