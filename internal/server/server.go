// package server contains middleware & handlers for the library mirror web service
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/services"
	"github.com/desertthunder/libmirror/internal/shared"
	"golang.org/x/oauth2"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
// Common middleware includes logging, authentication, CORS, rate limiting, etc.
type Middleware func(http.Handler) http.Handler

// Authenticator starts and completes the provider login flow.
type Authenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Profiles resolves the account behind an access token.
type Profiles interface {
	CurrentUser(ctx context.Context, accessToken string) (*services.SpotifyUser, error)
}

// UserStore persists logged-in users.
type UserStore interface {
	SaveUser(ctx context.Context, user *models.User) error
}

// Syncer replaces a user's stored mirror.
type Syncer interface {
	Sync(ctx context.Context, userID string) ([]models.Playlist, error)
}

// Library reads the stored mirror.
type Library interface {
	Playlists(ctx context.Context, userID string) ([]models.Playlist, error)
	Tracks(ctx context.Context, playlistID string) ([]models.Track, error)
}

// Deps are the collaborators behind the HTTP API.
type Deps struct {
	Auth     Authenticator
	Profiles Profiles
	Users    UserStore
	Engine   Syncer
	Library  Library
	Logger   *log.Logger
}

// Server serves the library mirror HTTP API.
type Server struct {
	auth     Authenticator
	profiles Profiles
	users    UserStore
	engine   Syncer
	library  Library
	logger   *log.Logger
}

// NewServer creates a new [Server] from its dependencies.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Server{
		auth:     deps.Auth,
		profiles: deps.Profiles,
		users:    deps.Users,
		engine:   deps.Engine,
		library:  deps.Library,
		logger:   logger,
	}
}

// ListenAndServe serves the API on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, middlewares ...Middleware) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(middlewares...),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
