package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/server"
	"github.com/desertthunder/libmirror/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const defaultLoginTimeout = 2 * time.Minute

// AuthLogin performs the OAuth2 authorization code flow and stores the authorized account.
//
// Starts a local HTTP server on the redirect URI, opens the browser for consent, exchanges the code,
// then resolves the Spotify profile and upserts the user.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	oauthCfg := r.oauthConfig()
	if oauthCfg.ClientID == "" || oauthCfg.ClientSecret == "" {
		return fmt.Errorf("%w: credentials.spotify client_id and client_secret must be set", shared.ErrMissingCredentials)
	}

	s, err := r.open(ctx, stackOpts{})
	if err != nil {
		return err
	}
	defer s.Close()

	token, err := r.doOAuth(ctx, s, oauthCfg.RedirectURL, cmd.Duration("timeout"))
	if err != nil {
		return err
	}

	profile, err := s.catalog.CurrentUser(ctx, token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to fetch Spotify profile: %w", err)
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
	if err := s.users.SaveUser(ctx, user); err != nil {
		return err
	}

	r.logger.Info("user authorized", "user", user.ID, "provider_id", user.ProviderID)
	r.writePlainln("✓ Authorization successful")
	r.writePlain("  Account: %s (%s)\n", user.DisplayName, user.ProviderID)
	r.writePlain("  User ID: %s\n\n", user.ID)
	r.writePlain("You can now run: mirror sync --user %s\n", user.ID)
	return nil
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server listening on the redirect URI.
func (r *Runner) doOAuth(ctx context.Context, s *stack, redirectURL string, timeout time.Duration) (*oauth2.Token, error) {
	redirect, err := url.Parse(redirectURL)
	if err != nil || redirect.Host == "" {
		return nil, fmt.Errorf("%w: credentials.spotify.redirect_uri %q", shared.ErrInvalidConfig, redirectURL)
	}

	state := shared.GenerateID()
	oauthHandler := server.NewOAuthHandler(s.auth, state)

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}
	httpServer := &http.Server{Handler: oauthHandler.Router(), ReadHeaderTimeout: 10 * time.Second}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth callback server at %v", redirect.Host)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	authURL := s.auth.AuthURL(state)
	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := r.openBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.OAuthResult
	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}
	if result.Token == nil {
		return nil, fmt.Errorf("no token received")
	}
	return result.Token, nil
}

// AuthUsers lists stored accounts without their tokens.
func (r *Runner) AuthUsers(ctx context.Context, cmd *cli.Command) error {
	s, err := r.open(ctx, stackOpts{})
	if err != nil {
		return err
	}
	defer s.Close()

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		type account struct {
			ID          string     `json:"id"`
			ProviderID  string     `json:"provider_id"`
			DisplayName string     `json:"display_name"`
			Email       string     `json:"email,omitempty"`
			TokenExpiry *time.Time `json:"token_expiry,omitempty"`
		}
		accounts := make([]account, len(users))
		for i, u := range users {
			accounts[i] = account{u.ID, u.ProviderID, u.DisplayName, u.Email, u.TokenExpiry}
		}
		return r.writeJSON(accounts, true)
	}

	if len(users) == 0 {
		return r.writePlain("No stored accounts. Run: mirror auth login\n")
	}
	r.writePlain("Found %d accounts:\n\n", len(users))
	for _, u := range users {
		r.writePlain("%s  %s (%s)\n", u.ID, u.DisplayName, u.ProviderID)
	}
	return nil
}
