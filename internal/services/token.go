package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/shared"
	"golang.org/x/oauth2"
)

// UserSaver persists refreshed credentials.
type UserSaver interface {
	SaveUser(ctx context.Context, user *models.User) error
}

// Authenticator runs the authorization code flow and hands out per-run [TokenContext] values.
type Authenticator struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewAuthenticator wraps an OAuth2 config. httpClient is used for token endpoint calls and may be nil.
func NewAuthenticator(config *oauth2.Config, httpClient *http.Client) *Authenticator {
	return &Authenticator{config: config, httpClient: httpClient}
}

// AuthURL returns the provider authorization URL for user login.
func (a *Authenticator) AuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token pair.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, &shared.AuthError{Reason: shared.ExchangeFailed, Err: fmt.Errorf("%w: code", shared.ErrMissingArgument)}
	}

	token, err := a.config.Exchange(a.withClient(ctx), code)
	if err != nil {
		return nil, &shared.AuthError{Reason: shared.ExchangeFailed, Err: err}
	}
	return token, nil
}

// Bind creates a token context for one sync run of user.
func (a *Authenticator) Bind(user models.User, store UserSaver) *TokenContext {
	return &TokenContext{auth: a, user: user, store: store}
}

func (a *Authenticator) withClient(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// TokenContext holds the access/refresh pair of one user for the lifetime of one sync run.
//
// It is safe for concurrent use by the fan-out tasks of that run. Refreshes are serialized,
// and a caller holding a token that was already replaced gets the replacement without another provider call.
type TokenContext struct {
	auth      *Authenticator
	store     UserSaver
	mu        sync.Mutex
	user      models.User
	refreshes int
}

// Current returns the access and refresh tokens.
func (t *TokenContext) Current() (string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.user.AccessToken, t.user.RefreshToken
}

// Refreshes reports how many provider refreshes this context performed.
func (t *TokenContext) Refreshes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshes
}

// Refresh obtains a new access token using the stored refresh token and persists it.
//
// stale is the access token the caller saw rejected. If it has already been replaced,
// the current token is returned as is.
func (t *TokenContext) Refresh(ctx context.Context, stale string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if stale != t.user.AccessToken && t.user.AccessToken != "" {
		return t.user.AccessToken, nil
	}

	if t.user.RefreshToken == "" {
		return "", &shared.AuthError{Reason: shared.RefreshRevoked, Err: shared.ErrNoRefreshToken}
	}

	src := t.auth.config.TokenSource(t.auth.withClient(ctx), &oauth2.Token{RefreshToken: t.user.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return "", refreshError(err)
	}

	t.refreshes++
	t.user.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		t.user.RefreshToken = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		t.user.TokenExpiry = &expiry
	}
	t.user.UpdatedAt = time.Now()

	if t.store != nil {
		user := t.user
		if err := t.store.SaveUser(ctx, &user); err != nil {
			return "", fmt.Errorf("failed to persist refreshed token: %w", err)
		}
	}
	return token.AccessToken, nil
}

// refreshError maps a token endpoint failure onto the error taxonomy.
// Rejections of the grant itself are terminal, anything else is treated as a transient provider error.
func refreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if re.ErrorCode == "invalid_grant" || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return &shared.AuthError{Reason: shared.RefreshRevoked, Err: err}
		}
		return &shared.ProviderError{Kind: shared.Transient, Status: status, Endpoint: "token", Err: err}
	}
	return &shared.ProviderError{Kind: shared.Transient, Endpoint: "token", Err: err}
}
