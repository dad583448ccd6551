package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
)

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// Exchanger trades an authorization code for tokens.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// OAuthHandler handles a single OAuth2 callback for the CLI login flow.
type OAuthHandler struct {
	exchanger   Exchanger
	state       string
	resultChan  chan OAuthResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewOAuthHandler creates a new OAuth handler with the given exchanger and state token.
// The state token should be cryptographically random for CSRF protection.
func NewOAuthHandler(exchanger Exchanger, state string) *OAuthHandler {
	return &OAuthHandler{
		exchanger:  exchanger,
		state:      state,
		resultChan: make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"/callback", "/auth/callback"}
}

// Router mounts the handler on every path in [OAuthHandler.Routes].
func (h *OAuthHandler) Router() chi.Router {
	r := chi.NewRouter()
	for _, route := range h.Routes() {
		r.Get(route, h.ServeHTTP)
	}
	return r
}

// ServeHTTP handles the OAuth callback request.
//
// Validates state parameter, exchanges authorization code for tokens, and sends the result through the result channel.
// The browser gets a small page telling the user whether to return to the terminal.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		renderCallback(w, http.StatusBadRequest, "Callback already processed")
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	query := r.URL.Query()
	if query.Get("state") != h.state {
		h.Send(OAuthResult{err: fmt.Errorf("invalid state parameter")})
		renderCallback(w, http.StatusBadRequest, "Invalid state parameter")
		return
	}

	code := query.Get("code")
	if code == "" {
		h.Send(OAuthResult{err: fmt.Errorf("authorization failed: %s - %s", query.Get("error"), query.Get("error_description"))})
		renderCallback(w, http.StatusBadRequest, "Spotify did not grant access to your library")
		return
	}

	token, err := h.exchanger.Exchange(r.Context(), code)
	if err != nil {
		h.Send(OAuthResult{err: fmt.Errorf("token exchange failed: %w", err)})
		renderCallback(w, http.StatusInternalServerError, "Token exchange failed")
		return
	}

	h.Send(OAuthResult{Token: token})
	renderCallback(w, http.StatusOK, "")
}

// Send sends the OAuth result through the channel (only once).
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving OAuth flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>libmirror</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh">
{{if .Failure}}<h1 style="color: #e22134">Login failed</h1><p>{{.Failure}}</p><p>Check the terminal for details.</p>
{{else}}<h1 style="color: #1db954">✓ Library access granted</h1><p>Return to the terminal to finish login.</p>
{{end}}</body>
</html>
`))

// renderCallback writes the callback page. An empty failure renders the success page.
func renderCallback(w http.ResponseWriter, status int, failure string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = callbackPage.Execute(w, struct{ Failure string }{failure})
}
