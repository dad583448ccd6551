// Spotify Web API catalog client
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/shared"
	"golang.org/x/time/rate"
)

const (
	spotifyBaseURL = "https://api.spotify.com/v1"

	// DefaultPageSize is the largest page the library endpoints accept.
	DefaultPageSize       = 50
	DefaultMaxPages       = 1000
	DefaultMaxAttempts    = 3
	DefaultRequestTimeout = 10 * time.Second
	DefaultRateLimit      = 10.0
	DefaultBackoffBase    = 200 * time.Millisecond
	DefaultBackoffMax     = 2 * time.Second
	DefaultMaxRetryAfter  = 30 * time.Second
)

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Product     string         `json:"product"` // premium, free, etc.
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyArtist represents a simplified artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyAlbum represents a simplified album.
type SpotifyAlbum struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawTrack is a track as the provider reports it. Any field may be missing.
//
// AddedAt is copied from the enclosing saved-track or playlist-item object.
type RawTrack struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Artists      []SpotifyArtist   `json:"artists"`
	Album        *SpotifyAlbum     `json:"album"`
	DurationMS   int               `json:"duration_ms"`
	ExternalURLs map[string]string `json:"external_urls"`
	AddedAt      string            `json:"-"`
}

// trackItem is the element of both /me/tracks and /playlists/{id}/tracks.
// Track is null for removed or unavailable items.
type trackItem struct {
	AddedAt string    `json:"added_at"`
	Track   *RawTrack `json:"track"`
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Images       []SpotifyImage    `json:"images"`
	ExternalURLs map[string]string `json:"external_urls"`
	Tracks       struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

// page is the paging object wrapping every list endpoint.
type page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Tokens supplies the bearer token for catalog requests and refreshes it on demand.
//
// Refresh receives the access token that was rejected so concurrent callers refresh only once.
type Tokens interface {
	Current() (access, refresh string)
	Refresh(ctx context.Context, stale string) (string, error)
}

// CatalogOptions configures a [CatalogClient]. Zero values take the package defaults.
type CatalogOptions struct {
	BaseURL        string
	HTTPClient     *http.Client
	PageSize       int
	MaxPages       int
	MaxAttempts    int
	RequestTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	MaxRetryAfter  time.Duration
	Limiter        *rate.Limiter
	Logger         *log.Logger
}

// CatalogOptionsFromConfig maps the [sync] config section onto client options.
func CatalogOptionsFromConfig(cfg shared.SyncConfig) CatalogOptions {
	opts := CatalogOptions{
		PageSize:       cfg.PageSize,
		MaxPages:       cfg.MaxPages,
		MaxAttempts:    cfg.MaxAttempts,
		RequestTimeout: cfg.RequestTimeout,
	}
	if cfg.RateLimit > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return opts
}

// CatalogClient is a read-only, paginated accessor for the user library endpoints.
//
// The client holds no token state; every call takes the [Tokens] of the run it serves,
// so one client is safely shared by concurrent sync runs.
type CatalogClient struct {
	baseURL       string
	httpClient    *http.Client
	pageSize      int
	maxPages      int
	maxAttempts   int
	timeout       time.Duration
	backoffBase   time.Duration
	backoffMax    time.Duration
	maxRetryAfter time.Duration
	limiter       *rate.Limiter
	logger        *log.Logger
}

// NewCatalogClient creates a client against the Spotify Web API.
func NewCatalogClient(opts CatalogOptions) *CatalogClient {
	c := &CatalogClient{
		baseURL:       opts.BaseURL,
		httpClient:    opts.HTTPClient,
		pageSize:      opts.PageSize,
		maxPages:      opts.MaxPages,
		maxAttempts:   opts.MaxAttempts,
		timeout:       opts.RequestTimeout,
		backoffBase:   opts.BackoffBase,
		backoffMax:    opts.BackoffMax,
		maxRetryAfter: opts.MaxRetryAfter,
		limiter:       opts.Limiter,
		logger:        opts.Logger,
	}

	if c.baseURL == "" {
		c.baseURL = spotifyBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.pageSize <= 0 || c.pageSize > DefaultPageSize {
		c.pageSize = DefaultPageSize
	}
	if c.maxPages <= 0 {
		c.maxPages = DefaultMaxPages
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRequestTimeout
	}
	if c.backoffBase <= 0 {
		c.backoffBase = DefaultBackoffBase
	}
	if c.backoffMax <= 0 {
		c.backoffMax = DefaultBackoffMax
	}
	if c.maxRetryAfter <= 0 {
		c.maxRetryAfter = DefaultMaxRetryAfter
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Limit(DefaultRateLimit), 1)
	}
	if c.logger == nil {
		c.logger = shared.NewLogger(nil)
	}
	return c
}

// CurrentUser fetches the profile that owns accessToken. A 401 is returned as is, without a refresh.
func (c *CatalogClient) CurrentUser(ctx context.Context, accessToken string) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := c.get(ctx, staticToken(accessToken), "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListSavedTracks returns every track in the user's saved-tracks collection, in provider order.
func (c *CatalogClient) ListSavedTracks(ctx context.Context, tokens Tokens) ([]RawTrack, error) {
	items, err := paginate[trackItem](ctx, c, tokens, "/me/tracks")
	if err != nil {
		return nil, err
	}
	return unwrapItems(items), nil
}

// ListPlaylistTracks returns every track of a playlist, skipping items whose track is unavailable.
func (c *CatalogClient) ListPlaylistTracks(ctx context.Context, tokens Tokens, playlistID string) ([]RawTrack, error) {
	endpoint := "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	items, err := paginate[trackItem](ctx, c, tokens, endpoint)
	if err != nil {
		return nil, err
	}
	return unwrapItems(items), nil
}

// ListPlaylists returns summaries of every playlist the user owns or follows, in listing order.
func (c *CatalogClient) ListPlaylists(ctx context.Context, tokens Tokens) ([]models.PlaylistSummary, error) {
	items, err := paginate[*SpotifySimplePlaylist](ctx, c, tokens, "/me/playlists")
	if err != nil {
		return nil, err
	}

	summaries := make([]models.PlaylistSummary, 0, len(items))
	for _, p := range items {
		if p == nil {
			continue
		}
		s := models.PlaylistSummary{
			ProviderID:  p.ID,
			Name:        p.Name,
			Description: p.Description,
			URL:         p.ExternalURLs["spotify"],
			Total:       p.Tracks.Total,
		}
		if len(p.Images) > 0 {
			s.ImageURL = p.Images[0].URL
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// paginate walks limit/offset pages until a page comes back shorter than the limit.
//
// A provider that keeps returning full pages fails with a Malformed error after maxPages requests.
func paginate[T any](ctx context.Context, c *CatalogClient, tokens Tokens, endpoint string) ([]T, error) {
	var all []T
	for n := 0; n < c.maxPages; n++ {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(c.pageSize))
		query.Set("offset", strconv.Itoa(n*c.pageSize))

		var p page[T]
		if err := c.get(ctx, tokens, endpoint, query, &p); err != nil {
			return nil, err
		}

		all = append(all, p.Items...)
		if len(p.Items) < c.pageSize {
			return all, nil
		}
	}

	return nil, &shared.ProviderError{
		Kind:     shared.Malformed,
		Endpoint: endpoint,
		Err:      fmt.Errorf("pagination did not terminate after %d pages", c.maxPages),
	}
}

func unwrapItems(items []trackItem) []RawTrack {
	tracks := make([]RawTrack, 0, len(items))
	for _, item := range items {
		if item.Track == nil {
			continue
		}
		t := *item.Track
		t.AddedAt = item.AddedAt
		tracks = append(tracks, t)
	}
	return tracks
}

var errNotRefreshable = errors.New("token cannot be refreshed")

// staticToken serves a single access token and cannot be refreshed.
type staticToken string

func (s staticToken) Current() (string, string) { return string(s), "" }

func (s staticToken) Refresh(context.Context, string) (string, error) {
	return "", errNotRefreshable
}
