package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// FakeTrack is a track served by [SpotifyFake].
type FakeTrack struct {
	ID         string
	Name       string
	Artist     string
	Album      string
	DurationMS int
	AddedAt    string
}

// FakePlaylist is a playlist served by [SpotifyFake].
type FakePlaylist struct {
	ID     string
	Name   string
	Tracks []FakeTrack
}

// SpotifyFake is an in-process stand-in for the Spotify Web API and accounts service.
//
// It serves /me, /me/tracks, /me/playlists, /playlists/{id}/tracks and /api/token with limit/offset paging.
type SpotifyFake struct {
	*httptest.Server

	mu        sync.Mutex
	user      string
	saved     []FakeTrack
	playlists []FakePlaylist
	failures  map[string]int
	latency   time.Duration
	token     string

	requests    atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	refreshes   atomic.Int64
}

// NewSpotifyFake starts a fake for userID, closed on cleanup.
func NewSpotifyFake(t *testing.T, userID string, saved []FakeTrack, playlists []FakePlaylist) *SpotifyFake {
	t.Helper()
	f := &SpotifyFake{user: userID, saved: saved, playlists: playlists, failures: map[string]int{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// FakeTracks generates n tracks with ids prefixed by prefix.
func FakeTracks(prefix string, n int) []FakeTrack {
	tracks := make([]FakeTrack, n)
	for i := range tracks {
		tracks[i] = FakeTrack{
			ID:         fmt.Sprintf("%s-%d", prefix, i),
			Name:       fmt.Sprintf("%s song %d", prefix, i),
			Artist:     "Band " + prefix,
			Album:      "Album " + prefix,
			DurationMS: 200000 + i,
			AddedAt:    "2024-02-03T04:05:06Z",
		}
	}
	return tracks
}

// FailPlaylist makes track requests for playlistID answer with status.
func (f *SpotifyFake) FailPlaylist(playlistID string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[playlistID] = status
}

// SetLatency delays every playlist-tracks response by d.
func (f *SpotifyFake) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// RequireToken rejects API requests whose bearer token is not token with 401.
func (f *SpotifyFake) RequireToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

// SetPlaylists replaces the served playlist listing.
func (f *SpotifyFake) SetPlaylists(playlists []FakePlaylist) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists = playlists
}

// OAuth2 returns a client config whose token endpoint is served by the fake.
func (f *SpotifyFake) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://127.0.0.1:3000/auth/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   f.URL + "/authorize",
			TokenURL:  f.URL + "/api/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Requests is the number of API requests served, excluding the token endpoint.
func (f *SpotifyFake) Requests() int64 { return f.requests.Load() }

// MaxConcurrent is the highest number of API requests observed in flight at once.
func (f *SpotifyFake) MaxConcurrent() int64 { return f.maxInFlight.Load() }

// Refreshes is the number of refresh_token grants served.
func (f *SpotifyFake) Refreshes() int64 { return f.refreshes.Load() }

func (f *SpotifyFake) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/token" {
		f.serveToken(w, r)
		return
	}

	f.requests.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	token, latency := f.token, f.latency
	f.mu.Unlock()

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		writeError(w, http.StatusUnauthorized, "The access token expired")
		return
	}

	switch {
	case r.URL.Path == "/me":
		writeJSON(w, map[string]any{"id": f.user, "display_name": "Fake " + f.user, "email": f.user + "@example.com"})
	case r.URL.Path == "/me/tracks":
		f.mu.Lock()
		saved := f.saved
		f.mu.Unlock()
		writePage(w, r, trackItems(saved))
	case r.URL.Path == "/me/playlists":
		f.mu.Lock()
		playlists := f.playlists
		f.mu.Unlock()
		items := make([]any, len(playlists))
		for i, p := range playlists {
			items[i] = map[string]any{
				"id":            p.ID,
				"name":          p.Name,
				"description":   "",
				"images":        []any{map[string]any{"url": "https://i.scdn.co/image/" + p.ID}},
				"external_urls": map[string]string{"spotify": "https://open.spotify.com/playlist/" + p.ID},
				"tracks":        map[string]int{"total": len(p.Tracks)},
			}
		}
		writePage(w, r, items)
	case strings.HasPrefix(r.URL.Path, "/playlists/") && strings.HasSuffix(r.URL.Path, "/tracks"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/playlists/"), "/tracks")
		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}

		f.mu.Lock()
		status, failed := f.failures[id]
		var tracks []FakeTrack
		found := false
		for _, p := range f.playlists {
			if p.ID == id {
				tracks, found = p.Tracks, true
			}
		}
		f.mu.Unlock()

		if failed {
			writeError(w, status, "playlist unavailable")
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		writePage(w, r, trackItems(tracks))
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (f *SpotifyFake) serveToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Form.Get("grant_type") {
	case "refresh_token":
		n := f.refreshes.Add(1)
		access := "refreshed-" + strconv.FormatInt(n, 10)
		f.mu.Lock()
		if f.token != "" {
			f.token = access
		}
		f.mu.Unlock()
		writeJSON(w, map[string]any{"access_token": access, "token_type": "Bearer", "expires_in": 3600})
	case "authorization_code":
		if r.Form.Get("code") == "" || r.Form.Get("code") == "bad" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, map[string]any{
			"access_token":  "access-" + r.Form.Get("code"),
			"refresh_token": "refresh-" + r.Form.Get("code"),
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	default:
		writeError(w, http.StatusBadRequest, "unsupported grant")
	}
}

func trackItems(tracks []FakeTrack) []any {
	items := make([]any, len(tracks))
	for i, t := range tracks {
		items[i] = map[string]any{
			"added_at": t.AddedAt,
			"track": map[string]any{
				"id":            t.ID,
				"name":          t.Name,
				"artists":       []any{map[string]string{"name": t.Artist}},
				"album":         map[string]string{"name": t.Album},
				"duration_ms":   t.DurationMS,
				"external_urls": map[string]string{"spotify": "https://open.spotify.com/track/" + t.ID},
			},
		}
	}
	return items
}

func writePage(w http.ResponseWriter, r *http.Request, items []any) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	page := []any{}
	if offset < len(items) {
		page = items[offset:min(offset+limit, len(items))]
	}
	writeJSON(w, map[string]any{"items": page, "total": len(items), "limit": limit, "offset": offset})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"status": status, "message": message}})
}
