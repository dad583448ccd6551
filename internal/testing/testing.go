// package testing contains shared testing utilities
package testing

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/shared"
)

// NewTestDB creates an in-memory SQLite database with migrations applied, closed on cleanup.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db, shared.SQLite); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

// NewUser returns a user with tokens set, ready to be saved.
func NewUser(providerID string) *models.User {
	return &models.User{
		ProviderID:   providerID,
		DisplayName:  "User " + providerID,
		Email:        providerID + "@example.com",
		AccessToken:  "access-" + providerID,
		RefreshToken: "refresh-" + providerID,
	}
}

// NewSnapshot builds a snapshot for userID with the given track count per playlist.
// The first playlist is the saved-tracks playlist.
func NewSnapshot(userID string, trackCounts ...int) models.Snapshot {
	added := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	snapshot := models.Snapshot{UserID: userID, FetchedAt: time.Date(2025, 1, 2, 2, 0, 0, 0, time.UTC)}

	for i, n := range trackCounts {
		tracks := make([]models.Track, n)
		for j := range tracks {
			at := added.Add(time.Duration(j) * time.Hour)
			tracks[j] = models.Track{
				ID:         shared.GenerateID(),
				ProviderID: fmt.Sprintf("track-%d-%d", i, j),
				Name:       fmt.Sprintf("Song %d.%d", i, j),
				Artist:     "Artist",
				Album:      "Album",
				DurationMS: 180000 + j,
				URL:        fmt.Sprintf("https://open.spotify.com/track/%d%d", i, j),
				AddedAt:    &at,
			}
		}

		if i == 0 {
			snapshot.Playlists = append(snapshot.Playlists, models.NewLikedSongs(shared.GenerateID(), userID, tracks))
			continue
		}

		desc := fmt.Sprintf("Playlist %d", i)
		snapshot.Playlists = append(snapshot.Playlists, models.Playlist{
			ID:          shared.GenerateID(),
			ProviderID:  fmt.Sprintf("playlist-%d", i),
			Name:        fmt.Sprintf("Mix %d", i),
			Description: &desc,
			URL:         fmt.Sprintf("https://open.spotify.com/playlist/%d", i),
			Tracks:      tracks,
		})
	}
	return snapshot
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// RoundTripFunc adapts a function to [http.RoundTripper].
type RoundTripFunc func(*http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}
