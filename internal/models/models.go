// Package models defines the canonical library entities stored by the mirror.
//
// Playlist and Track IDs are snapshot-local: every sync regenerates them, so they must not be used as stable keys.
// The provider ID is the only identity that survives a resync.
package models

import (
	"time"
)

// Saved-tracks playlist metadata. The "Liked Songs" collection has no provider playlist behind it,
// so it is synthesized with a deterministic ID derived from the owning user.
const (
	LikedSongsName        = "Liked Songs"
	LikedSongsDescription = "Your Spotify Liked Songs"
	LikedSongsImageURL    = "https://t.scdn.co/images/3099b3803ad9496896c43f22fe9be8c4.png"
	LikedSongsURL         = "https://open.spotify.com/collection/tracks"
	likedSongsPrefix      = "liked_songs_"
)

// User is an account with stored provider credentials.
type User struct {
	ID           string
	ProviderID   string
	DisplayName  string
	Email        string
	AccessToken  string
	RefreshToken string
	TokenExpiry  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Playlist is a mirrored playlist with its ordered tracks.
type Playlist struct {
	ID          string
	OwnerID     string
	ProviderID  string
	Name        string
	Description *string
	ImageURL    *string
	URL         string
	Tracks      []Track
	ImportedAt  time.Time
}

// TrackCount is the number of tracks actually held, never a provider-reported total.
func (p Playlist) TrackCount() int {
	return len(p.Tracks)
}

// IsLikedSongs reports whether p is the synthesized saved-tracks playlist.
func (p Playlist) IsLikedSongs() bool {
	return len(p.ProviderID) > len(likedSongsPrefix) && p.ProviderID[:len(likedSongsPrefix)] == likedSongsPrefix
}

// DurationMS sums the lengths of all tracks.
func (p Playlist) DurationMS() int {
	total := 0
	for _, t := range p.Tracks {
		total += t.DurationMS
	}
	return total
}

// Track is a mirrored track.
type Track struct {
	ID         string
	ProviderID string
	Name       string
	Artist     string
	Album      string
	DurationMS int
	URL        string
	AddedAt    *time.Time
}

// PlaylistSummary is one entry of the provider's playlist listing.
//
// Total is informational only; a Playlist's count always comes from its fetched tracks.
type PlaylistSummary struct {
	ProviderID  string
	Name        string
	Description string
	ImageURL    string
	URL         string
	Total       int
}

// Snapshot is the complete result of one sync run before it is committed.
type Snapshot struct {
	UserID    string
	Playlists []Playlist
	FetchedAt time.Time
}

// TrackCount totals tracks across all playlists in the snapshot.
func (s Snapshot) TrackCount() int {
	n := 0
	for _, p := range s.Playlists {
		n += p.TrackCount()
	}
	return n
}

// LikedSongsID returns the synthetic provider ID of a user's saved-tracks playlist.
func LikedSongsID(userID string) string {
	return likedSongsPrefix + userID
}

// NewLikedSongs builds the saved-tracks playlist for a user.
func NewLikedSongs(id, userID string, tracks []Track) Playlist {
	desc, img := LikedSongsDescription, LikedSongsImageURL
	return Playlist{
		ID:          id,
		OwnerID:     userID,
		ProviderID:  LikedSongsID(userID),
		Name:        LikedSongsName,
		Description: &desc,
		ImageURL:    &img,
		URL:         LikedSongsURL,
		Tracks:      tracks,
	}
}

// SyncStatus is the lifecycle state of a [SyncRun].
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncSucceeded SyncStatus = "succeeded"
	SyncFailed    SyncStatus = "failed"
)

// SyncRun records one call to the sync engine for a user.
type SyncRun struct {
	ID            string
	UserID        string
	Status        SyncStatus
	PlaylistCount int
	TrackCount    int
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// Duration is the elapsed time of a finished run, or zero while it is running.
func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
