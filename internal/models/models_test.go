package models

import (
	"testing"
	"time"
)

func TestPlaylist(t *testing.T) {
	t.Run("TrackCount follows tracks", func(t *testing.T) {
		p := Playlist{Tracks: []Track{{Name: "a", DurationMS: 1000}, {Name: "b", DurationMS: 2500}}}
		if p.TrackCount() != 2 {
			t.Errorf("expected 2 tracks, got %d", p.TrackCount())
		}
		if p.DurationMS() != 3500 {
			t.Errorf("expected 3500ms, got %d", p.DurationMS())
		}

		p.Tracks = p.Tracks[:1]
		if p.TrackCount() != 1 {
			t.Errorf("expected count to follow slice, got %d", p.TrackCount())
		}
	})

	t.Run("NewLikedSongs", func(t *testing.T) {
		p := NewLikedSongs("id-1", "user-1", []Track{{Name: "a"}})

		if p.ProviderID != "liked_songs_user-1" {
			t.Errorf("unexpected provider id %q", p.ProviderID)
		}
		if p.Name != LikedSongsName || p.URL != LikedSongsURL {
			t.Errorf("unexpected metadata: %+v", p)
		}
		if p.Description == nil || *p.Description != LikedSongsDescription {
			t.Error("expected liked songs description")
		}
		if !p.IsLikedSongs() {
			t.Error("expected IsLikedSongs")
		}
		if (Playlist{ProviderID: "37i9dQZF1DXcBWIGoYBM5M"}).IsLikedSongs() {
			t.Error("provider playlist should not be liked songs")
		}
	})
}

func TestSnapshotTrackCount(t *testing.T) {
	s := Snapshot{Playlists: []Playlist{
		{Tracks: make([]Track, 3)},
		{Tracks: nil},
		{Tracks: make([]Track, 2)},
	}}
	if s.TrackCount() != 5 {
		t.Errorf("expected 5, got %d", s.TrackCount())
	}
}

func TestSyncRunDuration(t *testing.T) {
	start := time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC)
	run := SyncRun{StartedAt: start}
	if run.Duration() != 0 {
		t.Error("running sync should report zero duration")
	}

	end := start.Add(90 * time.Second)
	run.FinishedAt = &end
	if run.Duration() != 90*time.Second {
		t.Errorf("expected 90s, got %v", run.Duration())
	}
}
