package services

import (
	"strings"
	"time"

	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/shared"
)

// Placeholders for fields the provider omitted.
const (
	UnknownTrack  = "Unknown Track"
	UnknownArtist = "Unknown Artist"
	UnknownAlbum  = "Unknown Album"
)

// Mapper converts raw provider records into library entities.
//
// Mapping is deterministic apart from the IDs drawn from NewID, which defaults to [shared.GenerateID].
type Mapper struct {
	NewID func() string
}

func (m Mapper) id() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return shared.GenerateID()
}

// MapTrack applies the defaulting rules to one raw track. An unparsable added-at timestamp is dropped.
func (m Mapper) MapTrack(raw RawTrack) models.Track {
	t := models.Track{
		ID:         m.id(),
		ProviderID: raw.ID,
		Name:       raw.Name,
		Artist:     joinArtists(raw.Artists),
		Album:      UnknownAlbum,
		DurationMS: raw.DurationMS,
		URL:        raw.ExternalURLs["spotify"],
	}

	if t.Name == "" {
		t.Name = UnknownTrack
	}
	if raw.Album != nil && raw.Album.Name != "" {
		t.Album = raw.Album.Name
	}
	if raw.AddedAt != "" {
		if at, err := time.Parse(time.RFC3339, raw.AddedAt); err == nil {
			t.AddedAt = &at
		}
	}
	return t
}

// MapTracks maps a sequence, preserving order.
func (m Mapper) MapTracks(raws []RawTrack) []models.Track {
	tracks := make([]models.Track, len(raws))
	for i, raw := range raws {
		tracks[i] = m.MapTrack(raw)
	}
	return tracks
}

// MapPlaylist builds a playlist from its listing entry and fetched tracks.
// Empty description and image become absent values.
func (m Mapper) MapPlaylist(ownerID string, s models.PlaylistSummary, tracks []models.Track) models.Playlist {
	p := models.Playlist{
		ID:         m.id(),
		OwnerID:    ownerID,
		ProviderID: s.ProviderID,
		Name:       s.Name,
		URL:        s.URL,
		Tracks:     tracks,
	}
	if s.Description != "" {
		desc := s.Description
		p.Description = &desc
	}
	if s.ImageURL != "" {
		img := s.ImageURL
		p.ImageURL = &img
	}
	return p
}

// MapLikedSongs builds the synthesized saved-tracks playlist.
func (m Mapper) MapLikedSongs(userID string, tracks []models.Track) models.Playlist {
	return models.NewLikedSongs(m.id(), userID, tracks)
}

func joinArtists(artists []SpotifyArtist) string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	if len(names) == 0 {
		return UnknownArtist
	}
	return strings.Join(names, ", ")
}
