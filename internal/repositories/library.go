package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/shared"
)

// LibraryRepository stores mirrored playlists and tracks on database/sql.
type LibraryRepository struct {
	db      *sql.DB
	dialect shared.Dialect
}

// NewLibraryRepository creates a new [LibraryRepository] with the given database connection
func NewLibraryRepository(db *sql.DB, dialect shared.Dialect) *LibraryRepository {
	return &LibraryRepository{db: db, dialect: dialect}
}

// Replace swaps the snapshot owner's mirror for the snapshot in one transaction.
//
// Positions follow slice order. The committed playlists are returned with OwnerID and ImportedAt set.
func (r *LibraryRepository) Replace(ctx context.Context, snapshot models.Snapshot) ([]models.Playlist, error) {
	if snapshot.UserID == "" {
		return nil, fmt.Errorf("%w: snapshot has no user", shared.ErrInvalidInput)
	}
	committed := stampSnapshot(snapshot)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deletes := []string{
		`DELETE FROM tracks WHERE playlist_id IN (SELECT id FROM playlists WHERE owner_id = ?)`,
		`DELETE FROM playlists WHERE owner_id = ?`,
	}
	for _, q := range deletes {
		if _, err := tx.ExecContext(ctx, rebind(r.dialect, q), snapshot.UserID); err != nil {
			return nil, fmt.Errorf("failed to clear library: %w", err)
		}
	}

	insertPlaylist, err := tx.PrepareContext(ctx, rebind(r.dialect, `
		INSERT INTO playlists (id, provider_id, owner_id, position, name, description, image_url, url, track_count, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare playlist insert: %w", err)
	}
	defer insertPlaylist.Close()

	insertTrack, err := tx.PrepareContext(ctx, rebind(r.dialect, `
		INSERT INTO tracks (id, playlist_id, position, provider_id, name, artist, album, duration_ms, url, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare track insert: %w", err)
	}
	defer insertTrack.Close()

	for i, p := range committed {
		_, err := insertPlaylist.ExecContext(ctx,
			p.ID, p.ProviderID, p.OwnerID, i, p.Name,
			nullString(p.Description), nullString(p.ImageURL), p.URL,
			p.TrackCount(), p.ImportedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert playlist %q: %w", p.Name, err)
		}

		for j, t := range p.Tracks {
			_, err := insertTrack.ExecContext(ctx,
				t.ID, p.ID, j, t.ProviderID, t.Name, t.Artist, t.Album,
				t.DurationMS, t.URL, nullTime(t.AddedAt),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to insert track %q: %w", t.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit library: %w", err)
	}
	return committed, nil
}

const playlistColumns = `id, provider_id, owner_id, name, description, image_url, url, imported_at`

// Playlists returns a user's mirror in stored order with tracks loaded.
func (r *LibraryRepository) Playlists(ctx context.Context, userID string) ([]models.Playlist, error) {
	rows, err := r.db.QueryContext(ctx,
		rebind(r.dialect, `SELECT `+playlistColumns+` FROM playlists WHERE owner_id = ? ORDER BY position ASC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var (
		playlists []models.Playlist
		index     = make(map[string]int)
	)
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		index[p.ID] = len(playlists)
		playlists = append(playlists, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	trackRows, err := r.db.QueryContext(ctx, rebind(r.dialect, `
		SELECT t.playlist_id, `+trackColumns("t")+`
		FROM tracks t JOIN playlists p ON p.id = t.playlist_id
		WHERE p.owner_id = ?
		ORDER BY p.position ASC, t.position ASC
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer trackRows.Close()

	for trackRows.Next() {
		var playlistID string
		t, err := scanTrack(trackRows, &playlistID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		if i, ok := index[playlistID]; ok {
			playlists[i].Tracks = append(playlists[i].Tracks, *t)
		}
	}
	if err := trackRows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return playlists, nil
}

// Playlist returns one stored playlist with its tracks.
func (r *LibraryRepository) Playlist(ctx context.Context, playlistID string) (*models.Playlist, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, `SELECT `+playlistColumns+` FROM playlists WHERE id = ?`), playlistID)
	p, err := scanPlaylist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &shared.NotFoundError{Entity: "playlist", ID: playlistID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist: %w", err)
	}

	tracks, err := r.tracks(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	p.Tracks = tracks
	return p, nil
}

// Tracks returns a stored playlist's tracks in order.
func (r *LibraryRepository) Tracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	p, err := r.Playlist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	return p.Tracks, nil
}

func (r *LibraryRepository) tracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, `
		SELECT t.playlist_id, `+trackColumns("t")+`
		FROM tracks t WHERE t.playlist_id = ? ORDER BY t.position ASC
	`), playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var owner string
		t, err := scanTrack(rows, &owner)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

// stampSnapshot copies the snapshot playlists, filling in owner, import time and any missing IDs.
func stampSnapshot(snapshot models.Snapshot) []models.Playlist {
	importedAt := snapshot.FetchedAt
	if importedAt.IsZero() {
		importedAt = time.Now()
	}
	importedAt = importedAt.UTC()

	out := make([]models.Playlist, len(snapshot.Playlists))
	for i, p := range snapshot.Playlists {
		p.OwnerID = snapshot.UserID
		p.ImportedAt = importedAt
		if p.ID == "" {
			p.ID = shared.GenerateID()
		}

		tracks := make([]models.Track, len(p.Tracks))
		for j, t := range p.Tracks {
			if t.ID == "" {
				t.ID = shared.GenerateID()
			}
			tracks[j] = t
		}
		p.Tracks = tracks
		out[i] = p
	}
	return out
}

func trackColumns(alias string) string {
	return alias + ".id, " + alias + ".provider_id, " + alias + ".name, " + alias + ".artist, " +
		alias + ".album, " + alias + ".duration_ms, " + alias + ".url, " + alias + ".added_at"
}

func scanPlaylist(s scanner) (*models.Playlist, error) {
	var (
		p           models.Playlist
		description sql.NullString
		imageURL    sql.NullString
	)
	err := s.Scan(&p.ID, &p.ProviderID, &p.OwnerID, &p.Name, &description, &imageURL, &p.URL, &p.ImportedAt)
	if err != nil {
		return nil, err
	}
	p.Description = stringPtr(description)
	p.ImageURL = stringPtr(imageURL)
	return &p, nil
}

func scanTrack(s scanner, playlistID *string) (*models.Track, error) {
	var (
		t       models.Track
		addedAt sql.NullTime
	)
	err := s.Scan(playlistID, &t.ID, &t.ProviderID, &t.Name, &t.Artist, &t.Album, &t.DurationMS, &t.URL, &addedAt)
	if err != nil {
		return nil, err
	}
	t.AddedAt = timePtr(addedAt)
	return &t, nil
}
