package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/shared"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxConn is the subset of [pgxpool.Pool] the Postgres library store needs.
// It is satisfied by pgxmock pools in tests.
type PgxConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	playlistCopyColumns = []string{"id", "provider_id", "owner_id", "position", "name", "description", "image_url", "url", "track_count", "imported_at"}
	trackCopyColumns    = []string{"id", "playlist_id", "position", "provider_id", "name", "artist", "album", "duration_ms", "url", "added_at"}
)

// NewPostgresPool opens and pings a pgx connection pool.
func NewPostgresPool(ctx context.Context, cfg shared.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: database.dsn: %v", shared.ErrInvalidConfig, err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

// PostgresLibrary stores mirrored playlists and tracks in Postgres, bulk loading rows with COPY.
type PostgresLibrary struct {
	db PgxConn
}

// NewPostgresLibrary creates a library store over a pgx pool.
func NewPostgresLibrary(db PgxConn) *PostgresLibrary {
	return &PostgresLibrary{db: db}
}

// Replace swaps the snapshot owner's mirror for the snapshot in one transaction.
func (s *PostgresLibrary) Replace(ctx context.Context, snapshot models.Snapshot) ([]models.Playlist, error) {
	if snapshot.UserID == "" {
		return nil, fmt.Errorf("%w: snapshot has no user", shared.ErrInvalidInput)
	}
	committed := stampSnapshot(snapshot)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := s.write(ctx, tx, snapshot.UserID, committed); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit library: %w", err)
	}
	return committed, nil
}

func (s *PostgresLibrary) write(ctx context.Context, tx pgx.Tx, userID string, playlists []models.Playlist) error {
	if _, err := tx.Exec(ctx, `DELETE FROM tracks WHERE playlist_id IN (SELECT id FROM playlists WHERE owner_id = $1)`, userID); err != nil {
		return fmt.Errorf("failed to clear tracks: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM playlists WHERE owner_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear playlists: %w", err)
	}

	var playlistRows, trackRows [][]any
	for i, p := range playlists {
		playlistRows = append(playlistRows, []any{
			p.ID, p.ProviderID, p.OwnerID, i, p.Name, p.Description, p.ImageURL, p.URL, p.TrackCount(), p.ImportedAt,
		})
		for j, t := range p.Tracks {
			trackRows = append(trackRows, []any{
				t.ID, p.ID, j, t.ProviderID, t.Name, t.Artist, t.Album, t.DurationMS, t.URL, t.AddedAt,
			})
		}
	}

	if err := copyRows(ctx, tx, "playlists", playlistCopyColumns, playlistRows); err != nil {
		return err
	}
	return copyRows(ctx, tx, "tracks", trackCopyColumns, trackRows)
}

func copyRows(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) error {
	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", table, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copied %d of %d %s rows", n, len(rows), table)
	}
	return nil
}

// Playlists returns a user's mirror in stored order with tracks loaded.
func (s *PostgresLibrary) Playlists(ctx context.Context, userID string) ([]models.Playlist, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+playlistColumns+` FROM playlists WHERE owner_id = $1 ORDER BY position ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}

	var (
		playlists []models.Playlist
		index     = make(map[string]int)
	)
	for rows.Next() {
		p, err := scanPgPlaylist(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		index[p.ID] = len(playlists)
		playlists = append(playlists, *p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	trackRows, err := s.db.Query(ctx, `
		SELECT t.playlist_id, `+trackColumns("t")+`
		FROM tracks t JOIN playlists p ON p.id = t.playlist_id
		WHERE p.owner_id = $1
		ORDER BY p.position ASC, t.position ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer trackRows.Close()

	for trackRows.Next() {
		var playlistID string
		t, err := scanPgTrack(trackRows, &playlistID)
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
func (s *PostgresLibrary) Playlist(ctx context.Context, playlistID string) (*models.Playlist, error) {
	p, err := scanPgPlaylist(s.db.QueryRow(ctx, `SELECT `+playlistColumns+` FROM playlists WHERE id = $1`, playlistID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &shared.NotFoundError{Entity: "playlist", ID: playlistID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT t.playlist_id, `+trackColumns("t")+`
		FROM tracks t WHERE t.playlist_id = $1 ORDER BY t.position ASC
	`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner string
		t, err := scanPgTrack(rows, &owner)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		p.Tracks = append(p.Tracks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return p, nil
}

// Tracks returns a stored playlist's tracks in order.
func (s *PostgresLibrary) Tracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	p, err := s.Playlist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	return p.Tracks, nil
}

// pgx scans NULL into nil pointers directly, so no sql.Null* wrappers are needed here.
func scanPgPlaylist(row pgx.Row) (*models.Playlist, error) {
	var p models.Playlist
	err := row.Scan(&p.ID, &p.ProviderID, &p.OwnerID, &p.Name, &p.Description, &p.ImageURL, &p.URL, &p.ImportedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPgTrack(row pgx.Row, playlistID *string) (*models.Track, error) {
	var (
		t       models.Track
		addedAt *time.Time
	)
	err := row.Scan(playlistID, &t.ID, &t.ProviderID, &t.Name, &t.Artist, &t.Album, &t.DurationMS, &t.URL, &addedAt)
	if err != nil {
		return nil, err
	}
	t.AddedAt = addedAt
	return &t, nil
}
