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

// SyncRunRepository records the history of sync calls.
type SyncRunRepository struct {
	db      *sql.DB
	dialect shared.Dialect
}

// NewSyncRunRepository creates a new [SyncRunRepository] with the given database connection
func NewSyncRunRepository(db *sql.DB, dialect shared.Dialect) *SyncRunRepository {
	return &SyncRunRepository{db: db, dialect: dialect}
}

const syncRunColumns = `id, user_id, status, playlist_count, track_count, error, started_at, finished_at`

// StartRun inserts a running sync for userID.
func (r *SyncRunRepository) StartRun(ctx context.Context, userID string) (*models.SyncRun, error) {
	run := &models.SyncRun{
		ID:        shared.GenerateID(),
		UserID:    userID,
		Status:    models.SyncRunning,
		StartedAt: time.Now().UTC(),
	}

	query := rebind(r.dialect, `INSERT INTO sync_runs (id, user_id, status, started_at) VALUES (?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, run.ID, run.UserID, string(run.Status), run.StartedAt); err != nil {
		return nil, fmt.Errorf("failed to insert sync run: %w", err)
	}
	return run, nil
}

// FinishRun stores the final status, counts and error of run, stamping FinishedAt if unset.
func (r *SyncRunRepository) FinishRun(ctx context.Context, run *models.SyncRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	query := rebind(r.dialect, `
		UPDATE sync_runs
		SET status = ?, playlist_count = ?, track_count = ?, error = ?, finished_at = ?
		WHERE id = ?
	`)
	result, err := r.db.ExecContext(ctx, query,
		string(run.Status), run.PlaylistCount, run.TrackCount, run.Error, nullTime(run.FinishedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return &shared.NotFoundError{Entity: "sync run", ID: run.ID}
	}
	return nil
}

// GetRun retrieves a sync run by ID.
func (r *SyncRunRepository) GetRun(ctx context.Context, id string) (*models.SyncRun, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, `SELECT `+syncRunColumns+` FROM sync_runs WHERE id = ?`), id)
	run, err := scanSyncRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &shared.NotFoundError{Entity: "sync run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync run: %w", err)
	}
	return run, nil
}

// ListRuns returns a user's most recent runs first. A limit of zero or less returns all of them.
func (r *SyncRunRepository) ListRuns(ctx context.Context, userID string, limit int) ([]models.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs WHERE user_id = ? ORDER BY started_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, rebind(r.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

func scanSyncRun(s scanner) (*models.SyncRun, error) {
	var (
		run      models.SyncRun
		status   string
		finished sql.NullTime
	)
	err := s.Scan(&run.ID, &run.UserID, &status, &run.PlaylistCount, &run.TrackCount, &run.Error, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	run.Status = models.SyncStatus(status)
	run.FinishedAt = timePtr(finished)
	return &run, nil
}
