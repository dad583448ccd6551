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

// UserRepository persists [models.User] credentials.
type UserRepository struct {
	db      *sql.DB
	dialect shared.Dialect
}

// NewUserRepository creates a new [UserRepository] with the given database connection
func NewUserRepository(db *sql.DB, dialect shared.Dialect) *UserRepository {
	return &UserRepository{db: db, dialect: dialect}
}

const userColumns = `id, provider_id, display_name, email, access_token, refresh_token, token_expiry, created_at, updated_at`

// GetUser retrieves a user by ID.
func (r *UserRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := rebind(r.dialect, `SELECT `+userColumns+` FROM users WHERE id = ?`)
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &shared.NotFoundError{Entity: "user", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// SaveUser inserts the user or, when the provider account is already known, updates its profile and tokens.
//
// On return user.ID and user.CreatedAt hold the stored values.
func (r *UserRepository) SaveUser(ctx context.Context, user *models.User) error {
	if user.ProviderID == "" {
		return fmt.Errorf("%w: user provider id is required", shared.ErrInvalidInput)
	}
	if user.AccessToken == "" {
		return fmt.Errorf("%w: user access token is required", shared.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = shared.GenerateID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := rebind(r.dialect, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expiry = excluded.token_expiry,
			updated_at = excluded.updated_at
	`)

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.ProviderID,
		user.DisplayName,
		user.Email,
		user.AccessToken,
		user.RefreshToken,
		nullTime(user.TokenExpiry),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	row := r.db.QueryRowContext(ctx, rebind(r.dialect, `SELECT id, created_at FROM users WHERE provider_id = ?`), user.ProviderID)
	if err := row.Scan(&user.ID, &user.CreatedAt); err != nil {
		return fmt.Errorf("failed to read saved user: %w", err)
	}
	return nil
}

// ListUsers returns every user, oldest first.
func (r *UserRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return users, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*models.User, error) {
	var (
		user   models.User
		expiry sql.NullTime
	)
	err := s.Scan(
		&user.ID,
		&user.ProviderID,
		&user.DisplayName,
		&user.Email,
		&user.AccessToken,
		&user.RefreshToken,
		&expiry,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.TokenExpiry = timePtr(expiry)
	return &user, nil
}
