package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/notify"
	"github.com/desertthunder/libmirror/internal/repositories"
	"github.com/desertthunder/libmirror/internal/services"
	"github.com/desertthunder/libmirror/internal/shared"
	"github.com/desertthunder/libmirror/internal/tasks"
)

// libraryStore is the mirror store for the configured driver.
type libraryStore interface {
	tasks.LibraryStore
	Playlists(ctx context.Context, userID string) ([]models.Playlist, error)
	Tracks(ctx context.Context, playlistID string) ([]models.Track, error)
}

var (
	_ libraryStore = (*repositories.LibraryRepository)(nil)
	_ libraryStore = (*repositories.PostgresLibrary)(nil)
)

// stack is the wired application: stores, provider clients and the import engine.
type stack struct {
	db       *sql.DB
	users    *repositories.UserRepository
	runs     *repositories.SyncRunRepository
	library  libraryStore
	catalog  *services.CatalogClient
	auth     *services.Authenticator
	engine   *tasks.ImportEngine
	notifier *notify.Publisher
	closers  []func() error
}

type stackOpts struct {
	notify bool // connect the Redis publisher when configured
}

// open connects the database selected by config, migrates it, and wires the engine.
func (r *Runner) open(ctx context.Context, opts stackOpts) (*stack, error) {
	db, dialect, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, err
	}

	s := &stack{
		db:      db,
		users:   repositories.NewUserRepository(db, dialect),
		runs:    repositories.NewSyncRunRepository(db, dialect),
		closers: []func() error{db.Close},
	}

	switch dialect {
	case shared.Postgres:
		pool, err := repositories.NewPostgresPool(ctx, r.config.Database)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		s.library = repositories.NewPostgresLibrary(pool)
	default:
		s.library = repositories.NewLibraryRepository(db, dialect)
	}

	catalogOpts := services.CatalogOptionsFromConfig(r.config.Sync)
	catalogOpts.BaseURL = r.catalogURL
	catalogOpts.HTTPClient = r.httpClient
	catalogOpts.Logger = r.logger
	s.catalog = services.NewCatalogClient(catalogOpts)
	s.auth = services.NewAuthenticator(r.oauthConfig(), r.httpClient)

	engineOpts := tasks.EngineOptions{
		Concurrency:  r.config.Sync.Workers(),
		BatchWorkers: r.config.Sync.BatchWorkers,
		Runs:         s.runs,
		Logger:       r.logger,
	}

	if opts.notify && r.config.Redis.URL != "" {
		publisher, closeRedis, err := notify.NewRedisPublisher(ctx, r.config.Redis)
		if err != nil {
			r.logger.Warn("sync notifications disabled", "err", err)
		} else {
			s.notifier = publisher
			s.closers = append(s.closers, closeRedis)
			engineOpts.Notifier = publisher
			r.logger.Info("publishing sync notifications", "channel", publisher.Channel())
		}
	}

	s.engine = tasks.NewImportEngine(s.users, s.library, s.catalog, s.auth, engineOpts)
	return s, nil
}

// Close releases every connection in reverse order of opening.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// requireUser resolves the --user flag to a stored user.
func (s *stack) requireUser(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: --user is required", shared.ErrMissingArgument)
	}
	return s.users.GetUser(ctx, userID)
}
