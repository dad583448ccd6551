// package tasks implements the library synchronization engine.
//
// The core abstraction is ImportEngine, which replaces a user's stored mirror with a fresh snapshot of their library.
// Operations emit progress updates via channels for non-blocking status reporting to CLI/UI layers.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/libmirror/internal/models"
	"github.com/desertthunder/libmirror/internal/services"
	"github.com/desertthunder/libmirror/internal/shared"
	"golang.org/x/sync/errgroup"
)

// UserStore looks up and persists user credentials.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)
}

// LibraryStore atomically replaces a user's mirror with a snapshot.
type LibraryStore interface {
	Replace(ctx context.Context, snapshot models.Snapshot) ([]models.Playlist, error)
}

// RunRecorder keeps the history of sync calls.
type RunRecorder interface {
	StartRun(ctx context.Context, userID string) (*models.SyncRun, error)
	FinishRun(ctx context.Context, run *models.SyncRun) error
}

// Notifier announces committed syncs.
type Notifier interface {
	LibrarySynced(ctx context.Context, run models.SyncRun) error
}

// Catalog is the provider surface a sync reads from. It is satisfied by [services.CatalogClient].
type Catalog interface {
	ListSavedTracks(ctx context.Context, tokens services.Tokens) ([]services.RawTrack, error)
	ListPlaylists(ctx context.Context, tokens services.Tokens) ([]models.PlaylistSummary, error)
	ListPlaylistTracks(ctx context.Context, tokens services.Tokens, playlistID string) ([]services.RawTrack, error)
}

// SyncEngine defines library sync operations.
type SyncEngine interface {
	// Sync replaces the stored mirror of one user with a freshly fetched snapshot and returns the committed playlists.
	Sync(ctx context.Context, userID string) ([]models.Playlist, error)

	// ReimportAll syncs every stored user, isolating failures per user.
	ReimportAll(ctx context.Context, progress chan<- ProgressUpdate) (*BatchResult, error)
}

// EngineOptions configures an [ImportEngine]. Zero values take defaults.
type EngineOptions struct {
	Concurrency  int            // Per-run playlist fan-out bound (default: number of CPUs)
	BatchWorkers int            // Concurrent users in ReimportAll (default: 4)
	Runs         RunRecorder    // Optional sync history
	Notifier     Notifier       // Optional post-commit notifications
	Mapper       services.Mapper
	Logger       *log.Logger
}

// ImportEngine implements SyncEngine.
// Contains dependencies on the stores, the catalog client and the authenticator that issues per-run tokens.
type ImportEngine struct {
	users        UserStore
	library      LibraryStore
	catalog      Catalog
	auth         *services.Authenticator
	runs         RunRecorder
	notifier     Notifier
	mapper       services.Mapper
	concurrency  int
	batchWorkers int
	logger       *log.Logger
}

// NewImportEngine creates a new ImportEngine with the provided dependencies.
func NewImportEngine(users UserStore, library LibraryStore, catalog Catalog, auth *services.Authenticator, opts EngineOptions) *ImportEngine {
	e := &ImportEngine{
		users:        users,
		library:      library,
		catalog:      catalog,
		auth:         auth,
		runs:         opts.Runs,
		notifier:     opts.Notifier,
		mapper:       opts.Mapper,
		concurrency:  opts.Concurrency,
		batchWorkers: opts.BatchWorkers,
		logger:       opts.Logger,
	}
	if e.concurrency <= 0 {
		e.concurrency = shared.SyncConfig{}.Workers()
	}
	if e.batchWorkers <= 0 {
		e.batchWorkers = 4
	}
	if e.logger == nil {
		e.logger = shared.NewLogger(nil)
	}
	return e
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (e *ImportEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Sync replaces the stored mirror of userID with a fresh snapshot.
func (e *ImportEngine) Sync(ctx context.Context, userID string) ([]models.Playlist, error) {
	return e.Run(ctx, userID, nil)
}

// Run is [ImportEngine.Sync] with progress reporting.
//
// Any failure is returned as a [*shared.ImportError] naming the phase it occurred in, and nothing is committed.
func (e *ImportEngine) Run(ctx context.Context, userID string, progress chan<- ProgressUpdate) ([]models.Playlist, error) {
	if e.users == nil || e.library == nil || e.catalog == nil || e.auth == nil {
		return nil, fmt.Errorf("%w: import engine not initialized", shared.ErrServiceUnavailable)
	}

	logger := e.logger.With("user", userID)
	e.sendProgress(progress, startUpdate(userID))

	run := e.startRun(ctx, userID, logger)
	logger = logger.With("run", run.ID)
	started := time.Now()

	committed, phase, err := e.sync(ctx, userID, progress, logger)
	if err != nil {
		ierr := &shared.ImportError{UserID: userID, Phase: phase.String(), Cause: err}
		run.Status = models.SyncFailed
		run.Error = ierr.Error()
		e.finishRun(ctx, run, logger)

		logger.Error("sync failed", "phase", phase, "err", err)
		e.sendProgress(progress, failedUpdate(ierr))
		return nil, ierr
	}

	run.Status = models.SyncSucceeded
	run.PlaylistCount = len(committed)
	for _, p := range committed {
		run.TrackCount += p.TrackCount()
	}
	e.finishRun(ctx, run, logger)
	e.notify(ctx, *run, logger)

	logger.Info("sync complete", "playlists", run.PlaylistCount, "tracks", run.TrackCount, "elapsed", time.Since(started).Round(time.Millisecond))
	e.sendProgress(progress, doneUpdate(run.PlaylistCount, run.TrackCount))
	return committed, nil
}

// sync runs the state machine up to Commit, returning the phase of the first failure.
func (e *ImportEngine) sync(ctx context.Context, userID string, progress chan<- ProgressUpdate, logger *log.Logger) ([]models.Playlist, Phase, error) {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return nil, Start, err
	}
	tokens := e.auth.Bind(*user, e.users)

	logger.Info("fetching saved tracks")
	e.sendProgress(progress, fetchSavedUpdate())
	raws, err := e.catalog.ListSavedTracks(ctx, tokens)
	if err != nil {
		return nil, FetchSaved, err
	}
	saved := e.mapper.MapTracks(raws)
	if len(saved) == 0 {
		return nil, FetchSaved, shared.ErrNoSavedTracks
	}
	e.sendProgress(progress, savedFetchedUpdate(len(saved)))

	logger.Info("fetching playlists")
	e.sendProgress(progress, fetchPlaylistListUpdate())
	summaries, err := e.catalog.ListPlaylists(ctx, tokens)
	if err != nil {
		return nil, FetchPlaylistList, err
	}

	logger.Info("fetching playlist tracks", "playlists", len(summaries), "concurrency", e.concurrency)
	e.sendProgress(progress, fanOutUpdate(len(summaries)))
	playlists, err := e.fetchPlaylists(ctx, user.ID, tokens, summaries, progress, logger)
	if err != nil {
		return nil, FanOutTracks, err
	}

	snapshot := models.Snapshot{
		UserID:    user.ID,
		Playlists: make([]models.Playlist, 0, len(playlists)+1),
		FetchedAt: time.Now().UTC(),
	}
	snapshot.Playlists = append(snapshot.Playlists, e.mapper.MapLikedSongs(user.ID, saved))
	snapshot.Playlists = append(snapshot.Playlists, playlists...)
	e.sendProgress(progress, assembleUpdate(len(snapshot.Playlists)))

	logger.Info("committing snapshot", "playlists", len(snapshot.Playlists), "tracks", snapshot.TrackCount())
	e.sendProgress(progress, commitUpdate())
	committed, err := e.library.Replace(ctx, snapshot)
	if err != nil {
		return nil, Commit, err
	}
	return committed, Done, nil
}

// fetchPlaylists fetches every playlist's tracks with at most e.concurrency requests in flight.
//
// Results keep listing order. The first failure cancels the remaining fetches.
func (e *ImportEngine) fetchPlaylists(
	ctx context.Context,
	ownerID string,
	tokens services.Tokens,
	summaries []models.PlaylistSummary,
	progress chan<- ProgressUpdate,
	logger *log.Logger,
) ([]models.Playlist, error) {
	playlists := make([]models.Playlist, len(summaries))
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, summary := range summaries {
		g.Go(func() error {
			raws, err := e.catalog.ListPlaylistTracks(gctx, tokens, summary.ProviderID)
			if err != nil {
				return fmt.Errorf("playlist %s: %w", summary.ProviderID, err)
			}

			playlists[i] = e.mapper.MapPlaylist(ownerID, summary, e.mapper.MapTracks(raws))

			n := int(completed.Add(1))
			logger.Debug("playlist fetched", "playlist", summary.Name, "tracks", len(raws))
			e.sendProgress(progress, playlistFetchedUpdate(n, len(summaries), summary.Name, len(raws)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, err
	}
	return playlists, nil
}

// startRun records a running sync. Without a recorder, or when recording fails, an unsaved run is returned.
func (e *ImportEngine) startRun(ctx context.Context, userID string, logger *log.Logger) *models.SyncRun {
	if e.runs != nil {
		run, err := e.runs.StartRun(ctx, userID)
		if err == nil {
			return run
		}
		logger.Warn("failed to record sync run", "err", err)
	}
	return &models.SyncRun{ID: shared.GenerateID(), UserID: userID, Status: models.SyncRunning, StartedAt: time.Now().UTC()}
}

func (e *ImportEngine) finishRun(ctx context.Context, run *models.SyncRun, logger *log.Logger) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	if e.runs == nil {
		return
	}
	if err := e.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to finish sync run", "err", err)
	}
}

func (e *ImportEngine) notify(ctx context.Context, run models.SyncRun, logger *log.Logger) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.LibrarySynced(ctx, run); err != nil {
		logger.Warn("failed to publish sync event", "err", err)
	}
}
