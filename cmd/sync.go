package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/libmirror/internal/shared"
	"github.com/desertthunder/libmirror/internal/tasks"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v3"
)

// SyncUser replaces one user's stored mirror, printing progress as the engine reports it.
func (r *Runner) SyncUser(ctx context.Context, cmd *cli.Command) error {
	s, err := r.open(ctx, stackOpts{notify: true})
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.requireUser(ctx, cmd.String("user"))
	if err != nil {
		return err
	}

	r.writePlainHeader(fmt.Sprintf("Syncing %s (%s)", user.DisplayName, user.ProviderID))

	progress, done := r.printProgress()
	committed, err := s.engine.Run(ctx, user.ID, progress)
	close(progress)
	<-done

	if err != nil {
		return r.syncError(err)
	}

	tracks := 0
	for _, p := range committed {
		tracks += p.TrackCount()
	}
	r.writePlainln("✓ Synced %d playlists (%d tracks)", len(committed), tracks)
	return nil
}

// SyncAll resyncs every stored user, reporting per-user failures without aborting the batch.
func (r *Runner) SyncAll(ctx context.Context, cmd *cli.Command) error {
	s, err := r.open(ctx, stackOpts{notify: true})
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := r.reimportAll(ctx, s)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%w: %d of %d users failed", shared.ErrImport, result.Failed, result.Total)
	}
	return nil
}

func (r *Runner) reimportAll(ctx context.Context, s *stack) (*tasks.BatchResult, error) {
	progress, done := r.printProgress()
	result, err := s.engine.ReimportAll(ctx, progress)
	close(progress)
	<-done
	if err != nil {
		return nil, err
	}

	r.writePlainln("Users: %d  Succeeded: %d  Failed: %d  (%s)",
		result.Total, result.Succeeded, result.Failed, result.Elapsed.Round(time.Millisecond))

	failed := make([]string, 0, len(result.Failures))
	for id := range result.Failures {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		r.writePlain("  ✗ %s: %v\n", id, result.Failures[id])
	}
	return result, nil
}

// Schedule runs the batch resync on a cron expression until the context is cancelled.
func (r *Runner) Schedule(ctx context.Context, cmd *cli.Command) error {
	expr := cmd.String("cron")
	if expr == "" {
		expr = r.config.Sync.Schedule
	}
	if expr == "" {
		return fmt.Errorf("%w: --cron or sync.schedule is required", shared.ErrMissingArgument)
	}

	s, err := r.open(ctx, stackOpts{notify: true})
	if err != nil {
		return err
	}
	defer s.Close()

	var running sync.Mutex
	job := func() {
		if !running.TryLock() {
			r.logger.Warn("previous batch still running, skipping")
			return
		}
		defer running.Unlock()

		if _, err := r.reimportAll(ctx, s); err != nil {
			r.logger.Error("scheduled sync failed", "err", err)
		}
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.Local))
	id, err := c.AddFunc(expr, job)
	if err != nil {
		return fmt.Errorf("%w: cron expression %q: %v", shared.ErrInvalidArgument, expr, err)
	}

	if cmd.Bool("now") {
		job()
	}

	c.Start()
	r.logger.Info("scheduler started", "cron", expr, "next", c.Entry(id).Next)

	<-ctx.Done()
	r.logger.Info("scheduler stopping")
	<-c.Stop().Done()
	return nil
}

// printProgress prints engine updates until the returned channel is closed. done is closed once printing stops.
func (r *Runner) printProgress() (chan tasks.ProgressUpdate, <-chan struct{}) {
	progress := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.writePlain("  %s\n", update.Message)
		}
	}()
	return progress, done
}

// syncError adds a next step to failures the user can fix.
func (r *Runner) syncError(err error) error {
	if shared.IsAuthReason(err, shared.RefreshRevoked) {
		r.writePlainln("⚠ Spotify authorization was revoked. Run: mirror auth login")
	}
	return err
}
