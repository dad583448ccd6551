package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/libmirror/internal/formatter"
	"github.com/desertthunder/libmirror/internal/shared"
	"github.com/urfave/cli/v3"
)

// Playlists lists a user's stored mirror.
func (r *Runner) Playlists(ctx context.Context, cmd *cli.Command) error {
	s, err := r.open(ctx, stackOpts{})
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.requireUser(ctx, cmd.String("user"))
	if err != nil {
		return err
	}

	playlists, err := s.library.Playlists(ctx, user.ID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(formatter.NewPlaylistDocuments(playlists, cmd.Bool("tracks")), cmd.Bool("pretty"))
	}

	if len(playlists) == 0 {
		return r.writePlain("No stored library for %s. Run: mirror sync --user %s\n", user.ID, user.ID)
	}

	r.writePlain("Found %d playlists (imported %s):\n\n", len(playlists), playlists[0].ImportedAt.Local().Format(time.DateTime))
	for i, p := range playlists {
		r.writePlain("%d. %s\n", i+1, p.Name)
		if p.Description != nil && *p.Description != "" {
			r.writePlain("   Description: %s\n", shared.Truncate(*p.Description, 80))
		}
		r.writePlain("   ID: %s\n", p.ID)
		r.writePlain("   Tracks: %d (%s)\n", p.TrackCount(), shared.FormatDuration(p.DurationMS()))
		if cmd.Bool("tracks") {
			for j, t := range p.Tracks {
				r.writePlain("     %d. %s - %s\n", j+1, t.Artist, t.Name)
			}
		}
		r.writePlain("\n")
	}
	return nil
}

// Export writes a user's stored mirror to files in the chosen format.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	s, err := r.open(ctx, stackOpts{})
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.requireUser(ctx, cmd.String("user"))
	if err != nil {
		return err
	}

	playlists, err := s.library.Playlists(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(playlists) == 0 {
		return fmt.Errorf("%w: no stored library for %s", shared.ErrNotFound, user.ID)
	}

	result, err := formatter.WriteLibraryExport(user.ID, playlists, formatter.ExportOptions{
		Format:        cmd.String("format"),
		OutputDir:     cmd.String("output"),
		DownloadCover: cmd.Bool("covers"),
	})
	if err != nil {
		return err
	}

	r.logger.Info("library exported", "user", user.ID, "format", result.Format, "files", len(result.Files))
	r.writePlain("✓ Exported %d playlists as %s to %s\n", result.Playlists, result.Format, result.Directory)
	for _, f := range result.Files {
		r.writePlain("  %s\n", f)
	}
	return nil
}

// Runs shows the most recent sync runs of a user.
func (r *Runner) Runs(ctx context.Context, cmd *cli.Command) error {
	s, err := r.open(ctx, stackOpts{})
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.requireUser(ctx, cmd.String("user"))
	if err != nil {
		return err
	}

	runs, err := s.runs.ListRuns(ctx, user.ID, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		type runDocument struct {
			ID            string     `json:"id"`
			Status        string     `json:"status"`
			StartedAt     time.Time  `json:"started_at"`
			FinishedAt    *time.Time `json:"finished_at,omitempty"`
			PlaylistCount int        `json:"playlist_count"`
			TrackCount    int        `json:"track_count"`
			Error         string     `json:"error,omitempty"`
		}
		docs := make([]runDocument, len(runs))
		for i, run := range runs {
			docs[i] = runDocument{run.ID, string(run.Status), run.StartedAt, run.FinishedAt, run.PlaylistCount, run.TrackCount, run.Error}
		}
		return r.writeJSON(docs, true)
	}

	if len(runs) == 0 {
		return r.writePlain("No sync runs recorded for %s\n", user.ID)
	}
	for _, run := range runs {
		line := fmt.Sprintf("%s  %-9s  %s", run.StartedAt.Local().Format(time.DateTime), run.Status, run.ID)
		switch {
		case run.Error != "":
			line += "  " + shared.Truncate(run.Error, 80)
		case run.FinishedAt != nil:
			line += fmt.Sprintf("  %d playlists, %d tracks", run.PlaylistCount, run.TrackCount)
		}
		r.writePlain("%s\n", line)
	}
	return nil
}
