package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/libmirror/internal/shared"
	"github.com/desertthunder/libmirror/internal/ui"
	"github.com/urfave/cli/v3"
)

const tuiLogPath = "./tmp/mirror-tui.log"

// Browse launches the interactive terminal browser over a user's stored mirror.
func (r *Runner) Browse(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	if err := os.MkdirAll(filepath.Dir(tuiLogPath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(tuiLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer logFile.Close()

	fileLogger := shared.NewLogger(logFile)
	fileLogger.SetLevel(r.logger.GetLevel())
	r.setLogger(fileLogger)

	s, err := r.open(ctx, stackOpts{notify: true})
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.requireUser(ctx, cmd.String("user"))
	if err != nil {
		return err
	}

	model := ui.NewModel(ctx, user.ID, s.library, s.engine)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
