package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/libmirror/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file from the embedded template when missing, then opens and migrates the database.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if r.configPath != "" {
		if _, err := os.Stat(r.configPath); os.IsNotExist(err) {
			r.logger.Info("config file not found, creating from template", "path", r.configPath)
			if err := shared.CreateConfigFile(r.configPath); err != nil {
				return err
			}
			r.writePlain("✓ Created %s, fill in credentials.spotify before logging in\n", r.configPath)
		}
	}

	target := r.config.Database.Path
	if r.config.Database.Driver == string(shared.Postgres) {
		target = "postgres"
	}
	r.logger.Info("initializing database", "driver", r.config.Database.Driver, "target", target)

	db, dialect, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	r.logger.Infof("setup complete for %v database: %v", dialect, target)
	return r.writePlain("✓ Database ready (%s)\n", target)
}
