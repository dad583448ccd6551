// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func userFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "Stored user ID",
		Required: required,
	}
}

// setupCommand handles first-run setup of the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml if missing, initialize the database and run migrations",
		Action: r.Setup,
	}
}

// authCommand handles Spotify login and stored accounts.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage Spotify authorization",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize a Spotify account with OAuth2 and store its tokens",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: defaultLoginTimeout,
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:  "users",
				Usage: "List stored accounts",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.AuthUsers,
			},
		},
	}
}

// syncCommand replaces stored mirrors with fresh snapshots.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Mirror a user's Spotify library into local storage",
		Flags: []cli.Flag{userFlag(false)},
		Commands: []*cli.Command{
			{
				Name:   "all",
				Usage:  "Resync every stored user",
				Action: r.SyncAll,
			},
		},
		Action: r.SyncUser,
	}
}

// scheduleCommand runs the batch resync on a cron schedule.
func scheduleCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Resync every stored user on a cron schedule (runs until interrupted)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cron",
				Usage: "Cron expression with seconds field (default: sync.schedule from config)",
			},
			&cli.BoolFlag{
				Name:  "now",
				Usage: "Run one batch immediately before waiting for the schedule",
			},
		},
		Action: r.Schedule,
	}
}

// serveCommand starts the HTTP API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API for login, sync and mirror reads",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: server.host:server.port from config)",
			},
		},
		Action: r.Serve,
	}
}

// playlistsCommand lists a stored mirror.
func playlistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "playlists",
		Usage: "List a user's stored playlists",
		Flags: []cli.Flag{
			userFlag(true),
			&cli.BoolFlag{Name: "tracks", Usage: "Include tracks"},
			&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
			&cli.BoolFlag{Name: "pretty", Usage: "Pretty-print JSON output", Value: true},
		},
		Action: r.Playlists,
	}
}

// exportCommand writes a stored mirror to files.
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a user's stored library to JSON, CSV, Markdown or text files",
		Flags: []cli.Flag{
			userFlag(true),
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Export format: json, csv, markdown or txt",
				Value:   "json",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output directory (default: mirror_export_{epoch})",
			},
			&cli.BoolFlag{
				Name:  "covers",
				Usage: "Download playlist covers (markdown only)",
			},
		},
		Action: r.Export,
	}
}

// runsCommand shows sync history.
func runsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Show a user's recent sync runs",
		Flags: []cli.Flag{
			userFlag(true),
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of runs", Value: 10},
			&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
		},
		Action: r.Runs,
	}
}

// browseCommand returns the interactive mirror browser.
func browseCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "browse",
		Aliases: []string{"tui", "ui"},
		Usage:   "Browse a stored library in an interactive TUI",
		Flags:   []cli.Flag{userFlag(true)},
		Action:  r.Browse,
	}
}
