package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/desertthunder/libmirror/internal/server"
	"github.com/urfave/cli/v3"
)

// Serve runs the HTTP API until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	s, err := r.open(ctx, stackOpts{notify: true})
	if err != nil {
		return err
	}
	defer s.Close()

	addr := cmd.String("addr")
	if addr == "" {
		addr = net.JoinHostPort(r.config.Server.Host, strconv.Itoa(r.config.Server.Port))
	}

	srv := server.NewServer(server.Deps{
		Auth:     s.auth,
		Profiles: s.catalog,
		Users:    s.users,
		Engine:   s.engine,
		Library:  s.library,
		Logger:   r.logger,
	})

	r.writePlain("→ Serving library mirror API on http://%s\n", addr)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}
