package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/inspect"
	"github.com/1broseidon/webgreeter/internal/ipc"
)

func runInspect(ctx context.Context, g *globalOptions, args []string, logger *slog.Logger) error {
	if len(args) > 0 {
		return usageError{"usage: webgreeter-shell inspect"}
	}
	s, err := attach(ctx, g, ipc.RoleInspector)
	if err != nil {
		if errors.Is(err, bridge.ErrAccessDenied) {
			return fmt.Errorf("%w (start webgreeter with --debug)", err)
		}
		return err
	}
	defer s.Close()

	srv := inspect.NewServer(s.relay, s.welcome.Window)
	srv.Logger = logger
	logger.Info("inspector attached", "window", s.welcome.Window)
	return srv.Run(ctx)
}
