package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/config"
	"github.com/1broseidon/webgreeter/internal/daemon"
	"github.com/1broseidon/webgreeter/internal/platform"
	"github.com/1broseidon/webgreeter/internal/power"
	"github.com/1broseidon/webgreeter/internal/runtimepath"
	"github.com/1broseidon/webgreeter/internal/session"
	"github.com/1broseidon/webgreeter/internal/theme"
	"github.com/1broseidon/webgreeter/internal/windows"
)

// headlessGeometry sizes the single window used without a display server.
var headlessGeometry = bridge.Rect{Width: 1920, Height: 1080}

func runDaemon(cfg *config.Config, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	socketPath, err := runtimepath.SocketPath(cfg.Bridge.Socket)
	if err != nil {
		logger.Error("failed to resolve socket path", "error", err)
		return 1
	}

	backend := platform.Open(platform.Options{
		Display:    cfg.Display,
		XAuthority: cfg.XAuthority,
		Fallback:   headlessGeometry,
	}, logger)
	defer backend.Close()

	var pw daemon.PowerService
	if logind, err := power.Connect(); err != nil {
		logger.Warn("power actions disabled", "error", err)
	} else {
		logind.Logger = logger
		defer logind.Close()
		pw = logind
	}

	auth := session.NewShadowBackend(cfg.SessionArgv())
	auth.Logger = logger
	auth.ShadowPath = cfg.Auth.ShadowFile
	if !cfg.Auth.SuFallback {
		auth.VerifyFallback = nil
	}

	prompter, err := newPrompter(cfg.Bridge.ErrorPrompt)
	if err != nil {
		logger.Error("invalid error prompt policy", "error", err)
		return 1
	}

	catalog := theme.NewCatalog(cfg.ThemesDir)
	catalog.Logger = logger

	d, err := daemon.New(daemon.Options{
		Logger:     logger,
		Store:      config.NewStore(cfg),
		Catalog:    catalog,
		Auth:       auth,
		Backend:    backend,
		Prompter:   prompter,
		Power:      pw,
		SocketPath: socketPath,
	})
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}

	logger.Info("webgreeter started",
		"version", version,
		"socket", socketPath,
		"windows", d.Registry().Len(),
		"debug", cfg.Greeter.DebugMode,
	)
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("webgreeter stopped", "error", err)
		return 1
	}
	logger.Info("webgreeter stopped")
	return 0
}

// newPrompter maps bridge.error_prompt to a console error prompter.
func newPrompter(policy string) (windows.Prompter, error) {
	if policy == config.ErrorPromptAsk {
		return windows.NewTerminalPrompter(), nil
	}
	choice, err := windows.ParseChoice(policy)
	if err != nil {
		return nil, err
	}
	return windows.StaticPrompter{Choice: choice}, nil
}
