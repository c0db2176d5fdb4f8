// Package daemon is the greeter control process: it owns the windows,
// the authentication session and the live configuration, and answers the
// bridge requests of every content process on a single event loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/config"
	"github.com/1broseidon/webgreeter/internal/ipc"
	"github.com/1broseidon/webgreeter/internal/platform"
	"github.com/1broseidon/webgreeter/internal/router"
	"github.com/1broseidon/webgreeter/internal/session"
	"github.com/1broseidon/webgreeter/internal/theme"
	"github.com/1broseidon/webgreeter/internal/windows"
)

const loopQueueSize = 256

// PowerService performs system power actions.
type PowerService interface {
	Capabilities(ctx context.Context) bridge.PowerCapabilities
	Do(ctx context.Context, action string) error
}

// Options are the collaborators of a Daemon.
type Options struct {
	Logger  *slog.Logger
	Store   *config.Store
	Catalog *theme.Catalog
	Auth    session.Backend
	Backend platform.Backend
	// Prompter asks how to recover from theme errors. Defaults to
	// cancelling.
	Prompter windows.Prompter
	// Power is optional; without it power operations report unavailable.
	Power PowerService
	// SocketPath is where the bridge listens.
	SocketPath string
	// Sender replaces the socket transport. The daemon then serves no
	// socket and Attach, Deliver and Detach are driven by the caller.
	Sender   router.Sender
	Hostname func() (string, error)
}

// Daemon wires the bridge components together.
type Daemon struct {
	Logger *slog.Logger

	loop     *Loop
	router   *router.Router
	registry *windows.Registry
	machine  *session.Machine
	flow     *windows.ErrorFlow

	store    *config.Store
	catalog  *theme.Catalog
	lister   theme.Lister
	power    PowerService
	hostname func() (string, error)

	server     *ipc.Server
	socketPath string

	// ctx is the context of Run, read on the loop only.
	ctx context.Context
}

var _ ipc.Host = (*Daemon)(nil)

// New builds the daemon, creating one window per display. It fails if a
// request operation has no handler.
func New(opts Options) (*Daemon, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("daemon: config store is required")
	case opts.Catalog == nil:
		return nil, errors.New("daemon: theme catalog is required")
	case opts.Auth == nil:
		return nil, errors.New("daemon: authentication backend is required")
	case opts.Backend == nil:
		return nil, errors.New("daemon: platform backend is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		Logger:     logger,
		loop:       NewLoop(loopQueueSize),
		store:      opts.Store,
		catalog:    opts.Catalog,
		power:      opts.Power,
		hostname:   opts.Hostname,
		socketPath: opts.SocketPath,
		ctx:        context.Background(),
	}
	if d.hostname == nil {
		d.hostname = os.Hostname
	}
	d.loop.Logger = logger

	sender := opts.Sender
	if sender == nil {
		if opts.SocketPath == "" {
			return nil, errors.New("daemon: socket path is required")
		}
		d.server = ipc.NewServer(opts.SocketPath, d)
		d.server.Logger = logger
		sender = d.server
	}

	d.router = router.New(sender)
	d.router.Logger = logger

	d.registry = windows.NewRegistry(sender, opts.Backend)
	d.registry.Logger = logger
	d.registry.OnRemove(d.dropWindow)

	d.machine = session.New(opts.Auth, d.router, d.post)
	d.machine.Logger = logger
	d.machine.Observe = func(from, to session.State, id string) {
		logger.Debug("session transition", "session", id, "from", from, "to", to)
	}

	prompter := opts.Prompter
	if prompter == nil {
		prompter = windows.StaticPrompter{Choice: windows.ChoiceCancel}
	}
	d.flow = windows.NewErrorFlow(d.registry, prompter, themeSetter{d}, d.post)
	d.flow.Logger = logger

	cfg := d.store.Config()
	d.lister = theme.Lister{
		Secure: cfg.Greeter.SecureMode,
		Roots:  []string{cfg.ThemesDir, cfg.Branding.BackgroundImagesDir},
	}

	d.resolveTheme()
	if err := d.registerWindows(opts.Backend, cfg.Greeter.DebugMode); err != nil {
		return nil, err
	}

	d.routes()
	if err := d.router.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Daemon) resolveTheme() {
	current := d.store.Theme()
	t, err := d.catalog.Resolve(current)
	if err != nil {
		d.Logger.Warn("no usable theme installed", "theme", current, "error", err)
		return
	}
	if t.ID != current {
		_ = d.store.SetTheme(t.ID)
	}
	d.Logger.Info("theme selected", "theme", t.ID, "dir", t.Dir)
}

func (d *Daemon) registerWindows(backend platform.Backend, debug bool) error {
	displays, err := backend.Displays()
	if err != nil {
		return fmt.Errorf("failed to enumerate displays: %w", err)
	}
	if len(displays) == 0 {
		return platform.ErrNoDisplays
	}
	for _, w := range platform.Windows(displays, debug) {
		if err := d.registry.Register(w); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the window registry. It may only be used on the loop.
func (d *Daemon) Registry() *windows.Registry { return d.registry }

// Post runs fn on the event loop.
func (d *Daemon) Post(fn func()) bool { return d.loop.Post(fn) }

func (d *Daemon) post(fn func()) {
	if !d.loop.Post(fn) {
		d.Logger.Debug("event loop stopped, dropping continuation")
	}
}

// Run serves the bridge until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.ctx = ctx

	if d.server != nil {
		if err := d.server.Start(); err != nil {
			return err
		}
		defer d.server.Stop()

		manifest := windows.ManifestPath(d.socketPath)
		if err := windows.SaveManifest(manifest, d.registry.Manifest()); err != nil {
			d.Logger.Warn("failed to publish window manifest", "path", manifest, "error", err)
		} else {
			defer os.Remove(manifest)
		}
	}

	d.Logger.Info("greeter started", "windows", d.registry.Len(), "theme", d.store.Theme())
	d.loop.Run(ctx)
	d.Logger.Info("greeter stopped")
	return nil
}

// Attach admits a content process for a registered window, or an
// inspector in debug mode.
func (d *Daemon) Attach(hello ipc.Hello) (ipc.Welcome, error) {
	g := d.store.Greeter()
	welcome := ipc.Welcome{
		Window:            hello.Window,
		SecureMode:        g.SecureMode,
		DetectThemeErrors: g.DetectThemeErrors,
		DebugMode:         g.DebugMode,
	}

	if hello.Role == ipc.RoleInspector {
		if !g.DebugMode {
			return ipc.Welcome{}, bridge.Errorf(bridge.CodeAccessDenied, "the inspector requires debug mode")
		}
		if !d.loop.Call(func() { d.registry.Observe(hello.Window) }) {
			return ipc.Welcome{}, bridge.Errorf(bridge.CodeUnavailable, "control process is shutting down")
		}
		return welcome, nil
	}

	var known bool
	if !d.loop.Call(func() { _, known = d.registry.Get(hello.Window) }) {
		return ipc.Welcome{}, bridge.Errorf(bridge.CodeUnavailable, "control process is shutting down")
	}
	if !known {
		return ipc.Welcome{}, bridge.Errorf(bridge.CodeAccessDenied, "unknown window %d", hello.Window)
	}
	return welcome, nil
}

// Deliver queues one envelope from window for dispatch.
func (d *Daemon) Deliver(window bridge.WindowID, blob []byte) {
	if !d.loop.Post(func() { d.router.Dispatch(d.ctx, window, blob) }) {
		d.Logger.Debug("event loop stopped, dropping message", "window", window)
	}
}

// Detach forgets what a departed content process was waiting for.
func (d *Daemon) Detach(window bridge.WindowID) {
	d.post(func() { d.dropWindow(window) })
}

func (d *Daemon) dropWindow(window bridge.WindowID) {
	if ipc.IsInspector(window) {
		d.registry.Forget(window)
	}
	d.router.AbandonWindow(window)
	d.machine.DropWindow(window)
}

// broadcastConfig tells every window about a configuration change.
func (d *Daemon) broadcastConfig() {
	if _, err := d.registry.Broadcast(bridge.OpConfigChanged, d.store.Snapshot()); err != nil {
		d.Logger.Error("failed to broadcast configuration", "error", err)
	}
}

// themeSetter is the store as the error flow sees it; a theme change is
// also a configuration change.
type themeSetter struct{ d *Daemon }

func (s themeSetter) Theme() string { return s.d.store.Theme() }

func (s themeSetter) SetTheme(id string) error {
	if err := s.d.store.SetTheme(id); err != nil {
		return err
	}
	s.d.broadcastConfig()
	return nil
}
