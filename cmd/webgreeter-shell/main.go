package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/ipc"
	"github.com/1broseidon/webgreeter/internal/relay"
	"github.com/1broseidon/webgreeter/internal/runtimepath"
	"github.com/1broseidon/webgreeter/internal/windows"
)

type globalOptions struct {
	socket  string
	window  uint64
	verbose bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: webgreeter-shell [options] <command> [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Attach to a running webgreeter as the content process of one window.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  login [USER]        Authenticate interactively and optionally start a session")
	fmt.Fprintln(w, "  themes [ID]         List themes, or switch every window to ID")
	fmt.Fprintln(w, "  broadcast DATA      Send DATA to the page of every window")
	fmt.Fprintln(w, "  console MESSAGE     Report a theme error as a page script would")
	fmt.Fprintln(w, "  inspect             Serve the bridge as MCP tools on stdio (debug mode only)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	var g globalOptions
	fs := pflag.NewFlagSet("webgreeter-shell", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(stderr)
	fs.StringVar(&g.socket, "socket", "", "Bridge socket (default: runtime dir)")
	fs.Uint64Var(&g.window, "window", 0, "Window id to attach to (default: primary window)")
	fs.BoolVarP(&g.verbose, "verbose", "V", false, "Log bridge traffic to stderr")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		printUsage(stderr, fs)
		return 2
	}

	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "login":
		err = runLogin(ctx, &g, rest, stdin, stdout, stderr)
	case "themes":
		err = runThemes(ctx, &g, rest, stdout)
	case "broadcast":
		err = runBroadcast(ctx, &g, rest, stdout)
	case "console":
		err = runConsole(ctx, &g, rest, stdout)
	case "inspect":
		err = runInspect(ctx, &g, rest, logger)
	case "help":
		printUsage(stdout, fs)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr, fs)
		return 2
	}

	var usage usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usage):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

// usageError marks bad command-line arguments.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

// session is an attached bridge connection.
type session struct {
	relay   *relay.Relay
	welcome ipc.Welcome
	client  *ipc.Client
}

func (s *session) Close() { _ = s.client.Close() }

func socketPath(g *globalOptions) (string, error) {
	return runtimepath.SocketPath(g.socket)
}

// resolveWindow returns the window to attach to: --window, else the
// primary window of the manifest next to the socket.
func resolveWindow(g *globalOptions, socket string) (bridge.WindowID, error) {
	if g.window != 0 {
		return bridge.WindowID(g.window), nil
	}
	path := windows.ManifestPath(socket)
	m, err := windows.LoadManifest(path)
	if err != nil {
		return 0, fmt.Errorf("no --window given and %w", err)
	}
	primary, ok := m.Primary()
	if !ok {
		return 0, fmt.Errorf("window manifest %s lists no primary window", path)
	}
	return primary.ID, nil
}

// attach connects with role and starts the relay.
func attach(ctx context.Context, g *globalOptions, role ipc.Role) (*session, error) {
	socket, err := socketPath(g)
	if err != nil {
		return nil, err
	}
	hello := ipc.Hello{Role: role}
	if role == ipc.RoleContent {
		if hello.Window, err = resolveWindow(g, socket); err != nil {
			return nil, err
		}
	}

	client, err := ipc.Dial(ctx, socket, hello)
	if err != nil {
		return nil, err
	}
	r := relay.New(client)
	go func() {
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Debug("relay stopped", "error", err)
		}
	}()
	slog.Debug("attached", "window", client.Welcome().Window, "role", role)
	return &session{relay: r, welcome: client.Welcome(), client: client}, nil
}

func runThemes(ctx context.Context, g *globalOptions, args []string, stdout io.Writer) error {
	if len(args) > 1 {
		return usageError{"usage: webgreeter-shell themes [ID]"}
	}
	s, err := attach(ctx, g, ipc.RoleContent)
	if err != nil {
		return err
	}
	defer s.Close()
	t := s.relay.ThemeUtils()

	if len(args) == 1 {
		info, err := t.Switch(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to switch theme: %w", err)
		}
		fmt.Fprintf(stdout, "Switched to %s (%s)\n", info.ID, info.Dir)
		return nil
	}

	ids, err := t.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list themes: %w", err)
	}
	cur, err := t.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current theme: %w", err)
	}
	for _, id := range ids {
		marker := " "
		if id == cur.ID {
			marker = "*"
		}
		fmt.Fprintf(stdout, "%s %s\n", marker, id)
	}
	return nil
}

func runBroadcast(ctx context.Context, g *globalOptions, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return usageError{"usage: webgreeter-shell broadcast DATA"}
	}
	s, err := attach(ctx, g, ipc.RoleContent)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.relay.GreeterComm().Broadcast(ctx, args[0]); err != nil {
		return fmt.Errorf("broadcast failed: %w", err)
	}
	fmt.Fprintln(stdout, "Broadcast delivered")
	return nil
}

func runConsole(ctx context.Context, g *globalOptions, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return usageError{"usage: webgreeter-shell console MESSAGE"}
	}
	s, err := attach(ctx, g, ipc.RoleContent)
	if err != nil {
		return err
	}
	defer s.Close()

	reloaded := make(chan string, 1)
	s.relay.ThemeUtils().OnReload(func(theme string) {
		select {
		case reloaded <- theme:
		default:
		}
	})

	console := relay.NewConsole(s.relay, s.welcome.DetectThemeErrors)
	sent, err := console.Report(ctx, "error", args[0], "webgreeter-shell", 0)
	if err != nil {
		return fmt.Errorf("console report failed: %w", err)
	}
	switch {
	case !sent:
		fmt.Fprintln(stdout, "Theme error detection is off; nothing reported")
	case console.Stopped():
		fmt.Fprintln(stdout, "Error reported; further reports suppressed")
	default:
		fmt.Fprintln(stdout, "Error reported")
	}

	select {
	case theme := <-reloaded:
		fmt.Fprintf(stdout, "Window reloaded with theme %s\n", theme)
	default:
	}
	return nil
}
