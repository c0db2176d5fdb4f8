package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/config"
	"github.com/1broseidon/webgreeter/internal/theme"
)

const version = "0.1.0"

type options struct {
	configPath string
	explain    string

	version    bool
	apiVersion bool

	mode   string
	debug  bool
	normal bool

	theme string
	list  bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func newFlagSet(opts *options, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("webgreeter", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false

	fs.BoolVarP(&opts.version, "version", "v", false, "Print the version and exit")
	fs.BoolVar(&opts.apiVersion, "api-version", false, "Print the bridge API version and exit")

	fs.StringVar(&opts.mode, "mode", "", `Mode: "debug" or "normal"`)
	fs.BoolVarP(&opts.debug, "debug", "d", false, "Debug mode")
	fs.BoolVarP(&opts.normal, "normal", "n", false, "Normal mode")

	fs.StringVar(&opts.theme, "theme", "", "Theme to load instead of greeter.theme")
	fs.BoolVar(&opts.list, "list", false, "List installed themes and exit")

	fs.StringVar(&opts.configPath, "config", "", fmt.Sprintf("Config file (default: $%s or %s)", config.ConfigEnv, config.DefaultConfigFile))
	fs.StringVar(&opts.explain, "explain", "", "Print the effective value of a config key and where it came from, then exit")

	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: webgreeter [options]")
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "Start the greeter control process (foreground).")
		fmt.Fprintln(stderr, "")
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}
	return fs
}

// run returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet(&opts, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "Unexpected argument: %s\n", fs.Arg(0))
		return 2
	}

	if opts.version {
		fmt.Fprintln(stdout, version)
		return 0
	}
	if opts.apiVersion {
		fmt.Fprintln(stdout, bridge.APIVersion)
		return 0
	}

	path := opts.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	res, err := config.LoadFromPath(path)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	if opts.list {
		return listThemes(res.Config.ThemesDir, stdout, stderr)
	}

	if err := applyFlags(res, &opts); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if opts.explain != "" {
		value, src, err := config.Explain(res, opts.explain)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "%s = %v (%s)\n", opts.explain, value, src)
		return 0
	}

	logger := newLogger(res.Config, stderr)
	slog.SetDefault(logger)
	return runDaemon(res.Config, logger)
}

// modeError is printed verbatim before exiting with status 1.
type modeError string

func (e modeError) Error() string { return string(e) }

// resolveMode returns the debug_mode requested on the command line, or
// nil when no mode flag was given.
func resolveMode(mode string, debug, normal bool) (*bool, error) {
	hasMode := mode != ""
	switch {
	case hasMode && debug && normal:
		return nil, modeError(`Conflict arguments: "--mode", "--debug" and "--normal"`)
	case hasMode && debug:
		return nil, modeError(`Conflict arguments: "--mode" and "--debug"`)
	case hasMode && normal:
		return nil, modeError(`Conflict arguments: "--mode" and "--normal"`)
	case debug && normal:
		return nil, modeError(`Conflict arguments: "--debug" and "--normal"`)
	}

	switch {
	case mode == "debug":
		debug = true
	case mode == "normal":
		normal = true
	case hasMode:
		return nil, modeError(`Argument --mode should be: "debug" or "normal"`)
	}

	switch {
	case debug:
		v := true
		return &v, nil
	case normal:
		v := false
		return &v, nil
	}
	return nil, nil
}

// applyFlags overrides configuration values with command-line flags and
// validates the result.
func applyFlags(res *config.LoadResult, opts *options) error {
	if opts.theme != "" {
		res.Config.Greeter.Theme = opts.theme
		res.Override("greeter.theme", "theme")
	}

	debugMode, err := resolveMode(opts.mode, opts.debug, opts.normal)
	if err != nil {
		return err
	}
	if debugMode != nil {
		res.Config.Greeter.DebugMode = *debugMode
		flag := "mode"
		switch {
		case opts.debug:
			flag = "debug"
		case opts.normal:
			flag = "normal"
		}
		res.Override("greeter.debug_mode", flag)
	}

	return res.Revalidate()
}

func listThemes(dir string, stdout, stderr io.Writer) int {
	ids, err := theme.NewCatalog(dir).List()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to list themes: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Themes in %s:\n", dir)
	for _, id := range ids {
		fmt.Fprintf(stdout, "  %s\n", id)
	}
	return 0
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}
