package windows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

// FallbackTheme is the built-in theme offered when a theme is broken.
const FallbackTheme = "gruvbox"

// Choice is the user's answer to a theme error prompt.
type Choice uint8

const (
	ChoiceCancel Choice = iota
	ChoiceDefaultTheme
	ChoiceReloadTheme
)

func (c Choice) String() string {
	switch c {
	case ChoiceDefaultTheme:
		return "default-theme"
	case ChoiceReloadTheme:
		return "reload-theme"
	default:
		return "cancel"
	}
}

// Prompter asks the user how to recover from a theme error. Choose may
// block; it never runs on the control loop.
type Prompter interface {
	Choose(ctx context.Context, window bridge.WindowID, report bridge.ConsoleReport) (Choice, error)
}

// ThemeSetter is the shared configuration the flow changes.
type ThemeSetter interface {
	Theme() string
	SetTheme(id string) error
}

// Replier answers the console request once the flow is resolved.
type Replier interface {
	Reply(result any) error
}

// ErrorFlow runs the theme error resolution. At most one prompt is shown
// at a time, whichever window reports.
type ErrorFlow struct {
	Logger *slog.Logger

	registry *Registry
	prompter Prompter
	themes   ThemeSetter
	post     func(func())

	active bool
}

// NewErrorFlow creates the flow. post must run fn on the control loop.
func NewErrorFlow(registry *Registry, prompter Prompter, themes ThemeSetter, post func(func())) *ErrorFlow {
	return &ErrorFlow{
		Logger:   slog.Default(),
		registry: registry,
		prompter: prompter,
		themes:   themes,
		post:     post,
	}
}

// Active reports whether a prompt is being shown.
func (f *ErrorFlow) Active() bool { return f.active }

// Resolve handles a console error report from window. The reply carries
// stop_prompts: true once a recovery was applied.
func (f *ErrorFlow) Resolve(ctx context.Context, window bridge.WindowID, report bridge.ConsoleReport, reply Replier) {
	f.Logger.Warn("theme error reported", "window", window, "kind", report.Kind,
		"message", report.Message, "source", report.Source, "line", report.Line)

	if f.active {
		f.Logger.Info("theme error prompt already shown, ignoring report", "window", window)
		f.answer(reply, false)
		return
	}
	f.active = true

	go func() {
		choice, err := f.prompter.Choose(ctx, window, report)
		f.post(func() {
			stop := f.apply(choice, err)
			f.active = false
			f.answer(reply, stop)
		})
	}()
}

// apply carries out the chosen recovery and reports whether further
// prompts should stop.
func (f *ErrorFlow) apply(choice Choice, err error) bool {
	if err != nil {
		f.Logger.Error("theme error prompt failed", "error", err)
		return false
	}
	f.Logger.Info("theme error resolved", "choice", choice)

	switch choice {
	case ChoiceDefaultTheme:
		if err := f.themes.SetTheme(FallbackTheme); err != nil {
			f.Logger.Error("failed to switch to fallback theme", "theme", FallbackTheme, "error", err)
			return false
		}
		f.reloadAll(FallbackTheme)
		return true
	case ChoiceReloadTheme:
		f.reloadAll(f.themes.Theme())
		return true
	default:
		return false
	}
}

func (f *ErrorFlow) reloadAll(theme string) {
	delivered, err := f.registry.Broadcast(bridge.OpReload, bridge.Reload{Theme: theme})
	if err != nil {
		f.Logger.Error("failed to broadcast reload", "theme", theme, "error", err)
		return
	}
	f.Logger.Info("reload broadcast", "theme", theme, "windows", len(delivered))
}

func (f *ErrorFlow) answer(reply Replier, stop bool) {
	if err := reply.Reply(bridge.ConsoleResult{StopPrompts: stop}); err != nil {
		f.Logger.Debug("console reply not delivered", "error", err)
	}
}

// StaticPrompter always answers with the same choice.
type StaticPrompter struct {
	Choice Choice
}

func (p StaticPrompter) Choose(ctx context.Context, window bridge.WindowID, report bridge.ConsoleReport) (Choice, error) {
	return p.Choice, nil
}

// ParseChoice parses the choice names accepted in configuration.
func ParseChoice(s string) (Choice, error) {
	switch s {
	case "cancel", "":
		return ChoiceCancel, nil
	case "default-theme":
		return ChoiceDefaultTheme, nil
	case "reload-theme":
		return ChoiceReloadTheme, nil
	default:
		return ChoiceCancel, fmt.Errorf("unknown theme error choice %q", s)
	}
}
