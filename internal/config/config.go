package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultTheme is the built-in theme every installation ships.
	DefaultTheme = "gruvbox"

	DefaultThemesDir  = "/usr/share/web-greeter/themes"
	DefaultShadowFile = "/etc/shadow"
)

// Error prompt policies. ErrorPromptAsk asks on the controlling terminal;
// the others answer every theme error report without asking.
const (
	ErrorPromptAsk          = "ask"
	ErrorPromptCancel       = "cancel"
	ErrorPromptDefaultTheme = "default-theme"
	ErrorPromptReloadTheme  = "reload-theme"
)

// Greeter holds the settings scripts can read through greeter-config.
type Greeter struct {
	Theme              string `yaml:"theme"`
	SecureMode         bool   `yaml:"secure_mode"`
	DetectThemeErrors  bool   `yaml:"detect_theme_errors"`
	DebugMode          bool   `yaml:"debug_mode"`
	ScreensaverTimeout int    `yaml:"screensaver_timeout"` // seconds, 0 = never
	TimeLanguage       string `yaml:"time_language,omitempty"`
	IconTheme          string `yaml:"icon_theme,omitempty"`
}

// Branding points at the images themes may display.
type Branding struct {
	BackgroundImagesDir string `yaml:"background_images_dir"`
	LogoImage           string `yaml:"logo_image,omitempty"`
	UserImage           string `yaml:"user_image,omitempty"`
}

// Bridge configures the control side of the bridge.
type Bridge struct {
	// Socket overrides the runtime-dir socket path.
	Socket string `yaml:"socket,omitempty"`
	// ErrorPrompt selects how theme error reports are resolved.
	ErrorPrompt string `yaml:"error_prompt"`
}

// Auth configures password verification.
type Auth struct {
	ShadowFile string `yaml:"shadow_file"`
	// SuFallback verifies hashes the crypt library cannot (yescrypt) by
	// running su under a pty.
	SuFallback bool `yaml:"su_fallback"`
}

// Config holds the greeter configuration.
type Config struct {
	Greeter    Greeter                   `yaml:"greeter"`
	Branding   Branding                  `yaml:"branding"`
	ThemesDir  string                    `yaml:"themes_dir"`
	Bridge     Bridge                    `yaml:"bridge"`
	Auth       Auth                      `yaml:"auth"`
	Sessions   map[string]SessionCommand `yaml:"sessions"`
	LogLevel   string                    `yaml:"log_level"`
	Display    string                    `yaml:"display,omitempty"`
	XAuthority string                    `yaml:"xauthority,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Greeter: Greeter{
			Theme:              DefaultTheme,
			SecureMode:         true,
			DetectThemeErrors:  true,
			ScreensaverTimeout: 300,
		},
		Branding: Branding{
			BackgroundImagesDir: "/usr/share/backgrounds",
		},
		ThemesDir: DefaultThemesDir,
		Bridge: Bridge{
			ErrorPrompt: ErrorPromptAsk,
		},
		Auth: Auth{
			ShadowFile: DefaultShadowFile,
			SuFallback: true,
		},
		Sessions: map[string]SessionCommand{},
		LogLevel: "info",
	}
}

// Clone returns a copy that shares no maps or slices with c.
func (c *Config) Clone() *Config {
	out := *c
	out.Sessions = make(map[string]SessionCommand, len(c.Sessions))
	for key, cmd := range c.Sessions {
		out.Sessions[key] = append(SessionCommand(nil), cmd...)
	}
	return &out
}

// SessionKeys returns the configured session keys, sorted.
func (c *Config) SessionKeys() []string {
	keys := make([]string, 0, len(c.Sessions))
	for key := range c.Sessions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SessionArgv returns the sessions as the argv map the auth backend
// expects.
func (c *Config) SessionArgv() map[string][]string {
	out := make(map[string][]string, len(c.Sessions))
	for key, cmd := range c.Sessions {
		out[key] = append([]string(nil), cmd...)
	}
	return out
}

// SlogLevel maps log_level to a slog level. Debug mode always logs at
// debug level.
func (c *Config) SlogLevel() slog.Level {
	if c.Greeter.DebugMode {
		return slog.LevelDebug
	}
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate performs strict validation of the effective configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Greeter.Theme) == "" {
		return &ValidationError{Path: "greeter.theme", Err: fmt.Errorf("theme is required")}
	}
	if strings.ContainsAny(c.Greeter.Theme, "/\\") || c.Greeter.Theme == "." || c.Greeter.Theme == ".." {
		return &ValidationError{Path: "greeter.theme", Err: fmt.Errorf("theme %q must be a directory name, not a path", c.Greeter.Theme)}
	}
	if c.Greeter.ScreensaverTimeout < 0 {
		return &ValidationError{Path: "greeter.screensaver_timeout", Err: fmt.Errorf("screensaver_timeout must be >= 0")}
	}
	if !filepath.IsAbs(c.ThemesDir) {
		return &ValidationError{Path: "themes_dir", Err: fmt.Errorf("themes_dir must be an absolute path")}
	}
	if dir := c.Branding.BackgroundImagesDir; dir != "" && !filepath.IsAbs(dir) {
		return &ValidationError{Path: "branding.background_images_dir", Err: fmt.Errorf("background_images_dir must be an absolute path")}
	}
	if c.Bridge.Socket != "" && !filepath.IsAbs(c.Bridge.Socket) {
		return &ValidationError{Path: "bridge.socket", Err: fmt.Errorf("socket must be an absolute path")}
	}
	switch c.Bridge.ErrorPrompt {
	case ErrorPromptAsk, ErrorPromptCancel, ErrorPromptDefaultTheme, ErrorPromptReloadTheme:
	default:
		return &ValidationError{Path: "bridge.error_prompt", Err: fmt.Errorf("error_prompt must be one of: ask, cancel, default-theme, reload-theme")}
	}
	if !filepath.IsAbs(c.Auth.ShadowFile) {
		return &ValidationError{Path: "auth.shadow_file", Err: fmt.Errorf("shadow_file must be an absolute path")}
	}
	for _, key := range c.SessionKeys() {
		if strings.TrimSpace(key) == "" {
			return &ValidationError{Path: "sessions", Err: fmt.Errorf("sessions contains an empty session key")}
		}
		if len(c.Sessions[key]) == 0 {
			return &ValidationError{Path: "sessions." + key, Err: fmt.Errorf("session command must not be empty")}
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return &ValidationError{Path: "log_level", Err: fmt.Errorf("log_level must be one of: debug, info, warning, error")}
	}
	return nil
}
