package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

var (
	ErrReadOnlyFlag = errors.New("flag cannot be changed at runtime")
	ErrUnknownFlag  = errors.New("unknown flag")
)

// Runtime-settable flags.
const (
	FlagDetectThemeErrors = "detect_theme_errors"
	FlagSecureMode        = "secure_mode"
	FlagDebugMode         = "debug_mode"
)

// Store is the live greeter configuration. It is read from ipc
// goroutines and written only by bridge handlers.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg.Clone()}
}

// Config returns a copy of the current configuration.
func (s *Store) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Greeter returns the script-visible settings.
func (s *Store) Greeter() Greeter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Greeter
}

// Snapshot returns the configuration in its wire form.
func (s *Store) Snapshot() bridge.ConfigSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.cfg.Greeter
	return bridge.ConfigSnapshot{
		Theme:              g.Theme,
		SecureMode:         g.SecureMode,
		DetectThemeErrors:  g.DetectThemeErrors,
		DebugMode:          g.DebugMode,
		ScreensaverTimeout: uint(max(g.ScreensaverTimeout, 0)),
		TimeLanguage:       g.TimeLanguage,
		IconTheme:          g.IconTheme,
		BackgroundImages:   s.cfg.Branding.BackgroundImagesDir,
		LogoImage:          s.cfg.Branding.LogoImage,
		UserImage:          s.cfg.Branding.UserImage,
	}
}

func (s *Store) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Greeter.Theme
}

// SetTheme replaces the active theme id. Callers check that the theme
// exists.
func (s *Store) SetTheme(id string) error {
	if id == "" {
		return fmt.Errorf("theme id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Greeter.Theme = id
	return nil
}

// SetFlag updates one boolean setting. secure_mode and debug_mode are
// fixed for the lifetime of the process.
func (s *Store) SetFlag(name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case FlagDetectThemeErrors:
		s.cfg.Greeter.DetectThemeErrors = value
		return nil
	case FlagSecureMode, FlagDebugMode:
		return fmt.Errorf("%w: %s", ErrReadOnlyFlag, name)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFlag, name)
	}
}
