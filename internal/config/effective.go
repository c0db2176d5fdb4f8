package config

import (
	"fmt"
)

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BuildEffectiveConfig applies raw over the defaults.
func BuildEffectiveConfig(raw RawConfig) *Config {
	cfg := DefaultConfig()

	if g := raw.Greeter; g != nil {
		apply(&cfg.Greeter.Theme, g.Theme)
		apply(&cfg.Greeter.SecureMode, g.SecureMode)
		apply(&cfg.Greeter.DetectThemeErrors, g.DetectThemeErrors)
		apply(&cfg.Greeter.DebugMode, g.DebugMode)
		apply(&cfg.Greeter.ScreensaverTimeout, g.ScreensaverTimeout)
		apply(&cfg.Greeter.TimeLanguage, g.TimeLanguage)
		apply(&cfg.Greeter.IconTheme, g.IconTheme)
	}
	if b := raw.Branding; b != nil {
		apply(&cfg.Branding.BackgroundImagesDir, b.BackgroundImagesDir)
		apply(&cfg.Branding.LogoImage, b.LogoImage)
		apply(&cfg.Branding.UserImage, b.UserImage)
	}
	if b := raw.Bridge; b != nil {
		apply(&cfg.Bridge.Socket, b.Socket)
		apply(&cfg.Bridge.ErrorPrompt, b.ErrorPrompt)
	}
	if a := raw.Auth; a != nil {
		apply(&cfg.Auth.ShadowFile, a.ShadowFile)
		apply(&cfg.Auth.SuFallback, a.SuFallback)
	}
	for key, cmd := range raw.Sessions {
		cfg.Sessions[key] = cmd
	}
	apply(&cfg.ThemesDir, raw.ThemesDir)
	apply(&cfg.LogLevel, raw.LogLevel)
	apply(&cfg.Display, raw.Display)
	apply(&cfg.XAuthority, raw.XAuthority)

	return cfg
}

func apply[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
