package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// IncludeList supports either:
//
//	include: "/etc/webgreeter/local.yml"
//
// or:
//
//	include:
//	  - "/etc/webgreeter/local.yml"
//	  - "/etc/webgreeter/conf.d"
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

// Raw types keep every field optional so that included files only
// override what they set.

type RawGreeter struct {
	Theme              *string `yaml:"theme"`
	SecureMode         *bool   `yaml:"secure_mode"`
	DetectThemeErrors  *bool   `yaml:"detect_theme_errors"`
	DebugMode          *bool   `yaml:"debug_mode"`
	ScreensaverTimeout *int    `yaml:"screensaver_timeout"`
	TimeLanguage       *string `yaml:"time_language"`
	IconTheme          *string `yaml:"icon_theme"`
}

type RawBranding struct {
	BackgroundImagesDir *string `yaml:"background_images_dir"`
	LogoImage           *string `yaml:"logo_image"`
	UserImage           *string `yaml:"user_image"`
}

type RawBridge struct {
	Socket      *string `yaml:"socket"`
	ErrorPrompt *string `yaml:"error_prompt"`
}

type RawAuth struct {
	ShadowFile *string `yaml:"shadow_file"`
	SuFallback *bool   `yaml:"su_fallback"`
}

type RawConfig struct {
	Include    IncludeList               `yaml:"include"`
	Greeter    *RawGreeter               `yaml:"greeter"`
	Branding   *RawBranding              `yaml:"branding"`
	ThemesDir  *string                   `yaml:"themes_dir"`
	Bridge     *RawBridge                `yaml:"bridge"`
	Auth       *RawAuth                  `yaml:"auth"`
	Sessions   map[string]SessionCommand `yaml:"sessions"`
	LogLevel   *string                   `yaml:"log_level"`
	Display    *string                   `yaml:"display"`
	XAuthority *string                   `yaml:"xauthority"`
}

func (c RawConfig) merge(overlay RawConfig) RawConfig {
	out := c

	if overlay.Greeter != nil {
		g := RawGreeter{}
		if out.Greeter != nil {
			g = *out.Greeter
		}
		o := overlay.Greeter
		setIf(&g.Theme, o.Theme)
		setIf(&g.SecureMode, o.SecureMode)
		setIf(&g.DetectThemeErrors, o.DetectThemeErrors)
		setIf(&g.DebugMode, o.DebugMode)
		setIf(&g.ScreensaverTimeout, o.ScreensaverTimeout)
		setIf(&g.TimeLanguage, o.TimeLanguage)
		setIf(&g.IconTheme, o.IconTheme)
		out.Greeter = &g
	}
	if overlay.Branding != nil {
		b := RawBranding{}
		if out.Branding != nil {
			b = *out.Branding
		}
		setIf(&b.BackgroundImagesDir, overlay.Branding.BackgroundImagesDir)
		setIf(&b.LogoImage, overlay.Branding.LogoImage)
		setIf(&b.UserImage, overlay.Branding.UserImage)
		out.Branding = &b
	}
	if overlay.Bridge != nil {
		b := RawBridge{}
		if out.Bridge != nil {
			b = *out.Bridge
		}
		setIf(&b.Socket, overlay.Bridge.Socket)
		setIf(&b.ErrorPrompt, overlay.Bridge.ErrorPrompt)
		out.Bridge = &b
	}
	if overlay.Auth != nil {
		a := RawAuth{}
		if out.Auth != nil {
			a = *out.Auth
		}
		setIf(&a.ShadowFile, overlay.Auth.ShadowFile)
		setIf(&a.SuFallback, overlay.Auth.SuFallback)
		out.Auth = &a
	}
	if overlay.Sessions != nil {
		merged := make(map[string]SessionCommand, len(out.Sessions)+len(overlay.Sessions))
		for key, cmd := range out.Sessions {
			merged[key] = cmd
		}
		for key, cmd := range overlay.Sessions {
			merged[key] = cmd
		}
		out.Sessions = merged
	}
	setIf(&out.ThemesDir, overlay.ThemesDir)
	setIf(&out.LogLevel, overlay.LogLevel)
	setIf(&out.Display, overlay.Display)
	setIf(&out.XAuthority, overlay.XAuthority)

	return out
}

func setIf[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}
