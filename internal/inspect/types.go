package inspect

import "github.com/1broseidon/webgreeter/internal/bridge"

// EmptyInput is the input of tools that take no arguments.
type EmptyInput struct{}

// AuthenticateInput is the input for the start_authentication tool.
type AuthenticateInput struct {
	Username string `json:"username,omitempty" jsonschema:"User to authenticate. When empty the backend prompts for it."`
}

// RespondInput is the input for the respond tool.
type RespondInput struct {
	Response string `json:"response" jsonschema:"Answer to the pending prompt"`
}

// StartSessionInput is the input for the start_session tool.
type StartSessionInput struct {
	Session string `json:"session" jsonschema:"Session key from the sessions config section"`
}

// AuthStepOutput is the output of the authentication tools.
type AuthStepOutput struct {
	SessionID  string   `json:"session_id"`
	State      string   `json:"state"`
	PromptText string   `json:"prompt_text,omitempty"`
	PromptKind string   `json:"prompt_kind,omitempty"`
	Messages   []string `json:"messages,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// StatusOutput is the output for the session_status tool.
type StatusOutput struct {
	State              string `json:"state"`
	SessionID          string `json:"session_id,omitempty"`
	AuthenticationUser string `json:"authentication_user,omitempty"`
	InAuthentication   bool   `json:"in_authentication"`
	IsAuthenticated    bool   `json:"is_authenticated"`
	Hostname           string `json:"hostname,omitempty"`
}

// ConfigOutput is the greeter configuration as seen by pages.
type ConfigOutput struct {
	Theme              string `json:"theme"`
	SecureMode         bool   `json:"secure_mode"`
	DetectThemeErrors  bool   `json:"detect_theme_errors"`
	DebugMode          bool   `json:"debug_mode"`
	ScreensaverTimeout uint   `json:"screensaver_timeout"`
	TimeLanguage       string `json:"time_language,omitempty"`
	IconTheme          string `json:"icon_theme,omitempty"`
	BackgroundImages   string `json:"background_images_dir,omitempty"`
	LogoImage          string `json:"logo_image,omitempty"`
	UserImage          string `json:"user_image,omitempty"`
}

// SetFlagInput is the input for the set_flag tool.
type SetFlagInput struct {
	Name  string `json:"name" jsonschema:"Flag name. Only detect_theme_errors can be changed at runtime."`
	Value bool   `json:"value" jsonschema:"New flag value"`
}

// ThemeInput is the input for the switch_theme tool.
type ThemeInput struct {
	Theme string `json:"theme" jsonschema:"Theme id as returned by list_themes"`
}

// ThemeOutput describes the active theme.
type ThemeOutput struct {
	ID            string `json:"id"`
	Dir           string `json:"dir"`
	PrimaryHTML   string `json:"primary_html"`
	SecondaryHTML string `json:"secondary_html,omitempty"`
}

// ThemeListOutput is the output for the list_themes tool.
type ThemeListOutput struct {
	Themes  []string `json:"themes"`
	Current string   `json:"current"`
}

// DirlistInput is the input for the dirlist tool.
type DirlistInput struct {
	Path       string `json:"path" jsonschema:"Absolute directory to list"`
	OnlyImages bool   `json:"only_images,omitempty" jsonschema:"When true, only image files are returned"`
}

// DirlistOutput is the output for the dirlist tool.
type DirlistOutput struct {
	Paths []string `json:"paths"`
}

// BroadcastInput is the input for the broadcast tool.
type BroadcastInput struct {
	Data string `json:"data" jsonschema:"Payload delivered to the page of every window"`
}

// AckOutput is returned by tools that only succeed or fail.
type AckOutput struct {
	OK bool `json:"ok"`
}

// Rect is a window geometry.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MetadataOutput is the output for the window_metadata tool.
type MetadataOutput struct {
	ID        uint64 `json:"id"`
	IsPrimary bool   `json:"is_primary"`
	Debug     bool   `json:"debug"`
	Geometry  Rect   `json:"geometry"`
	Overall   Rect   `json:"overall"`
}

// PowerOutput is the output for the power_capabilities tool.
type PowerOutput struct {
	CanShutdown  bool `json:"can_shutdown"`
	CanRestart   bool `json:"can_restart"`
	CanSuspend   bool `json:"can_suspend"`
	CanHibernate bool `json:"can_hibernate"`
}

// EventsInput is the input for the recent_events tool.
type EventsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of events to return, newest last (default: all buffered)"`
}

// Event is one unsolicited message received from the control process.
type Event struct {
	Seq    uint64 `json:"seq"`
	Op     string `json:"op"`
	Detail string `json:"detail,omitempty"`
}

// EventsOutput is the output for the recent_events tool.
type EventsOutput struct {
	Events []Event `json:"events"`
}

func authStepOutput(step bridge.AuthStep) AuthStepOutput {
	out := AuthStepOutput{
		SessionID:  step.SessionID,
		State:      step.State,
		PromptText: step.PromptText,
		PromptKind: string(step.PromptKind),
		Reason:     step.Reason,
	}
	for _, m := range step.Messages {
		out.Messages = append(out.Messages, string(m.Kind)+": "+m.Text)
	}
	return out
}

func configOutput(c bridge.ConfigSnapshot) ConfigOutput {
	return ConfigOutput{
		Theme:              c.Theme,
		SecureMode:         c.SecureMode,
		DetectThemeErrors:  c.DetectThemeErrors,
		DebugMode:          c.DebugMode,
		ScreensaverTimeout: c.ScreensaverTimeout,
		TimeLanguage:       c.TimeLanguage,
		IconTheme:          c.IconTheme,
		BackgroundImages:   c.BackgroundImages,
		LogoImage:          c.LogoImage,
		UserImage:          c.UserImage,
	}
}

func themeOutput(t bridge.ThemeInfo) ThemeOutput {
	return ThemeOutput{ID: t.ID, Dir: t.Dir, PrimaryHTML: t.PrimaryHTML, SecondaryHTML: t.SecondaryHTML}
}
