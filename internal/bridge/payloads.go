package bridge

// Argument and reply tuples. Every type here is a CBOR array on the
// wire; the field order is the tuple order and must not change without
// bumping APIVersion.

// APIVersion is reported by `webgreeter --api-version`.
const APIVersion = "1.0.0"

// WindowID identifies one greeter window (and so one content process).
type WindowID uint64

// Empty is the tuple of operations that take no arguments.
type Empty struct {
	_ struct{} `cbor:",toarray"`
}

// Ack is the reply of operations that only report success.
type Ack struct {
	_  struct{} `cbor:",toarray"`
	OK bool
}

// Text carries a single string.
type Text struct {
	_     struct{} `cbor:",toarray"`
	Value string
}

// ConsoleReport is a script error reported by a content process.
type ConsoleReport struct {
	_       struct{} `cbor:",toarray"`
	Kind    string
	Message string
	Source  string
	Line    uint
}

// ConsoleResult tells the content process whether to stop reporting.
type ConsoleResult struct {
	_           struct{} `cbor:",toarray"`
	StopPrompts bool
}

// Username starts an authentication. Empty asks the backend for it.
type Username struct {
	_    struct{} `cbor:",toarray"`
	Name string
}

// Response answers the pending prompt.
type Response struct {
	_    struct{} `cbor:",toarray"`
	Text string
}

// SessionKey names the desktop session to start.
type SessionKey struct {
	_   struct{} `cbor:",toarray"`
	Key string
}

// PromptKind distinguishes prompts that need input from notices.
type PromptKind string

const (
	PromptSecret  PromptKind = "secret"
	PromptVisible PromptKind = "visible"
	PromptMessage PromptKind = "message"
	PromptError   PromptKind = "error"
)

// NeedsInput reports whether the prompt waits for a response.
func (k PromptKind) NeedsInput() bool {
	return k == PromptSecret || k == PromptVisible
}

// Notice is an informational message from the authentication backend.
type Notice struct {
	_    struct{} `cbor:",toarray"`
	Text string
	Kind PromptKind
}

// AuthStep is the outcome of one authentication request: the next prompt,
// or a terminal state with a reason.
type AuthStep struct {
	_          struct{} `cbor:",toarray"`
	SessionID  string
	State      string
	PromptText string
	PromptKind PromptKind
	Messages   []Notice
	Reason     string
}

// SessionStatus is the reply of lightdm.status.
type SessionStatus struct {
	_                  struct{} `cbor:",toarray"`
	State              string
	SessionID          string
	AuthenticationUser string
	InAuthentication   bool
	IsAuthenticated    bool
}

// SessionCancelled is pushed to a window whose session was cancelled
// while it had no request outstanding.
type SessionCancelled struct {
	_         struct{} `cbor:",toarray"`
	SessionID string
	Reason    string
}

// ConfigSnapshot is the script-visible greeter configuration.
type ConfigSnapshot struct {
	_                  struct{} `cbor:",toarray"`
	Theme              string
	SecureMode         bool
	DetectThemeErrors  bool
	DebugMode          bool
	ScreensaverTimeout uint
	TimeLanguage       string
	IconTheme          string
	BackgroundImages   string
	LogoImage          string
	UserImage          string
}

// ConfigFlag updates one boolean greeter setting.
type ConfigFlag struct {
	_     struct{} `cbor:",toarray"`
	Name  string
	Value bool
}

// ThemeName selects a theme.
type ThemeName struct {
	_  struct{} `cbor:",toarray"`
	ID string
}

// ThemeInfo describes the active theme.
type ThemeInfo struct {
	_             struct{} `cbor:",toarray"`
	ID            string
	Dir           string
	PrimaryHTML   string
	SecondaryHTML string
}

// ThemeList is the reply of theme-utils.list.
type ThemeList struct {
	_   struct{} `cbor:",toarray"`
	IDs []string
}

// DirQuery asks for a directory listing.
type DirQuery struct {
	_          struct{} `cbor:",toarray"`
	Path       string
	OnlyImages bool
}

// DirList is the reply of theme-utils.dirlist.
type DirList struct {
	_     struct{} `cbor:",toarray"`
	Paths []string
}

// Reload instructs a content process to load the given theme.
type Reload struct {
	_     struct{} `cbor:",toarray"`
	Theme string
}

// BroadcastData is the argument of greeter-comm.broadcast.
type BroadcastData struct {
	_    struct{} `cbor:",toarray"`
	Data string
}

// CommMessage is delivered to every window by greeter-comm.broadcast.
type CommMessage struct {
	_      struct{} `cbor:",toarray"`
	Window WindowID
	Data   string
}

// Rect is a window or monitor geometry.
type Rect struct {
	_      struct{} `cbor:",toarray"`
	X      int
	Y      int
	Width  int
	Height int
}

// Boundary is the bounding box of every greeter window.
type Boundary struct {
	_    struct{} `cbor:",toarray"`
	MinX int
	MinY int
	MaxX int
	MaxY int
}

// WindowMetadata is the reply of greeter-comm.window-metadata.
type WindowMetadata struct {
	_         struct{} `cbor:",toarray"`
	ID        WindowID
	IsPrimary bool
	Debug     bool
	Geometry  Rect
	Overall   Boundary
}

// PowerCapabilities reports which power actions are allowed.
type PowerCapabilities struct {
	_            struct{} `cbor:",toarray"`
	CanShutdown  bool
	CanRestart   bool
	CanSuspend   bool
	CanHibernate bool
}

// PowerAction names a power action: shutdown, restart, suspend, hibernate.
type PowerAction struct {
	_      struct{} `cbor:",toarray"`
	Action string
}
