package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

// call performs a request and asserts the reply type.
func call[R any](ctx context.Context, r *Relay, op bridge.Op, args any) (R, error) {
	var zero R
	v, err := r.Call(ctx, op, args).Wait(ctx)
	if err != nil {
		return zero, err
	}
	res, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("relay: %s replied with %T", op, v)
	}
	return res, nil
}

// on registers a typed event callback.
func on[T any](r *Relay, op bridge.Op, fn func(T)) {
	r.On(op, func(payload any) {
		if v, ok := payload.(T); ok {
			fn(v)
		}
	})
}

// LightDM is the authentication API exposed to the greeter page.
type LightDM struct{ r *Relay }

func (r *Relay) LightDM() LightDM { return LightDM{r} }

// Authenticate starts authenticating username. An empty username makes
// the backend ask for it.
func (l LightDM) Authenticate(ctx context.Context, username string) (bridge.AuthStep, error) {
	return call[bridge.AuthStep](ctx, l.r, bridge.OpStartAuthentication, bridge.Username{Name: username})
}

func (l LightDM) Respond(ctx context.Context, response string) (bridge.AuthStep, error) {
	return call[bridge.AuthStep](ctx, l.r, bridge.OpRespond, bridge.Response{Text: response})
}

func (l LightDM) CancelAuthentication(ctx context.Context) (bridge.AuthStep, error) {
	return call[bridge.AuthStep](ctx, l.r, bridge.OpCancelAuthentication, bridge.Empty{})
}

func (l LightDM) StartSession(ctx context.Context, session string) error {
	_, err := call[bridge.Ack](ctx, l.r, bridge.OpStartSession, bridge.SessionKey{Key: session})
	return err
}

func (l LightDM) Status(ctx context.Context) (bridge.SessionStatus, error) {
	return call[bridge.SessionStatus](ctx, l.r, bridge.OpSessionStatus, bridge.Empty{})
}

func (l LightDM) Hostname(ctx context.Context) (string, error) {
	t, err := call[bridge.Text](ctx, l.r, bridge.OpHostname, bridge.Empty{})
	return t.Value, err
}

func (l LightDM) OnShowPrompt(fn func(bridge.AuthStep)) {
	on(l.r, bridge.OpShowPrompt, fn)
}

func (l LightDM) OnShowMessage(fn func(bridge.Notice)) {
	on(l.r, bridge.OpShowMessage, fn)
}

func (l LightDM) OnAuthenticationComplete(fn func(bridge.AuthStep)) {
	on(l.r, bridge.OpAuthenticationComplete, fn)
}

func (l LightDM) OnSessionCancelled(fn func(bridge.SessionCancelled)) {
	on(l.r, bridge.OpSessionCancelled, fn)
}

// GreeterConfig reads and updates the greeter configuration.
type GreeterConfig struct{ r *Relay }

func (r *Relay) GreeterConfig() GreeterConfig { return GreeterConfig{r} }

func (g GreeterConfig) Get(ctx context.Context) (bridge.ConfigSnapshot, error) {
	return call[bridge.ConfigSnapshot](ctx, g.r, bridge.OpConfigGet, bridge.Empty{})
}

func (g GreeterConfig) SetFlag(ctx context.Context, name string, value bool) (bridge.ConfigSnapshot, error) {
	return call[bridge.ConfigSnapshot](ctx, g.r, bridge.OpConfigSetFlag, bridge.ConfigFlag{Name: name, Value: value})
}

func (g GreeterConfig) OnChanged(fn func(bridge.ConfigSnapshot)) {
	on(g.r, bridge.OpConfigChanged, fn)
}

// ThemeUtils queries and switches themes.
type ThemeUtils struct{ r *Relay }

func (r *Relay) ThemeUtils() ThemeUtils { return ThemeUtils{r} }

func (t ThemeUtils) Current(ctx context.Context) (bridge.ThemeInfo, error) {
	return call[bridge.ThemeInfo](ctx, t.r, bridge.OpThemeCurrent, bridge.Empty{})
}

func (t ThemeUtils) List(ctx context.Context) ([]string, error) {
	l, err := call[bridge.ThemeList](ctx, t.r, bridge.OpThemeList, bridge.Empty{})
	return l.IDs, err
}

// Switch makes id the theme of every window.
func (t ThemeUtils) Switch(ctx context.Context, id string) (bridge.ThemeInfo, error) {
	return call[bridge.ThemeInfo](ctx, t.r, bridge.OpThemeSwitch, bridge.ThemeName{ID: id})
}

func (t ThemeUtils) Dirlist(ctx context.Context, path string, onlyImages bool) ([]string, error) {
	l, err := call[bridge.DirList](ctx, t.r, bridge.OpThemeDirlist, bridge.DirQuery{Path: path, OnlyImages: onlyImages})
	return l.Paths, err
}

// Reload asks the control process to reload this window with the
// current theme. Other windows are not affected.
func (t ThemeUtils) Reload() error {
	return t.r.Emit(bridge.OpThemeReload, bridge.Empty{})
}

// OnReload is called with the theme this window must load.
func (t ThemeUtils) OnReload(fn func(theme string)) {
	on(t.r, bridge.OpReload, func(rl bridge.Reload) { fn(rl.Theme) })
}

// GreeterComm bridges host UI operations.
type GreeterComm struct{ r *Relay }

func (r *Relay) GreeterComm() GreeterComm { return GreeterComm{r} }

// Broadcast delivers data to the page of every window, this one included.
func (g GreeterComm) Broadcast(ctx context.Context, data string) error {
	_, err := call[bridge.Ack](ctx, g.r, bridge.OpCommBroadcast, bridge.BroadcastData{Data: data})
	return err
}

func (g GreeterComm) WindowMetadata(ctx context.Context) (bridge.WindowMetadata, error) {
	return call[bridge.WindowMetadata](ctx, g.r, bridge.OpCommWindowMetadata, bridge.Empty{})
}

func (g GreeterComm) PowerCapabilities(ctx context.Context) (bridge.PowerCapabilities, error) {
	return call[bridge.PowerCapabilities](ctx, g.r, bridge.OpCommPowerCapabilities, bridge.Empty{})
}

func (g GreeterComm) PowerAction(ctx context.Context, action string) error {
	_, err := call[bridge.Ack](ctx, g.r, bridge.OpCommPowerAction, bridge.PowerAction{Action: action})
	return err
}

func (g GreeterComm) OnMessage(fn func(bridge.CommMessage)) {
	on(g.r, bridge.OpCommMessage, fn)
}

// ReadyToShow tells the control process the page has rendered.
func (r *Relay) ReadyToShow() error {
	return r.Emit(bridge.OpReadyToShow, bridge.Empty{})
}

// Console forwards script errors to the control process. It stops
// reporting once a reply asks it to, and reports nothing when theme error
// detection is off.
type Console struct {
	r      *Relay
	detect bool

	mu      sync.Mutex
	stopped bool
}

// NewConsole creates a console. detect is the detect_theme_errors flag
// received in the handshake.
func NewConsole(r *Relay, detect bool) *Console {
	return &Console{r: r, detect: detect}
}

// Report sends one error report. It returns whether the report was sent.
func (c *Console) Report(ctx context.Context, kind, message, source string, line uint) (bool, error) {
	c.mu.Lock()
	skip := !c.detect || c.stopped
	c.mu.Unlock()
	if skip {
		return false, nil
	}

	res, err := call[bridge.ConsoleResult](ctx, c.r, bridge.OpConsole, bridge.ConsoleReport{
		Kind: kind, Message: message, Source: source, Line: line,
	})
	if err != nil {
		return true, err
	}
	if res.StopPrompts {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
	}
	return true, nil
}

// Stopped reports whether further reports are suppressed.
func (c *Console) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
