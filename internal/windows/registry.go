// Package windows tracks the greeter windows, one per monitor, and fans
// events out to their content processes.
package windows

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/router"
)

var ErrUnknownWindow = errors.New("unknown window")

// Window is one greeter window.
type Window struct {
	ID       bridge.WindowID
	Name     string
	Geometry bridge.Rect
	Primary  bool
	Debug    bool

	ready bool
}

// Ready reports whether the window has been presented.
func (w *Window) Ready() bool { return w.ready }

// Toolkit is the window layer that shows a window once its content is
// ready.
type Toolkit interface {
	Present(w *Window) error
}

// Registry holds the windows in registration order. It is used from the
// control loop only.
type Registry struct {
	Logger *slog.Logger

	sender   router.Sender
	toolkit  Toolkit
	windows  []*Window
	boundary bridge.Boundary
	// observers receive broadcasts without being windows.
	observers []bridge.WindowID
	onRemove  []func(bridge.WindowID)
}

// NewRegistry creates an empty registry.
func NewRegistry(sender router.Sender, toolkit Toolkit) *Registry {
	return &Registry{
		Logger:  slog.Default(),
		sender:  sender,
		toolkit: toolkit,
	}
}

// OnRemove registers fn to run after a window is unregistered.
func (r *Registry) OnRemove(fn func(bridge.WindowID)) {
	r.onRemove = append(r.onRemove, fn)
}

// Register adds w and recomputes the overall boundary.
func (r *Registry) Register(w *Window) error {
	if r.find(w.ID) >= 0 {
		return fmt.Errorf("window %d is already registered", w.ID)
	}
	r.windows = append(r.windows, w)
	r.recompute()
	r.Logger.Info("window registered", "window", w.ID, "name", w.Name, "primary", w.Primary,
		"x", w.Geometry.X, "y", w.Geometry.Y, "width", w.Geometry.Width, "height", w.Geometry.Height)
	return nil
}

// Unregister removes a window, recomputes the boundary and runs the
// removal hooks.
func (r *Registry) Unregister(id bridge.WindowID) error {
	i := r.find(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownWindow, id)
	}
	r.windows = append(r.windows[:i:i], r.windows[i+1:]...)
	r.recompute()
	r.Logger.Info("window unregistered", "window", id)
	for _, fn := range r.onRemove {
		fn(id)
	}
	return nil
}

// Observe adds a connection that receives every broadcast after the
// windows, such as a debug inspector.
func (r *Registry) Observe(id bridge.WindowID) {
	if !slices.Contains(r.observers, id) {
		r.observers = append(r.observers, id)
	}
}

// Forget removes an observer. Unknown ids are ignored.
func (r *Registry) Forget(id bridge.WindowID) {
	r.observers = slices.DeleteFunc(r.observers, func(o bridge.WindowID) bool { return o == id })
}

// Get returns a registered window.
func (r *Registry) Get(id bridge.WindowID) (*Window, bool) {
	if i := r.find(id); i >= 0 {
		return r.windows[i], true
	}
	return nil, false
}

// IDs returns the window ids in registration order.
func (r *Registry) IDs() []bridge.WindowID {
	ids := make([]bridge.WindowID, len(r.windows))
	for i, w := range r.windows {
		ids[i] = w.ID
	}
	return ids
}

// Len returns the number of registered windows.
func (r *Registry) Len() int { return len(r.windows) }

// Boundary returns the bounding box of every window.
func (r *Registry) Boundary() bridge.Boundary { return r.boundary }

// Metadata describes window id for greeter-comm.window-metadata. An
// observer sees the primary window's geometry under its own id.
func (r *Registry) Metadata(id bridge.WindowID) (bridge.WindowMetadata, error) {
	if w, ok := r.Get(id); ok {
		return bridge.WindowMetadata{
			ID:        w.ID,
			IsPrimary: w.Primary,
			Debug:     w.Debug,
			Geometry:  w.Geometry,
			Overall:   r.boundary,
		}, nil
	}
	if slices.Contains(r.observers, id) {
		if p := r.primary(); p != nil {
			return bridge.WindowMetadata{
				ID:       id,
				Debug:    true,
				Geometry: p.Geometry,
				Overall:  r.boundary,
			}, nil
		}
	}
	return bridge.WindowMetadata{}, fmt.Errorf("%w: %d", ErrUnknownWindow, id)
}

// primary returns the primary window, or the first one if none is
// marked.
func (r *Registry) primary() *Window {
	for _, w := range r.windows {
		if w.Primary {
			return w
		}
	}
	if len(r.windows) > 0 {
		return r.windows[0]
	}
	return nil
}

// MarkReady presents a window on its first ready-to-show. Later calls
// are ignored. It reports whether this call presented the window.
func (r *Registry) MarkReady(id bridge.WindowID) (bool, error) {
	w, ok := r.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownWindow, id)
	}
	if w.ready {
		r.Logger.Debug("ignoring repeated ready-to-show", "window", id)
		return false, nil
	}
	w.ready = true
	if r.toolkit != nil {
		if err := r.toolkit.Present(w); err != nil {
			return true, fmt.Errorf("failed to present window %d: %w", id, err)
		}
	}
	r.Logger.Info("window ready", "window", id)
	return true, nil
}

// Broadcast sends a one-way event to every window registered when the
// call starts, in registration order, and then to the observers. Targets
// that cannot be reached are skipped. It returns the targets the event
// was delivered to.
func (r *Registry) Broadcast(op bridge.Op, payload any) ([]bridge.WindowID, error) {
	blob, err := bridge.EncodeEvent(op, payload)
	if err != nil {
		return nil, err
	}
	targets := append(r.IDs(), r.observers...)
	delivered := make([]bridge.WindowID, 0, len(targets))
	for _, id := range targets {
		if err := r.sender.Send(id, blob); err != nil {
			r.Logger.Warn("broadcast skipped window", "window", id, "op", op, "error", err)
			continue
		}
		delivered = append(delivered, id)
	}
	r.Logger.Debug("broadcast", "op", op, "targets", len(targets), "delivered", len(delivered))
	return delivered, nil
}

func (r *Registry) find(id bridge.WindowID) int {
	for i, w := range r.windows {
		if w.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) recompute() {
	if len(r.windows) == 0 {
		r.boundary = bridge.Boundary{}
		return
	}
	g := r.windows[0].Geometry
	b := bridge.Boundary{MinX: g.X, MinY: g.Y, MaxX: g.X + g.Width, MaxY: g.Y + g.Height}
	for _, w := range r.windows[1:] {
		g := w.Geometry
		b.MinX = min(b.MinX, g.X)
		b.MinY = min(b.MinY, g.Y)
		b.MaxX = max(b.MaxX, g.X+g.Width)
		b.MaxY = max(b.MaxY, g.Y+g.Height)
	}
	r.boundary = b
}
