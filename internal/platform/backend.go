// Package platform maps the monitors of the display server onto greeter
// windows and presents those windows when their content is ready.
package platform

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/windows"
)

// Display describes a physical display.
type Display struct {
	Name         string
	Manufacturer string
	Model        string
	Bounds       bridge.Rect
}

// Backend abstracts the window system behind the greeter windows.
type Backend interface {
	windows.Toolkit
	Displays() ([]Display, error)
	Close()
}

// Options select the display to connect to.
type Options struct {
	Display    string
	XAuthority string
	// Fallback is the geometry of the single window used without a
	// display server.
	Fallback bridge.Rect
}

var ErrNoDisplays = errors.New("no displays")

// inspectorBit is reserved for inspector connections.
const inspectorBit = 1 << 63

// WindowID derives a stable window id from the display identity: the
// manufacturer hash in the high bits and the model hash below it. A
// display without EDID data is identified by its output name.
func WindowID(d Display) bridge.WindowID {
	manufacturer, model := d.Manufacturer, d.Model
	if manufacturer == "" && model == "" {
		model = d.Name
	}
	id := strHash(manufacturer)<<24 | strHash(model)<<8
	return bridge.WindowID(id &^ inspectorBit)
}

func strHash(s string) uint64 {
	if s == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(s))
	return uint64(h.Sum32())
}

// Windows builds one greeter window per display. The first display is
// the primary one. Identical monitors get consecutive ids.
func Windows(displays []Display, debug bool) []*windows.Window {
	out := make([]*windows.Window, 0, len(displays))
	used := make(map[bridge.WindowID]bool, len(displays))
	for i, d := range displays {
		id := WindowID(d)
		for id == 0 || used[id] {
			id = (id + 1) &^ inspectorBit
		}
		used[id] = true
		out = append(out, &windows.Window{
			ID:       id,
			Name:     d.Name,
			Geometry: d.Bounds,
			Primary:  i == 0,
			Debug:    debug,
		})
	}
	return out
}

// Title is the window title a content process uses for window id, so
// the backend can find its client window.
func Title(id bridge.WindowID) string {
	return fmt.Sprintf("webgreeter:%d", id)
}

// Headless is the backend used without a display server: a single
// display with the fallback geometry, and presentation is a no-op.
type Headless struct {
	Logger   *slog.Logger
	Geometry bridge.Rect
}

var _ Backend = (*Headless)(nil)

func NewHeadless(geometry bridge.Rect) *Headless {
	return &Headless{Logger: slog.Default(), Geometry: geometry}
}

func (h *Headless) Displays() ([]Display, error) {
	return []Display{{Name: "headless", Bounds: h.Geometry}}, nil
}

func (h *Headless) Present(w *windows.Window) error {
	h.Logger.Debug("headless present", "window", w.ID, "title", Title(w.ID))
	return nil
}

func (h *Headless) Close() {}

// Open connects to the configured display server and falls back to a
// headless backend when none is reachable.
func Open(opts Options, logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}
	b, err := openNative(opts, logger)
	if err != nil {
		logger.Warn("display server unavailable, running headless", "error", err)
		h := NewHeadless(opts.Fallback)
		h.Logger = logger
		return h
	}
	return b
}
