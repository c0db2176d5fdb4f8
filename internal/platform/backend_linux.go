//go:build linux

package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/windows"
	"github.com/1broseidon/webgreeter/internal/x11"
)

// LinuxBackend wraps an existing X11 connection behind the platform Backend interface.
type LinuxBackend struct {
	Logger *slog.Logger
	conn   *x11.Connection
}

var _ Backend = (*LinuxBackend)(nil)

// NewLinuxBackend creates a Linux platform backend from an existing X11 connection.
func NewLinuxBackend(conn *x11.Connection) *LinuxBackend {
	return &LinuxBackend{Logger: slog.Default(), conn: conn}
}

func openNative(opts Options, logger *slog.Logger) (Backend, error) {
	if opts.XAuthority != "" {
		// xgb reads the cookie location from the environment.
		if err := os.Setenv("XAUTHORITY", opts.XAuthority); err != nil {
			return nil, fmt.Errorf("failed to set XAUTHORITY: %w", err)
		}
	}
	conn, err := x11.NewConnection(opts.Display)
	if err != nil {
		return nil, err
	}
	b := NewLinuxBackend(conn)
	b.Logger = logger
	return b, nil
}

// Close closes the underlying X11 connection.
func (b *LinuxBackend) Close() {
	if b != nil && b.conn != nil {
		b.conn.Close()
	}
}

// Displays returns all active displays, primary first.
func (b *LinuxBackend) Displays() ([]Display, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}

	monitors, err := conn.GetMonitors()
	if err != nil {
		return nil, err
	}
	if len(monitors) == 0 {
		return nil, ErrNoDisplays
	}

	displays := make([]Display, 0, len(monitors))
	for _, m := range monitors {
		displays = append(displays, Display{
			Name:         m.Name,
			Manufacturer: m.Manufacturer,
			Model:        m.Model,
			Bounds:       bridge.Rect{X: m.X, Y: m.Y, Width: m.Width, Height: m.Height},
		})
	}
	return displays, nil
}

// Present moves the content window of w onto its monitor and focuses
// it. A content process without a client window (a shell) is not an
// error.
func (b *LinuxBackend) Present(w *windows.Window) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}

	g := w.Geometry
	err = conn.Present(Title(w.ID), g.X, g.Y, g.Width, g.Height)
	if errors.Is(err, x11.ErrNoClientWindow) {
		b.Logger.Debug("no client window to present", "window", w.ID)
		return nil
	}
	return err
}

func (b *LinuxBackend) connection() (*x11.Connection, error) {
	if b == nil || b.conn == nil {
		return nil, fmt.Errorf("x11 backend connection is nil")
	}
	return b.conn, nil
}
