package x11

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/xwindow"
)

var ErrNoClientWindow = errors.New("no client window")

// FindWindowByTitle searches the EWMH client list for a window whose
// _NET_WM_NAME contains the given substring. Returns the first match.
func (c *Connection) FindWindowByTitle(substring string) (xproto.Window, error) {
	if substring == "" {
		return 0, fmt.Errorf("empty title")
	}
	clients, err := ewmh.ClientListGet(c.XUtil)
	if err != nil {
		return 0, fmt.Errorf("failed to get client list: %w", err)
	}
	for _, win := range clients {
		name, err := ewmh.WmNameGet(c.XUtil, win)
		if err != nil {
			continue
		}
		if strings.Contains(name, substring) {
			return win, nil
		}
	}
	return 0, fmt.Errorf("%w: title containing %q", ErrNoClientWindow, substring)
}

// Present covers the given area with the client window titled title,
// makes it fullscreen and gives it focus.
func (c *Connection) Present(title string, x, y, width, height int) error {
	win, err := c.FindWindowByTitle(title)
	if err != nil {
		return err
	}

	if err := ewmh.MoveresizeWindow(c.XUtil, win, x, y, width, height); err != nil {
		// No EWMH window manager; configure the window directly.
		xwindow.New(c.XUtil, win).MoveResize(x, y, width, height)
	}
	if err := ewmh.WmStateReq(c.XUtil, win, ewmh.StateAdd, "_NET_WM_STATE_FULLSCREEN"); err != nil {
		return fmt.Errorf("failed to request fullscreen: %w", err)
	}
	return c.FocusWindow(win)
}

// FocusWindow activates and raises a window using _NET_ACTIVE_WINDOW.
// The client message is built by hand because the xgbutil helper panics
// on this library version.
func (c *Connection) FocusWindow(win xproto.Window) error {
	atom, err := c.internAtom("_NET_ACTIVE_WINDOW")
	if err != nil {
		return err
	}

	const sourceIndication = 2 // pager/direct action
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: win,
		Type:   atom,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{sourceIndication, 0, 0, 0, 0}),
	}

	return xproto.SendEventChecked(
		c.XUtil.Conn(),
		false,
		c.Root,
		xproto.EventMaskSubstructureRedirect|xproto.EventMaskSubstructureNotify,
		string(ev.Bytes()),
	).Check()
}
