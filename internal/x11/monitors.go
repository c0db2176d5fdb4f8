package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
)

// Monitor represents a physical display
type Monitor struct {
	Name         string
	Manufacturer string
	Model        string
	Primary      bool
	X            int
	Y            int
	Width        int
	Height       int
}

// GetMonitors retrieves all active monitors using XRandR. The RandR
// primary output, if any, comes first.
func (c *Connection) GetMonitors() ([]Monitor, error) {
	if err := randr.Init(c.XUtil.Conn()); err != nil {
		return nil, fmt.Errorf("randr init failed: %w", err)
	}

	resources, err := randr.GetScreenResources(c.XUtil.Conn(), c.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var primary randr.Output
	if reply, err := randr.GetOutputPrimary(c.XUtil.Conn(), c.Root).Reply(); err == nil {
		primary = reply.Output
	}
	edidAtom, edidErr := c.internAtom("EDID")

	var monitors []Monitor
	for i, crtc := range resources.Crtcs {
		crtcInfo, err := randr.GetCrtcInfo(c.XUtil.Conn(), crtc, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}

		// Skip disabled CRTCs
		if crtcInfo.Width == 0 || crtcInfo.Height == 0 || len(crtcInfo.Outputs) == 0 {
			continue
		}

		output := crtcInfo.Outputs[0]
		m := Monitor{
			Name:    fmt.Sprintf("Monitor%d", i),
			Primary: primary != 0 && output == primary,
			X:       int(crtcInfo.X),
			Y:       int(crtcInfo.Y),
			Width:   int(crtcInfo.Width),
			Height:  int(crtcInfo.Height),
		}
		if outputInfo, err := randr.GetOutputInfo(c.XUtil.Conn(), output, resources.ConfigTimestamp).Reply(); err == nil {
			m.Name = string(outputInfo.Name)
		}
		if edidErr == nil {
			if data, err := c.outputProperty(output, edidAtom); err == nil {
				m.Manufacturer, m.Model = ParseEDID(data)
			}
		}

		if m.Primary {
			monitors = append([]Monitor{m}, monitors...)
		} else {
			monitors = append(monitors, m)
		}
	}

	return monitors, nil
}

func (c *Connection) outputProperty(output randr.Output, prop xproto.Atom) ([]byte, error) {
	// 128 longs covers a base EDID block plus one extension.
	reply, err := randr.GetOutputProperty(c.XUtil.Conn(), output, prop,
		xproto.GetPropertyTypeAny, 0, 128, false, false).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}
