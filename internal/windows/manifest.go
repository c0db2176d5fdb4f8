package windows

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

// ManifestEntry describes one window for content processes that need to
// pick a window id to attach to.
type ManifestEntry struct {
	ID      bridge.WindowID `json:"id"`
	Name    string          `json:"name"`
	Primary bool            `json:"primary"`
	X       int             `json:"x"`
	Y       int             `json:"y"`
	Width   int             `json:"width"`
	Height  int             `json:"height"`
}

// Manifest is the window list the control process publishes next to the
// bridge socket.
type Manifest struct {
	PID     int             `json:"pid"`
	Windows []ManifestEntry `json:"windows"`
}

// Primary returns the primary window entry.
func (m *Manifest) Primary() (ManifestEntry, bool) {
	for _, w := range m.Windows {
		if w.Primary {
			return w, true
		}
	}
	return ManifestEntry{}, false
}

// Manifest snapshots the registry in registration order.
func (r *Registry) Manifest() *Manifest {
	m := &Manifest{PID: os.Getpid(), Windows: make([]ManifestEntry, 0, len(r.windows))}
	for _, w := range r.windows {
		m.Windows = append(m.Windows, ManifestEntry{
			ID:      w.ID,
			Name:    w.Name,
			Primary: w.Primary,
			X:       w.Geometry.X,
			Y:       w.Geometry.Y,
			Width:   w.Geometry.Width,
			Height:  w.Geometry.Height,
		})
	}
	return m
}

// ManifestPath returns the manifest location for a bridge socket.
func ManifestPath(socketPath string) string {
	return filepath.Join(filepath.Dir(socketPath), "webgreeter-windows.json")
}

// SaveManifest writes m to path, replacing any previous manifest
// atomically.
func SaveManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode window manifest: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write window manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write window manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read window manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse window manifest %s: %w", path, err)
	}
	return &m, nil
}
