// Package theme discovers installed greeter themes and lists directories
// for theme scripts.
package theme

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

// Fallback is the theme used when the configured one is missing or broken.
const Fallback = "gruvbox"

const indexFile = "index.yml"

var ErrNotFound = errors.New("theme not found")

// Index is a theme's index.yml.
type Index struct {
	PrimaryHTML   string `yaml:"primary_html"`
	SecondaryHTML string `yaml:"secondary_html"`
}

// Theme is an installed theme.
type Theme struct {
	ID            string
	Dir           string
	PrimaryHTML   string
	SecondaryHTML string
}

// Info is the wire form of t.
func (t Theme) Info() bridge.ThemeInfo {
	return bridge.ThemeInfo{ID: t.ID, Dir: t.Dir, PrimaryHTML: t.PrimaryHTML, SecondaryHTML: t.SecondaryHTML}
}

// Page returns the page a window loads: the primary page on the primary
// monitor, the secondary page elsewhere.
func (t Theme) Page(primary bool) string {
	if primary {
		return t.PrimaryHTML
	}
	return t.SecondaryHTML
}

// Catalog reads themes from one directory.
type Catalog struct {
	Logger *slog.Logger
	Dir    string
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{Logger: slog.Default(), Dir: dir}
}

// List returns the ids of every installed theme, sorted.
func (c *Catalog) List() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read themes dir: %w", err)
	}
	var ids []string
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		if _, err := c.Load(ent.Name()); err != nil {
			c.Logger.Debug("skipping theme directory", "dir", ent.Name(), "error", err)
			continue
		}
		ids = append(ids, ent.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Load reads one theme. A theme without index.yml uses index.html for
// both pages.
func (c *Catalog) Load(id string) (Theme, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return Theme{}, fmt.Errorf("%w: invalid theme id %q", ErrNotFound, id)
	}
	dir := filepath.Join(c.Dir, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Theme{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	idx := Index{}
	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &idx); err != nil {
			return Theme{}, fmt.Errorf("%s/%s: failed to parse yaml: %w", id, indexFile, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Theme{}, fmt.Errorf("%s/%s: failed to read: %w", id, indexFile, err)
	}
	if idx.PrimaryHTML == "" {
		idx.PrimaryHTML = "index.html"
	}
	if idx.SecondaryHTML == "" {
		idx.SecondaryHTML = idx.PrimaryHTML
	}

	t := Theme{
		ID:            id,
		Dir:           dir,
		PrimaryHTML:   filepath.Join(dir, filepath.Clean("/"+idx.PrimaryHTML)),
		SecondaryHTML: filepath.Join(dir, filepath.Clean("/"+idx.SecondaryHTML)),
	}
	if _, err := os.Stat(t.PrimaryHTML); err != nil {
		return Theme{}, fmt.Errorf("%w: %s has no %s", ErrNotFound, id, idx.PrimaryHTML)
	}
	return t, nil
}

// Resolve loads id, falling back to Fallback when id is not installed.
func (c *Catalog) Resolve(id string) (Theme, error) {
	t, err := c.Load(id)
	if err == nil {
		return t, nil
	}
	if id == Fallback {
		return Theme{}, err
	}
	c.Logger.Warn("theme not usable, falling back", "theme", id, "fallback", Fallback, "error", err)
	fb, fbErr := c.Load(Fallback)
	if fbErr != nil {
		return Theme{}, fmt.Errorf("theme %q: %w (fallback: %v)", id, err, fbErr)
	}
	return fb, nil
}
