package theme

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrOutsideRoots = errors.New("path is outside the allowed directories")

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".svg": true, ".webp": true, ".bmp": true,
}

// Lister lists directories on behalf of theme scripts. In secure mode
// only paths under Roots may be listed.
type Lister struct {
	Secure bool
	Roots  []string
}

// Dirlist returns the absolute paths of the entries of dir, sorted. With
// onlyImages it returns image files only.
func (l Lister) Dirlist(dir string, onlyImages bool) ([]string, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("path %q must be absolute", dir)
	}
	dir = filepath.Clean(dir)

	if l.Secure {
		if err := l.checkRoots(dir); err != nil {
			return nil, err
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	out := make([]string, 0, len(entries))
	for _, ent := range entries {
		if onlyImages && (ent.IsDir() || !imageExts[strings.ToLower(filepath.Ext(ent.Name()))]) {
			continue
		}
		out = append(out, filepath.Join(dir, ent.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func (l Lister) checkRoots(dir string) error {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	for _, root := range l.Roots {
		if root == "" {
			continue
		}
		rootReal, err := filepath.EvalSymlinks(root)
		if err != nil {
			continue
		}
		if within(rootReal, real) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrOutsideRoots, dir)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
