package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type SourceKind string

const (
	SourceDefault SourceKind = "default"
	SourceFlag    SourceKind = "flag"
	SourceFile    SourceKind = "file"
)

type Source struct {
	Kind   SourceKind
	Name   string // flag name for SourceFlag
	File   string
	Line   int
	Column int
}

func (s Source) String() string {
	switch s.Kind {
	case SourceFile:
		return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Column)
	case SourceFlag:
		return "flag --" + s.Name
	default:
		return "default"
	}
}

type LoadResult struct {
	Config  *Config
	Sources map[string]Source // YAML-path -> last writer source
	Files   []string          // all loaded files, in load order
}

const (
	// DefaultConfigFile is read when neither --config nor ConfigEnv is set.
	DefaultConfigFile = "/etc/webgreeter/webgreeter.yml"
	// ConfigEnv overrides the config file location.
	ConfigEnv = "WEBGREETER_CONFIG"
)

// DefaultConfigPath returns ConfigEnv if set, else DefaultConfigFile.
func DefaultConfigPath() string {
	if path := strings.TrimSpace(os.Getenv(ConfigEnv)); path != "" {
		return path
	}
	return DefaultConfigFile
}

// Load reads the configuration from the default location.
func Load() (*LoadResult, error) {
	return LoadFromPath(DefaultConfigPath())
}

// LoadFromPath reads path and its includes. A missing file yields the
// defaults.
func LoadFromPath(path string) (*LoadResult, error) {
	l := &loader{sources: make(map[string]Source), visited: make(map[string]bool)}

	_, err := os.Stat(path)
	switch {
	case err == nil:
		if err := l.load(path); err != nil {
			return nil, err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to access config %s: %w", path, err)
	}

	res := &LoadResult{
		Config:  BuildEffectiveConfig(l.raw),
		Sources: l.sources,
		Files:   l.files,
	}
	if err := res.Revalidate(); err != nil {
		return nil, err
	}
	return res, nil
}

// Revalidate checks the config after flags were applied on top of it and
// attributes a failure to the file or flag that set the key.
func (r *LoadResult) Revalidate() error {
	err := r.Config.Validate()
	var verr *ValidationError
	if errors.As(err, &verr) && verr.Path != "" {
		if src, ok := r.Sources[verr.Path]; ok {
			verr.Source = src
		}
	}
	return err
}

// loader folds a file and everything it includes into one RawConfig.
// Includes apply in order before the file that names them, so the file
// itself has the last word.
type loader struct {
	raw     RawConfig
	sources map[string]Source
	files   []string

	visited map[string]bool
	chain   []string
}

func (l *loader) load(path string) error {
	file := resolveFile(path)
	if slices.Contains(l.chain, file) {
		return fmt.Errorf("include cycle: %s -> %s", strings.Join(l.chain, " -> "), file)
	}
	if l.visited[file] {
		return nil
	}
	l.visited[file] = true

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%s: invalid yaml: %w", file, err)
	}
	var raw RawConfig
	if err := decodeStrict(data, &raw); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	root := rootMapping(&doc)

	l.chain = append(l.chain, file)
	for _, inc := range includesOf(root, file) {
		paths, err := inc.expand()
		if err != nil {
			return fmt.Errorf("%s: include %q: %w", inc.at, inc.target, err)
		}
		for _, p := range paths {
			if err := l.load(p); err != nil {
				return err
			}
		}
	}
	l.chain = l.chain[:len(l.chain)-1]

	l.raw = l.raw.merge(raw)
	recordSources(root, file, "", l.sources)
	l.files = append(l.files, file)
	return nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// resolveFile returns the absolute, symlink-free form of path, or the
// absolute form when links cannot be resolved.
func resolveFile(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}

func rootMapping(doc *yaml.Node) *yaml.Node {
	node := doc
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	return node
}

func fileSource(file string, n *yaml.Node) Source {
	return Source{Kind: SourceFile, File: file, Line: n.Line, Column: n.Column}
}

// recordSources maps every dotted key path under node to the position of
// its value. Sequences are recorded as a whole.
func recordSources(node *yaml.Node, file, prefix string, out map[string]Source) {
	if node == nil || node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i].Value, node.Content[i+1]
		if prefix != "" {
			key = prefix + "." + key
		}
		out[key] = fileSource(file, val)
		recordSources(val, file, key, out)
	}
}

// include is one entry of an include list.
type include struct {
	target string
	from   string // file naming the include
	at     Source
}

func includesOf(root *yaml.Node, file string) []include {
	if root == nil {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "include" {
			continue
		}
		val := root.Content[i+1]
		items := []*yaml.Node{val}
		if val.Kind == yaml.SequenceNode {
			items = val.Content
		}
		var out []include
		for _, item := range items {
			if item.Kind == yaml.ScalarNode {
				out = append(out, include{target: item.Value, from: file, at: fileSource(file, item)})
			}
		}
		return out
	}
	return nil
}

// expand resolves the include relative to the file naming it. A
// directory expands to its .yml and .yaml files in name order.
func (inc include) expand() ([]string, error) {
	if inc.target == "" {
		return nil, fmt.Errorf("path is empty")
	}
	path := inc.target
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(inc.from), path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yml", ".yaml":
			if !e.IsDir() {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
	}
	// ReadDir returns entries sorted by name.
	return files, nil
}
