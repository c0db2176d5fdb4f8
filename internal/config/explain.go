package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Override records that a command-line flag set the value at path.
func (r *LoadResult) Override(path, flag string) {
	if r.Sources == nil {
		r.Sources = make(map[string]Source)
	}
	r.Sources[path] = Source{Kind: SourceFlag, Name: flag}
}

// Explain returns the effective value at the given YAML path and where
// it came from. Paths use the file's key names:
//
//	greeter.theme
//	greeter.secure_mode
//	branding.background_images_dir
//	bridge.error_prompt
//	sessions.<key>
//	log_level
func Explain(res *LoadResult, path string) (any, Source, error) {
	if res == nil || res.Config == nil {
		return nil, Source{}, fmt.Errorf("no config loaded")
	}
	if path == "" {
		return nil, Source{}, fmt.Errorf("path is empty")
	}

	value, err := lookupValue(res.Config, path)
	if err != nil {
		return nil, Source{}, err
	}
	if src, ok := res.Sources[path]; ok {
		return value, src, nil
	}
	return value, Source{Kind: SourceDefault}, nil
}

func lookupValue(cfg *Config, path string) (any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to read back config: %w", err)
	}

	var cur any = tree
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unknown config path %q", path)
		}
		cur, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("unknown config path %q", path)
		}
	}
	return cur, nil
}
