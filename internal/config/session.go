package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// SessionCommand is the argv that starts a desktop session. It accepts
// either a shell-like string:
//
//	sessions:
//	  xfce: "startxfce4 --replace"
//
// or a list:
//
//	sessions:
//	  xfce: ["startxfce4", "--replace"]
type SessionCommand []string

func (c *SessionCommand) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("session command must be a string or list of strings")
		}
		argv, err := splitCommand(value.Value)
		if err != nil {
			return err
		}
		*c = argv
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("session command entries must be strings")
			}
			out = append(out, item.Value)
		}
		*c = out
		return nil
	default:
		return fmt.Errorf("session command must be a string or list of strings")
	}
}

func (c SessionCommand) MarshalYAML() (any, error) {
	return []string(c), nil
}

func (c SessionCommand) String() string {
	return strings.Join(c, " ")
}

func splitCommand(s string) ([]string, error) {
	var out []string
	var buf strings.Builder
	inSingle := false
	inDouble := false
	escaped := false

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, buf.String())
		buf.Reset()
	}

	for _, r := range s {
		if escaped {
			buf.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case !inSingle && r == '\\':
			escaped = true
		case !inDouble && r == '\'':
			inSingle = !inSingle
		case !inSingle && r == '"':
			inDouble = !inDouble
		case !inSingle && !inDouble && strings.ContainsRune(" \t\r\n", r):
			flush()
		default:
			buf.WriteRune(r)
		}
	}

	if escaped {
		return nil, fmt.Errorf("unfinished escape in session command")
	}
	if inSingle || inDouble {
		return nil, fmt.Errorf("unterminated quote in session command")
	}

	flush()
	return out, nil
}
