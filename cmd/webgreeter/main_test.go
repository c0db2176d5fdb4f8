package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/config"
	"github.com/1broseidon/webgreeter/internal/windows"
)

func TestResolveMode_Conflicts(t *testing.T) {
	tests := []struct {
		mode          string
		debug, normal bool
		want          string
	}{
		{"debug", true, true, `Conflict arguments: "--mode", "--debug" and "--normal"`},
		{"debug", true, false, `Conflict arguments: "--mode" and "--debug"`},
		{"normal", false, true, `Conflict arguments: "--mode" and "--normal"`},
		{"", true, true, `Conflict arguments: "--debug" and "--normal"`},
		{"verbose", false, false, `Argument --mode should be: "debug" or "normal"`},
	}
	for _, tt := range tests {
		_, err := resolveMode(tt.mode, tt.debug, tt.normal)
		if err == nil || err.Error() != tt.want {
			t.Fatalf("resolveMode(%q, %t, %t): expected %q, got %v", tt.mode, tt.debug, tt.normal, tt.want, err)
		}
	}
}

func TestResolveMode_Values(t *testing.T) {
	tests := []struct {
		mode          string
		debug, normal bool
		want          *bool
	}{
		{"", false, false, nil},
		{"debug", false, false, ptr(true)},
		{"normal", false, false, ptr(false)},
		{"", true, false, ptr(true)},
		{"", false, true, ptr(false)},
	}
	for _, tt := range tests {
		got, err := resolveMode(tt.mode, tt.debug, tt.normal)
		if err != nil {
			t.Fatalf("resolveMode(%q, %t, %t): %v", tt.mode, tt.debug, tt.normal, err)
		}
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Fatalf("resolveMode(%q, %t, %t): expected %v, got %v", tt.mode, tt.debug, tt.normal, tt.want, got)
		}
	}
}

func ptr(v bool) *bool { return &v }

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// testConfig writes a config whose themes directory holds the given themes.
func testConfig(t *testing.T, themes ...string) string {
	t.Helper()
	dir := t.TempDir()
	themesDir := filepath.Join(dir, "themes")
	for _, id := range themes {
		writeFile(t, filepath.Join(themesDir, id, "index.html"), "<html></html>")
	}
	path := filepath.Join(dir, "webgreeter.yml")
	writeFile(t, path, "themes_dir: "+themesDir+"\ngreeter:\n  theme: dracula\n")
	return path
}

func TestRun_VersionAndAPIVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-v"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d (%s)", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != version {
		t.Fatalf("expected %q, got %q", version, stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"--api-version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if strings.TrimSpace(stdout.String()) != bridge.APIVersion {
		t.Fatalf("expected %q, got %q", bridge.APIVersion, stdout.String())
	}
}

func TestRun_ListThemes(t *testing.T) {
	path := testConfig(t, "gruvbox", "dracula")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--config", path, "--list"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d (%s)", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "  dracula\n") || !strings.Contains(out, "  gruvbox\n") {
		t.Fatalf("expected both themes listed, got %q", out)
	}
	if strings.Index(out, "dracula") > strings.Index(out, "gruvbox") {
		t.Fatalf("expected sorted listing, got %q", out)
	}
}

func TestRun_ModeConflictExitsOne(t *testing.T) {
	path := testConfig(t, "dracula")

	var stdout, stderr bytes.Buffer
	code := run([]string{"--config", path, "--mode", "debug", "-n"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if strings.TrimSpace(stderr.String()) != `Conflict arguments: "--mode" and "--normal"` {
		t.Fatalf("unexpected message %q", stderr.String())
	}
}

func TestRun_ExplainReportsFlagSource(t *testing.T) {
	path := testConfig(t, "dracula", "gruvbox")

	var stdout, stderr bytes.Buffer
	code := run([]string{"--config", path, "--theme", "gruvbox", "--explain", "greeter.theme"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (%s)", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "greeter.theme = gruvbox (flag --theme)" {
		t.Fatalf("unexpected explain output %q", got)
	}

	stdout.Reset()
	code = run([]string{"--config", path, "-d", "--explain", "greeter.debug_mode"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (%s)", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != "greeter.debug_mode = true (flag --debug)" {
		t.Fatalf("unexpected explain output %q", got)
	}
}

func TestRun_InvalidThemeFlagRejected(t *testing.T) {
	path := testConfig(t, "dracula")

	var stdout, stderr bytes.Buffer
	code := run([]string{"--config", path, "--theme", "../etc", "--explain", "greeter.theme"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "greeter.theme") {
		t.Fatalf("expected the offending key in the error, got %q", stderr.String())
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--bogus"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestNewPrompter(t *testing.T) {
	p, err := newPrompter(config.ErrorPromptAsk)
	if err != nil {
		t.Fatalf("newPrompter: %v", err)
	}
	if _, ok := p.(*windows.TerminalPrompter); !ok {
		t.Fatalf("expected terminal prompter, got %T", p)
	}

	p, err = newPrompter(config.ErrorPromptDefaultTheme)
	if err != nil {
		t.Fatalf("newPrompter: %v", err)
	}
	if sp, ok := p.(windows.StaticPrompter); !ok || sp.Choice != windows.ChoiceDefaultTheme {
		t.Fatalf("expected static default-theme prompter, got %#v", p)
	}

	if _, err := newPrompter("explode"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
