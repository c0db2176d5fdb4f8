package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/config"
	"github.com/1broseidon/webgreeter/internal/ipc"
	"github.com/1broseidon/webgreeter/internal/relay"
	"github.com/1broseidon/webgreeter/internal/session"
	"github.com/1broseidon/webgreeter/internal/theme"
	"github.com/1broseidon/webgreeter/internal/windows"
)

// The scenarios below run the control process on a real socket with one
// relay per window.

type liveGreeter struct {
	d      *Daemon
	socket string
	ids    []bridge.WindowID
}

func startLive(t *testing.T, auth session.Backend, prompter windows.Prompter) *liveGreeter {
	t.Helper()
	dir, err := os.MkdirTemp("", "wg")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "s.sock")

	cfg := config.DefaultConfig()
	cfg.ThemesDir = writeThemes(t, "gruvbox", "dracula")
	cfg.Greeter.Theme = "dracula"
	catalog := theme.NewCatalog(cfg.ThemesDir)
	catalog.Logger = quietLogger()

	d, err := New(Options{
		Logger:     quietLogger(),
		Store:      config.NewStore(cfg),
		Catalog:    catalog,
		Auth:       auth,
		Backend:    twoMonitors(),
		Prompter:   prompter,
		SocketPath: socket,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g := &liveGreeter{d: d, socket: socket, ids: d.Registry().IDs()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return g
}

// attach connects a relay for window, retrying until the socket is up.
func (g *liveGreeter) attach(t *testing.T, window bridge.WindowID) (*relay.Relay, ipc.Welcome) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		c, err := ipc.Dial(ctx, g.socket, ipc.Hello{Window: window, Role: ipc.RoleContent})
		cancel()
		if err == nil {
			r := relay.New(c)
			r.Logger = quietLogger()
			runCtx, stop := context.WithCancel(context.Background())
			go r.Run(runCtx)
			t.Cleanup(func() {
				stop()
				c.Close()
			})
			return r, c.Welcome()
		}
		if errors.Is(err, ipc.ErrRefused) || time.Now().After(deadline) {
			t.Fatalf("Dial window %d: %v", window, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestScenario_ConsoleErrorSwitchesEveryWindowToFallback(t *testing.T) {
	g := startLive(t, &stallingAuth{}, windows.StaticPrompter{Choice: windows.ChoiceDefaultTheme})

	reloads := make(chan bridge.WindowID, 4)
	relays := make([]*relay.Relay, len(g.ids))
	var welcome ipc.Welcome
	for i, id := range g.ids {
		r, w := g.attach(t, id)
		relays[i], welcome = r, w
		id := id
		r.ThemeUtils().OnReload(func(name string) {
			if name == "gruvbox" {
				reloads <- id
			}
		})
	}

	console := relay.NewConsole(relays[0], welcome.DetectThemeErrors)
	sent, err := console.Report(testContext(t), "error", "boom", "app.js", 42)
	if err != nil || !sent {
		t.Fatalf("Report: sent=%v err=%v", sent, err)
	}
	if !console.Stopped() {
		t.Fatal("expected the console reply to carry stop_prompts")
	}

	got := map[bridge.WindowID]bool{}
	for len(got) < len(g.ids) {
		select {
		case id := <-reloads:
			got[id] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("expected a reload in every window, got %v", got)
		}
	}

	snap, err := relays[1].GreeterConfig().Get(testContext(t))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Theme != "gruvbox" {
		t.Fatalf("expected theme gruvbox, got %q", snap.Theme)
	}
}

func TestScenario_SecondStartCancelsFirst(t *testing.T) {
	g := startLive(t, &stallingAuth{stall: map[string]bool{"alice": true}}, nil)

	var mu sync.Mutex
	var transitions []session.State
	g.d.loop.Call(func() {
		g.d.machine.Observe = func(from, to session.State, id string) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		}
	})

	first, _ := g.attach(t, g.ids[0])
	second, _ := g.attach(t, g.ids[1])
	ctx := testContext(t)

	pending := first.Call(ctx, bridge.OpStartAuthentication, bridge.Username{Name: "alice"})
	// Make sure alice's request is being handled before bob starts.
	for {
		var active bool
		g.d.loop.Call(func() { active = g.d.machine.State().Active() })
		if active {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("first authentication never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	step, err := second.LightDM().Authenticate(ctx, "bob")
	if err != nil {
		t.Fatalf("Authenticate bob: %v", err)
	}
	if step.State != session.PromptPending.String() || step.PromptKind != bridge.PromptSecret {
		t.Fatalf("unexpected step for bob %+v", step)
	}

	if _, err := pending.Wait(ctx); !errors.Is(err, bridge.ErrCancelled) {
		t.Fatalf("expected alice's request to be cancelled, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	cancelled, prompted := -1, -1
	for i, s := range transitions {
		switch {
		case s == session.Cancelled && cancelled < 0:
			cancelled = i
		case s == session.PromptPending:
			prompted = i
		}
	}
	if cancelled < 0 || prompted < cancelled {
		t.Fatalf("expected cancelled before prompt-pending, got %v", transitions)
	}

	st, err := second.LightDM().Status(ctx)
	if err != nil || st.AuthenticationUser != "bob" || !st.InAuthentication {
		t.Fatalf("unexpected status %+v (%v)", st, err)
	}
}

func TestScenario_UnknownWindowIsRefused(t *testing.T) {
	g := startLive(t, &stallingAuth{}, nil)
	g.attach(t, g.ids[0])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := ipc.Dial(ctx, g.socket, ipc.Hello{Window: 99, Role: ipc.RoleContent})
	if !errors.Is(err, ipc.ErrRefused) || !errors.Is(err, bridge.ErrAccessDenied) {
		t.Fatalf("expected access-denied refusal, got %v", err)
	}
}
