package ipc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

type delivery struct {
	window bridge.WindowID
	blob   []byte
}

type fakeHost struct {
	mu       sync.Mutex
	attached []Hello
	refuse   error
	onDetach func(bridge.WindowID)

	delivered chan delivery
	detached  chan bridge.WindowID
}

func newFakeHost() *fakeHost {
	return &fakeHost{delivered: make(chan delivery, 8), detached: make(chan bridge.WindowID, 8)}
}

func (h *fakeHost) Attach(hello Hello) (Welcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refuse != nil {
		return Welcome{}, h.refuse
	}
	h.attached = append(h.attached, hello)
	return Welcome{SecureMode: true, DetectThemeErrors: true}, nil
}

func (h *fakeHost) Deliver(window bridge.WindowID, blob []byte) {
	h.delivered <- delivery{window, blob}
}

func (h *fakeHost) Detach(window bridge.WindowID) {
	h.mu.Lock()
	fn := h.onDetach
	h.mu.Unlock()
	if fn != nil {
		fn(window)
	}
	h.detached <- window
}

// shortSocket returns a socket path short enough for sun_path.
func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "wg")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func startServer(t *testing.T) (*Server, *fakeHost, string) {
	t.Helper()
	host := newFakeHost()
	path := shortSocket(t)
	s := NewServer(path, host)
	s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, host, path
}

func dial(t *testing.T, path string, hello Hello) (*Client, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Dial(ctx, path, hello)
}

func waitDelivery(t *testing.T, h *fakeHost) delivery {
	t.Helper()
	select {
	case d := <-h.delivered:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return delivery{}
	}
}

func waitDetach(t *testing.T, h *fakeHost) bridge.WindowID {
	t.Helper()
	select {
	case w := <-h.detached:
		return w
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for detach")
		return 0
	}
}

func TestHandshake_WelcomeAndRoundTrip(t *testing.T) {
	s, host, path := startServer(t)

	c, err := dial(t, path, Hello{Window: 42, Role: RoleContent})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	w := c.Welcome()
	if w.Window != 42 || !w.SecureMode || !w.DetectThemeErrors || w.DebugMode {
		t.Fatalf("unexpected welcome %+v", w)
	}
	if !s.Connected(42) {
		t.Fatal("expected window 42 to be connected")
	}

	req, err := bridge.EncodeRequest(1, bridge.OpHostname, bridge.Empty{})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if err := c.Send(req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	d := waitDelivery(t, host)
	if d.window != 42 {
		t.Fatalf("expected frame from window 42, got %d", d.window)
	}
	msg, err := bridge.Decode(d.blob, bridge.SideContent)
	if err != nil || msg.Op != bridge.OpHostname || msg.ID != 1 {
		t.Fatalf("unexpected frame %+v %v", msg, err)
	}

	reply, err := bridge.EncodeReply(1, bridge.OpHostname, bridge.Text{Value: "box"})
	if err != nil {
		t.Fatalf("EncodeReply: %v", err)
	}
	if err := s.Send(42, reply); err != nil {
		t.Fatalf("server Send: %v", err)
	}
	blob, err := c.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	got, err := bridge.Decode(blob, bridge.SideControl)
	if err != nil || got.Payload.(bridge.Text).Value != "box" {
		t.Fatalf("unexpected reply %+v %v", got, err)
	}
}

func TestHandshake_DuplicateWindowRefused(t *testing.T) {
	_, _, path := startServer(t)

	c, err := dial(t, path, Hello{Window: 7, Role: RoleContent})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	_, err = dial(t, path, Hello{Window: 7, Role: RoleContent})
	if !errors.Is(err, ErrRefused) || !errors.Is(err, bridge.ErrSessionConflict) {
		t.Fatalf("expected refusal with session-conflict, got %v", err)
	}
}

func TestHandshake_HostRefusal(t *testing.T) {
	_, host, path := startServer(t)
	host.mu.Lock()
	host.refuse = bridge.Errorf(bridge.CodeAccessDenied, "inspector requires debug mode")
	host.mu.Unlock()

	_, err := dial(t, path, Hello{Role: RoleInspector})
	if !errors.Is(err, bridge.ErrAccessDenied) {
		t.Fatalf("expected access-denied, got %v", err)
	}
	select {
	case w := <-host.detached:
		t.Fatalf("refused connection must not detach, got %d", w)
	default:
	}
}

func TestHandshake_VersionMismatch(t *testing.T) {
	_, _, path := startServer(t)
	_, err := dial(t, path, Hello{Window: 1, Role: RoleContent, APIVersion: "0.1"})
	if !errors.Is(err, ErrRefused) {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestHandshake_InspectorGetsOwnID(t *testing.T) {
	_, host, path := startServer(t)

	c1, err := dial(t, path, Hello{Role: RoleInspector})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c1.Close()
	c2, err := dial(t, path, Hello{Role: RoleInspector})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c2.Close()

	a, b := c1.Welcome().Window, c2.Welcome().Window
	if a == b || !IsInspector(a) || !IsInspector(b) {
		t.Fatalf("expected distinct inspector ids, got %d and %d", a, b)
	}
	host.mu.Lock()
	defer host.mu.Unlock()
	if len(host.attached) != 2 || host.attached[0].Window != a {
		t.Fatalf("host saw %+v", host.attached)
	}
}

func TestDetach_OnClientClose(t *testing.T) {
	s, host, path := startServer(t)

	c, err := dial(t, path, Hello{Window: 3, Role: RoleContent})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c.Close()

	if w := waitDetach(t, host); w != 3 {
		t.Fatalf("expected detach of window 3, got %d", w)
	}
	if err := s.Send(3, []byte{0xf6}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	// The id is free again.
	c, err = dial(t, path, Hello{Window: 3, Role: RoleContent})
	if err != nil {
		t.Fatalf("redial: %v", err)
	}
	c.Close()
}

func TestSend_WindowThatStopsReadingIsDropped(t *testing.T) {
	s, host, path := startServer(t)

	stalled, err := dial(t, path, Hello{Window: 11, Role: RoleContent})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stalled.Close()

	// The peer never reads, so the socket buffer fills and then the queue.
	blob := make([]byte, 64<<10)
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 10000; i++ {
			if err := s.Send(11, blob); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrSlowConsumer) {
			t.Fatalf("expected ErrSlowConsumer, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Send blocked on a window that does not read")
	}
	if w := waitDetach(t, host); w != 11 {
		t.Fatalf("expected detach of window 11, got %d", w)
	}

	healthy, err := dial(t, path, Hello{Window: 12, Role: RoleContent})
	if err != nil {
		t.Fatalf("Dial healthy window: %v", err)
	}
	defer healthy.Close()
	reply, err := bridge.EncodeReply(1, bridge.OpHostname, bridge.Text{Value: "box"})
	if err != nil {
		t.Fatalf("EncodeReply: %v", err)
	}
	if err := s.Send(12, reply); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := healthy.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
}

func TestDetach_HostNotifiedBeforeWindowIsFree(t *testing.T) {
	_, host, path := startServer(t)

	redial := make(chan error, 1)
	host.mu.Lock()
	host.onDetach = func(window bridge.WindowID) {
		c, err := dial(t, path, Hello{Window: window, Role: RoleContent})
		if err == nil {
			c.Close()
		}
		redial <- err
	}
	host.mu.Unlock()

	c, err := dial(t, path, Hello{Window: 4, Role: RoleContent})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c.Close()

	if w := waitDetach(t, host); w != 4 {
		t.Fatalf("expected detach of window 4, got %d", w)
	}
	if err := <-redial; !errors.Is(err, bridge.ErrSessionConflict) {
		t.Fatalf("expected a reconnect during detach to be refused, got %v", err)
	}
}

func TestUnreadableFrameClosesConnection(t *testing.T) {
	_, host, path := startServer(t)

	c, err := dial(t, path, Hello{Window: 5, Role: RoleContent})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	// A lone break byte is not well-formed CBOR.
	if err := c.Send([]byte{0xff}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if w := waitDetach(t, host); w != 5 {
		t.Fatalf("expected detach of window 5, got %d", w)
	}
	if _, err := c.Recv(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("inspector"); err != nil || r != RoleInspector {
		t.Fatalf("ParseRole(inspector) = %v, %v", r, err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
