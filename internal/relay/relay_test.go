package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

type chanConn struct {
	in     chan []byte // control -> content
	out    chan []byte // content -> control
	closed chan struct{}
	once   sync.Once
}

func newChanConn() *chanConn {
	return &chanConn{in: make(chan []byte, 16), out: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *chanConn) Send(blob []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.out <- blob:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *chanConn) Recv() ([]byte, error) {
	select {
	case blob := <-c.in:
		return blob, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// request reads the next request the relay sent.
func (c *chanConn) request(t *testing.T) *bridge.Message {
	t.Helper()
	select {
	case blob := <-c.out:
		msg, err := bridge.Decode(blob, bridge.SideContent)
		if err != nil {
			t.Fatalf("relay sent an invalid envelope: %v", err)
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a request")
		return nil
	}
}

func (c *chanConn) push(blob []byte) { c.in <- blob }

// answer replies to the next request from a goroutine.
func (c *chanConn) answer(reply func(*bridge.Message) []byte) {
	go func() {
		msg, err := bridge.Decode(<-c.out, bridge.SideContent)
		if err != nil {
			return
		}
		c.in <- reply(msg)
	}()
}

func must(blob []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return blob
}

func startRelay(t *testing.T) (*Relay, *chanConn, chan error) {
	t.Helper()
	conn := newChanConn()
	r := New(conn)
	r.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return r, conn, done
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCall_ResolvesWithReply(t *testing.T) {
	r, conn, _ := startRelay(t)
	ctx := testContext(t)

	h := r.Call(ctx, bridge.OpHostname, bridge.Empty{})
	req := conn.request(t)
	if req.Op != bridge.OpHostname || req.ID == 0 {
		t.Fatalf("unexpected request %+v", req)
	}
	conn.push(must(bridge.EncodeReply(req.ID, bridge.OpHostname, bridge.Text{Value: "greeter-box"})))

	v, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v.(bridge.Text).Value != "greeter-box" {
		t.Fatalf("unexpected result %#v", v)
	}
	if r.Outstanding() != 0 {
		t.Fatalf("expected no outstanding calls, got %d", r.Outstanding())
	}
}

func TestCall_RejectsWithDecodedError(t *testing.T) {
	r, conn, _ := startRelay(t)
	ctx := testContext(t)

	h := r.Call(ctx, bridge.OpRespond, bridge.Response{Text: "pw"})
	req := conn.request(t)
	conn.push(must(bridge.EncodeError(req.ID, req.Op.String(), bridge.Errorf(bridge.CodeSessionConflict, "no prompt pending"))))

	_, err := h.Wait(ctx)
	if !errors.Is(err, bridge.ErrSessionConflict) {
		t.Fatalf("expected session-conflict, got %v", err)
	}
	var be *bridge.Error
	if !errors.As(err, &be) || be.Message != "no prompt pending" {
		t.Fatalf("expected decoded message, got %v", err)
	}
}

func TestCall_ConcurrentRepliesOutOfOrder(t *testing.T) {
	r, conn, _ := startRelay(t)
	ctx := testContext(t)

	h1 := r.Call(ctx, bridge.OpHostname, bridge.Empty{})
	h2 := r.Call(ctx, bridge.OpThemeList, bridge.Empty{})
	req1, req2 := conn.request(t), conn.request(t)

	conn.push(must(bridge.EncodeReply(req2.ID, bridge.OpThemeList, bridge.ThemeList{IDs: []string{"gruvbox"}})))
	conn.push(must(bridge.EncodeReply(req1.ID, bridge.OpHostname, bridge.Text{Value: "box"})))

	v2, err := h2.Wait(ctx)
	if err != nil || v2.(bridge.ThemeList).IDs[0] != "gruvbox" {
		t.Fatalf("unexpected second result %v %v", v2, err)
	}
	v1, err := h1.Wait(ctx)
	if err != nil || v1.(bridge.Text).Value != "box" {
		t.Fatalf("unexpected first result %v %v", v1, err)
	}
}

func TestOn_EventWithoutOutstandingCall(t *testing.T) {
	r, conn, _ := startRelay(t)

	got := make(chan string, 1)
	r.ThemeUtils().OnReload(func(theme string) { got <- theme })
	conn.push(must(bridge.EncodeEvent(bridge.OpReload, bridge.Reload{Theme: "gruvbox"})))

	select {
	case theme := <-got:
		if theme != "gruvbox" {
			t.Fatalf("expected gruvbox, got %q", theme)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback not invoked")
	}
	if r.Outstanding() != 0 {
		t.Fatal("events must not touch pending calls")
	}
}

func TestRun_DisconnectRejectsOutstanding(t *testing.T) {
	r, conn, done := startRelay(t)
	ctx := testContext(t)

	h1 := r.Call(ctx, bridge.OpStartAuthentication, bridge.Username{Name: "alice"})
	h2 := r.Call(ctx, bridge.OpConsole, bridge.ConsoleReport{Kind: "error"})
	conn.request(t)
	conn.request(t)

	conn.Close()

	for _, h := range []*Handle{h1, h2} {
		if _, err := h.Wait(ctx); !errors.Is(err, ErrDisconnected) {
			t.Fatalf("expected ErrDisconnected, got %v", err)
		}
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrDisconnected) {
			t.Fatalf("expected Run to report disconnect, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	late := r.Call(ctx, bridge.OpHostname, bridge.Empty{})
	select {
	case <-late.Done():
	default:
		t.Fatal("calls after disconnect must be rejected at once")
	}
	if _, err := late.Result(); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestCall_ContextCancelled(t *testing.T) {
	r, conn, _ := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())

	h := r.Call(ctx, bridge.OpStartAuthentication, bridge.Username{Name: "alice"})
	req := conn.request(t)
	cancel()

	<-h.Done()
	if _, err := h.Result(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if r.Outstanding() != 0 {
		t.Fatal("cancelled call still pending")
	}

	// The late reply is dropped, and the relay keeps working.
	conn.push(must(bridge.EncodeReply(req.ID, bridge.OpStartAuthentication, bridge.AuthStep{State: "prompt-pending"})))
	next := r.Call(testContext(t), bridge.OpHostname, bridge.Empty{})
	nreq := conn.request(t)
	conn.push(must(bridge.EncodeReply(nreq.ID, bridge.OpHostname, bridge.Text{Value: "ok"})))
	if v, err := next.Wait(testContext(t)); err != nil || v.(bridge.Text).Value != "ok" {
		t.Fatalf("relay broken after a dropped reply: %v %v", v, err)
	}
}

func TestHandle_Then(t *testing.T) {
	r, conn, _ := startRelay(t)
	h := r.Call(testContext(t), bridge.OpHostname, bridge.Empty{})

	got := make(chan any, 1)
	h.Then(func(result any, err error) { got <- result })

	req := conn.request(t)
	conn.push(must(bridge.EncodeReply(req.ID, bridge.OpHostname, bridge.Text{Value: "then"})))
	select {
	case v := <-got:
		if v.(bridge.Text).Value != "then" {
			t.Fatalf("unexpected value %#v", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Then callback not invoked")
	}
}

func TestCall_EncodeErrorRejectsLocally(t *testing.T) {
	r, conn, _ := startRelay(t)
	h := r.Call(testContext(t), bridge.OpRespond, bridge.Username{Name: "wrong tuple"})
	<-h.Done()
	if _, err := h.Result(); err == nil {
		t.Fatal("expected an encode error")
	}
	select {
	case <-conn.out:
		t.Fatal("nothing must be sent for an invalid call")
	default:
	}
}

func TestLightDM_TypedFacade(t *testing.T) {
	r, conn, _ := startRelay(t)
	ctx := testContext(t)

	conn.answer(func(req *bridge.Message) []byte {
		args := req.Payload.(bridge.Username)
		return must(bridge.EncodeReply(req.ID, req.Op, bridge.AuthStep{
			SessionID: "s1", State: "prompt-pending", PromptText: "Password for " + args.Name + ": ", PromptKind: bridge.PromptSecret,
		}))
	})

	step, err := r.LightDM().Authenticate(ctx, "alice")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if step.PromptText != "Password for alice: " || step.PromptKind != bridge.PromptSecret {
		t.Fatalf("unexpected step %+v", step)
	}
}

func TestConsole_LatchesOnStopPrompts(t *testing.T) {
	r, conn, _ := startRelay(t)
	ctx := testContext(t)
	console := NewConsole(r, true)

	conn.answer(func(req *bridge.Message) []byte {
		return must(bridge.EncodeReply(req.ID, bridge.OpConsole, bridge.ConsoleResult{StopPrompts: true}))
	})

	sent, err := console.Report(ctx, "error", "boom", "app.js", 42)
	if err != nil || !sent {
		t.Fatalf("expected report to be sent, got %v %v", sent, err)
	}
	if !console.Stopped() {
		t.Fatal("expected console to stop after stop_prompts")
	}
	sent, err = console.Report(ctx, "error", "again", "app.js", 43)
	if err != nil || sent {
		t.Fatalf("expected report to be suppressed, got %v %v", sent, err)
	}
	select {
	case <-conn.out:
		t.Fatal("suppressed report was sent")
	default:
	}
}

func TestConsole_DetectionOff(t *testing.T) {
	r, conn, _ := startRelay(t)
	console := NewConsole(r, false)
	sent, err := console.Report(testContext(t), "error", "boom", "app.js", 1)
	if err != nil || sent {
		t.Fatalf("expected nothing sent, got %v %v", sent, err)
	}
	select {
	case <-conn.out:
		t.Fatal("report sent with detection off")
	default:
	}
}

func TestReadyToShow(t *testing.T) {
	r, conn, _ := startRelay(t)
	if err := r.ReadyToShow(); err != nil {
		t.Fatalf("ReadyToShow: %v", err)
	}
	blob := <-conn.out
	msg, err := bridge.Decode(blob, bridge.SideContent)
	if err != nil || msg.Kind != bridge.KindEvent || msg.Op != bridge.OpReadyToShow {
		t.Fatalf("unexpected message %+v %v", msg, err)
	}
}
