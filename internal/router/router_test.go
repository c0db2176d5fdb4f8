package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

type sent struct {
	window bridge.WindowID
	msg    *bridge.Message
}

type recordingSender struct {
	t    *testing.T
	mu   sync.Mutex
	out  []sent
	fail map[bridge.WindowID]bool
}

func (s *recordingSender) Send(window bridge.WindowID, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[window] {
		return errors.New("window gone")
	}
	msg, err := bridge.Decode(blob, bridge.SideControl)
	if err != nil {
		id, _, replyErr, ok := bridge.DecodeErrorReply(blob)
		if !ok {
			s.t.Fatalf("router sent an undecodable envelope: %v", err)
		}
		msg = &bridge.Message{Kind: bridge.KindReply, ID: id, Err: replyErr}
	}
	s.out = append(s.out, sent{window: window, msg: msg})
	return nil
}

func (s *recordingSender) messages() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.out...)
}

func newTestRouter(t *testing.T) (*Router, *recordingSender) {
	t.Helper()
	s := &recordingSender{t: t, fail: map[bridge.WindowID]bool{}}
	r := New(s)
	r.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return r, s
}

func request(t *testing.T, id uint64, op bridge.Op, args any) []byte {
	t.Helper()
	blob, err := bridge.EncodeRequest(id, op, args)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	return blob
}

func onlyReply(t *testing.T, s *recordingSender) *bridge.Message {
	t.Helper()
	out := s.messages()
	if len(out) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(out))
	}
	if out[0].msg.Kind != bridge.KindReply {
		t.Fatalf("expected a reply, got %s", out[0].msg.Kind)
	}
	return out[0].msg
}

func TestDispatch_SynchronousReply(t *testing.T) {
	r, s := newTestRouter(t)
	r.Handle(bridge.OpHostname, func(ctx context.Context, call *Call) (any, error) {
		return bridge.Text{Value: "greeter-box"}, nil
	})

	r.Dispatch(context.Background(), 1, request(t, 7, bridge.OpHostname, bridge.Empty{}))

	reply := onlyReply(t, s)
	if reply.ID != 7 || reply.Payload.(bridge.Text).Value != "greeter-box" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if r.Outstanding(1) != 0 {
		t.Fatalf("expected no outstanding requests, got %d", r.Outstanding(1))
	}
}

func TestDispatch_HandlerErrorKeepsCode(t *testing.T) {
	r, s := newTestRouter(t)
	r.Handle(bridge.OpRespond, func(ctx context.Context, call *Call) (any, error) {
		return nil, bridge.Errorf(bridge.CodeSessionConflict, "no prompt pending")
	})

	r.Dispatch(context.Background(), 1, request(t, 1, bridge.OpRespond, bridge.Response{Text: "x"}))

	reply := onlyReply(t, s)
	if !errors.Is(reply.Err, bridge.ErrSessionConflict) {
		t.Fatalf("expected session-conflict, got %v", reply.Err)
	}
}

func TestDispatch_UnknownOperation(t *testing.T) {
	r, s := newTestRouter(t)
	unknown := mustEnvelope(t, 12, "lightdm.frobnicate")
	r.Dispatch(context.Background(), 2, unknown)
	reply := onlyReply(t, s)
	if reply.Err == nil || reply.Err.Code != bridge.CodeUnknownOperation || reply.ID != 12 {
		t.Fatalf("expected unknown-operation reply to id 12, got %+v", reply)
	}
}

func TestDispatch_UnregisteredRequestGetsUnknownOperation(t *testing.T) {
	r, s := newTestRouter(t)
	r.Dispatch(context.Background(), 1, request(t, 3, bridge.OpHostname, bridge.Empty{}))
	reply := onlyReply(t, s)
	if !errors.Is(reply.Err, bridge.ErrUnknownOperation) {
		t.Fatalf("expected unknown-operation, got %v", reply.Err)
	}
}

func TestDispatch_MalformedNeverReachesHandler(t *testing.T) {
	r, s := newTestRouter(t)
	called := false
	r.Handle(bridge.OpRespond, func(ctx context.Context, call *Call) (any, error) {
		called = true
		return bridge.AuthStep{}, nil
	})

	// lightdm.respond with an integer where the response text belongs.
	blob := []byte{0x85, 0x01, 0x05, 0x6f}
	blob = append(blob, "lightdm.respond"...)
	blob = append(blob, 0x81, 0x18, 0x2a, 0xf6)
	r.Dispatch(context.Background(), 1, blob)

	if called {
		t.Fatal("handler ran for a malformed payload")
	}
	reply := onlyReply(t, s)
	if reply.ID != 5 || !errors.Is(reply.Err, bridge.ErrMalformedMessage) {
		t.Fatalf("expected malformed-message reply to id 5, got %+v", reply)
	}
}

func TestDispatch_GarbageIsDropped(t *testing.T) {
	r, s := newTestRouter(t)
	r.Dispatch(context.Background(), 1, []byte("not cbor at all"))
	if len(s.messages()) != 0 {
		t.Fatalf("expected no reply for an unreadable envelope, got %d", len(s.messages()))
	}
}

func TestDispatch_DeferredReply(t *testing.T) {
	r, s := newTestRouter(t)
	var slot *Pending
	r.Handle(bridge.OpConsole, func(ctx context.Context, call *Call) (any, error) {
		slot = call.Defer()
		return nil, nil
	})

	r.Dispatch(context.Background(), 4, request(t, 1, bridge.OpConsole, bridge.ConsoleReport{Kind: "error"}))
	if len(s.messages()) != 0 {
		t.Fatal("deferred request replied early")
	}
	if r.Outstanding(4) != 1 || !slot.Awaiting() {
		t.Fatal("expected the deferred request to be pending")
	}

	if err := slot.Reply(bridge.ConsoleResult{StopPrompts: true}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	reply := onlyReply(t, s)
	if !reply.Payload.(bridge.ConsoleResult).StopPrompts {
		t.Fatal("expected stop_prompts=true")
	}

	if err := slot.Reply(bridge.ConsoleResult{}); !errors.Is(err, ErrAlreadyReplied) {
		t.Fatalf("expected ErrAlreadyReplied, got %v", err)
	}
	if err := slot.Fail(bridge.ErrCancelled); !errors.Is(err, ErrAlreadyReplied) {
		t.Fatalf("expected ErrAlreadyReplied on Fail, got %v", err)
	}
	if len(s.messages()) != 1 {
		t.Fatalf("duplicate reply was sent: %d messages", len(s.messages()))
	}
}

func TestDispatch_ZeroRepliesIsFault(t *testing.T) {
	r, s := newTestRouter(t)
	r.Handle(bridge.OpHostname, func(ctx context.Context, call *Call) (any, error) {
		return nil, nil
	})
	r.Dispatch(context.Background(), 1, request(t, 1, bridge.OpHostname, bridge.Empty{}))
	if reply := onlyReply(t, s); !errors.Is(reply.Err, bridge.ErrInternalProtocolFault) {
		t.Fatalf("expected internal fault, got %+v", reply)
	}
}

func TestDispatch_ValueAfterDeferIsFault(t *testing.T) {
	r, s := newTestRouter(t)
	var slot *Pending
	r.Handle(bridge.OpHostname, func(ctx context.Context, call *Call) (any, error) {
		slot = call.Defer()
		return bridge.Text{Value: "twice"}, nil
	})
	r.Dispatch(context.Background(), 1, request(t, 1, bridge.OpHostname, bridge.Empty{}))
	if reply := onlyReply(t, s); !errors.Is(reply.Err, bridge.ErrInternalProtocolFault) {
		t.Fatalf("expected internal fault, got %+v", reply)
	}
	if err := slot.Reply(bridge.Text{Value: "late"}); !errors.Is(err, ErrAlreadyReplied) {
		t.Fatalf("expected ErrAlreadyReplied, got %v", err)
	}
}

func TestDispatch_WrongReplyTypeIsFault(t *testing.T) {
	r, s := newTestRouter(t)
	r.Handle(bridge.OpHostname, func(ctx context.Context, call *Call) (any, error) {
		return bridge.Ack{OK: true}, nil
	})
	r.Dispatch(context.Background(), 1, request(t, 1, bridge.OpHostname, bridge.Empty{}))
	if reply := onlyReply(t, s); !errors.Is(reply.Err, bridge.ErrInternalProtocolFault) {
		t.Fatalf("expected internal fault, got %+v", reply)
	}
}

func TestDispatch_PanicIsFault(t *testing.T) {
	r, s := newTestRouter(t)
	r.Handle(bridge.OpHostname, func(ctx context.Context, call *Call) (any, error) {
		panic("boom")
	})
	r.Dispatch(context.Background(), 1, request(t, 1, bridge.OpHostname, bridge.Empty{}))
	if reply := onlyReply(t, s); !errors.Is(reply.Err, bridge.ErrInternalProtocolFault) {
		t.Fatalf("expected internal fault, got %+v", reply)
	}
}

func TestDispatch_DuplicatePendingID(t *testing.T) {
	r, s := newTestRouter(t)
	r.Handle(bridge.OpConsole, func(ctx context.Context, call *Call) (any, error) {
		call.Defer()
		return nil, nil
	})
	blob := request(t, 9, bridge.OpConsole, bridge.ConsoleReport{})
	r.Dispatch(context.Background(), 1, blob)
	r.Dispatch(context.Background(), 1, blob)

	reply := onlyReply(t, s)
	if !errors.Is(reply.Err, bridge.ErrMalformedMessage) {
		t.Fatalf("expected malformed-message for the reused id, got %v", reply.Err)
	}
	// The same id from another window is independent.
	r.Dispatch(context.Background(), 2, blob)
	if r.Outstanding(2) != 1 {
		t.Fatal("expected window 2 to have its own pending request")
	}
}

func TestAbandonWindow_DropsLateReplies(t *testing.T) {
	r, s := newTestRouter(t)
	var slots []*Pending
	r.Handle(bridge.OpConsole, func(ctx context.Context, call *Call) (any, error) {
		slots = append(slots, call.Defer())
		return nil, nil
	})
	r.Dispatch(context.Background(), 1, request(t, 1, bridge.OpConsole, bridge.ConsoleReport{}))
	r.Dispatch(context.Background(), 2, request(t, 1, bridge.OpConsole, bridge.ConsoleReport{}))

	if n := r.AbandonWindow(1); n != 1 {
		t.Fatalf("expected 1 abandoned request, got %d", n)
	}
	if err := slots[0].Reply(bridge.ConsoleResult{}); !errors.Is(err, ErrAbandoned) {
		t.Fatalf("expected ErrAbandoned, got %v", err)
	}
	if slots[0].Awaiting() {
		t.Fatal("abandoned request still awaiting")
	}
	if err := slots[1].Reply(bridge.ConsoleResult{}); err != nil {
		t.Fatalf("other window's reply failed: %v", err)
	}
	out := s.messages()
	if len(out) != 1 || out[0].window != 2 {
		t.Fatalf("expected one reply to window 2, got %+v", out)
	}
}

func TestDispatch_Events(t *testing.T) {
	r, s := newTestRouter(t)
	var got []bridge.WindowID
	r.HandleEvent(bridge.OpReadyToShow, func(ctx context.Context, window bridge.WindowID, payload any) {
		got = append(got, window)
	})
	blob, err := bridge.EncodeEvent(bridge.OpReadyToShow, bridge.Empty{})
	if err != nil {
		t.Fatal(err)
	}
	r.Dispatch(context.Background(), 3, blob)

	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected event from window 3, got %v", got)
	}
	if len(s.messages()) != 0 {
		t.Fatal("events must not be replied to")
	}
}

func TestValidate_ReportsMissingHandlers(t *testing.T) {
	r, _ := newTestRouter(t)
	if err := r.Validate(); err == nil {
		t.Fatal("expected missing handlers to be reported")
	}
	for _, op := range bridge.Requests() {
		r.Handle(op, func(ctx context.Context, call *Call) (any, error) { return nil, nil })
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected complete table, got %v", err)
	}
}

func TestEmit(t *testing.T) {
	r, s := newTestRouter(t)
	if err := r.Emit(5, bridge.OpReload, bridge.Reload{Theme: "gruvbox"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	s.fail[6] = true
	if err := r.Emit(6, bridge.OpReload, bridge.Reload{Theme: "gruvbox"}); err == nil {
		t.Fatal("expected send failure to be reported")
	}
	out := s.messages()
	if len(out) != 1 || out[0].msg.Op != bridge.OpReload || out[0].window != 5 {
		t.Fatalf("unexpected sends %+v", out)
	}
}

func mustEnvelope(t *testing.T, id uint64, name string) []byte {
	t.Helper()
	blob := []byte{0x85, 0x01}
	blob = append(blob, 0x18, byte(id))
	blob = append(blob, 0x60+byte(len(name)))
	blob = append(blob, name...)
	return append(blob, 0x80, 0xf6)
}
