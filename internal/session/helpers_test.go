package session

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

// testLoop stands in for the control loop.
type testLoop struct {
	ch chan func()
}

func newTestLoop() *testLoop { return &testLoop{ch: make(chan func(), 64)} }

func (l *testLoop) post(fn func()) { l.ch <- fn }

// drain runs every queued callback.
func (l *testLoop) drain() {
	for {
		select {
		case fn := <-l.ch:
			fn()
		default:
			return
		}
	}
}

// next waits for one callback posted from another goroutine and runs it.
func (l *testLoop) next(t *testing.T) {
	t.Helper()
	select {
	case fn := <-l.ch:
		fn()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a posted callback")
	}
}

type replier struct {
	results []any
	errs    []error
}

func (r *replier) Reply(result any) error {
	if r.count() > 0 {
		return errors.New("already replied")
	}
	r.results = append(r.results, result)
	return nil
}

func (r *replier) Fail(err error) error {
	if r.count() > 0 {
		return errors.New("already replied")
	}
	r.errs = append(r.errs, err)
	return nil
}

func (r *replier) count() int { return len(r.results) + len(r.errs) }

func (r *replier) step(t *testing.T) bridge.AuthStep {
	t.Helper()
	if len(r.errs) > 0 {
		t.Fatalf("expected a step, got error %v", r.errs[0])
	}
	if len(r.results) != 1 {
		t.Fatalf("expected one reply, got %d", len(r.results))
	}
	step, ok := r.results[0].(bridge.AuthStep)
	if !ok {
		t.Fatalf("expected AuthStep, got %T", r.results[0])
	}
	return step
}

func (r *replier) err(t *testing.T) *bridge.Error {
	t.Helper()
	if len(r.errs) != 1 || len(r.results) != 0 {
		t.Fatalf("expected one error reply, got results=%v errs=%v", r.results, r.errs)
	}
	return bridge.AsError(r.errs[0])
}

type event struct {
	window  bridge.WindowID
	op      bridge.Op
	payload any
}

type recordingEmitter struct {
	events []event
}

func (e *recordingEmitter) Emit(window bridge.WindowID, op bridge.Op, payload any) error {
	e.events = append(e.events, event{window, op, payload})
	return nil
}

type fakeConversation struct {
	user       string
	sink       Sink
	responses  []string
	cancelled  bool
	respondErr error
}

func (c *fakeConversation) Respond(text string) error {
	if c.respondErr != nil {
		return c.respondErr
	}
	c.responses = append(c.responses, text)
	return nil
}

func (c *fakeConversation) Cancel() { c.cancelled = true }

type fakeBackend struct {
	mu         sync.Mutex
	convs      []*fakeConversation
	startErr   error
	sessionErr error
	sessions   []string
}

func (b *fakeBackend) Start(username string, sink Sink) (Conversation, error) {
	if b.startErr != nil {
		return nil, b.startErr
	}
	c := &fakeConversation{user: username, sink: sink}
	b.convs = append(b.convs, c)
	return c, nil
}

func (b *fakeBackend) StartSession(ctx context.Context, user, session string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessionErr != nil {
		return b.sessionErr
	}
	b.sessions = append(b.sessions, user+"/"+session)
	return nil
}

func (b *fakeBackend) last() *fakeConversation { return b.convs[len(b.convs)-1] }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMachine(backend Backend) (*Machine, *testLoop, *recordingEmitter) {
	loop := newTestLoop()
	emit := &recordingEmitter{}
	m := New(backend, emit, loop.post)
	m.Logger = quietLogger()
	return m, loop, emit
}
