// Package relay is the content-process side of the bridge. It turns
// script calls into request envelopes, resolves the handle of each call
// when its reply arrives and delivers unsolicited events to callbacks.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

// ErrDisconnected rejects every call outstanding when the connection to
// the control process is lost.
var ErrDisconnected = errors.New("relay: disconnected from control process")

// Conn is a framed connection to the control process.
type Conn interface {
	Send(blob []byte) error
	Recv() ([]byte, error)
	Close() error
}

// Relay multiplexes calls and events over one connection.
type Relay struct {
	Logger *slog.Logger

	conn Conn

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]*Handle
	handlers map[bridge.Op][]func(any)
	down     error
}

// New creates a relay over conn. Run must be called to receive replies.
func New(conn Conn) *Relay {
	return &Relay{
		Logger:   slog.Default(),
		conn:     conn,
		pending:  make(map[uint64]*Handle),
		handlers: make(map[bridge.Op][]func(any)),
	}
}

// Call sends a request and returns its handle at once. The handle is
// rejected if ctx ends before the reply arrives.
func (r *Relay) Call(ctx context.Context, op bridge.Op, args any) *Handle {
	h := newHandle(op)

	r.mu.Lock()
	if r.down != nil {
		r.mu.Unlock()
		h.settle(nil, r.down)
		return h
	}
	r.nextID++
	id := r.nextID
	blob, err := bridge.EncodeRequest(id, op, args)
	if err != nil {
		r.mu.Unlock()
		h.settle(nil, err)
		return h
	}
	r.pending[id] = h
	r.mu.Unlock()

	if err := r.conn.Send(blob); err != nil {
		r.take(id)
		h.settle(nil, fmt.Errorf("%w: %v", ErrDisconnected, err))
		return h
	}

	stop := context.AfterFunc(ctx, func() {
		if r.take(id) != nil {
			h.settle(nil, ctx.Err())
		}
	})
	h.onSettle(func() { stop() })
	return h
}

// Emit sends a one-way event.
func (r *Relay) Emit(op bridge.Op, args any) error {
	blob, err := bridge.EncodeEvent(op, args)
	if err != nil {
		return err
	}
	if err := r.conn.Send(blob); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// On registers fn for an event pushed by the control process. Callbacks
// run on the Run goroutine, in registration order.
func (r *Relay) On(op bridge.Op, fn func(payload any)) {
	if !op.IsEvent() || op.From() != bridge.SideControl {
		panic(fmt.Sprintf("relay: %s is not a control event", op))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[op] = append(r.handlers[op], fn)
}

// Outstanding returns the number of calls awaiting a reply.
func (r *Relay) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run reads from the connection until it fails or ctx ends. Every call
// still outstanding is then rejected with ErrDisconnected.
func (r *Relay) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()

	for {
		blob, err := r.conn.Recv()
		if err != nil {
			r.disconnect()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		r.dispatch(blob)
	}
}

func (r *Relay) dispatch(blob []byte) {
	msg, err := bridge.Decode(blob, bridge.SideControl)
	if err != nil {
		// Error replies may name an operation this side does not know.
		if id, name, replyErr, ok := bridge.DecodeErrorReply(blob); ok {
			r.resolve(id, name, nil, replyErr)
			return
		}
		r.Logger.Warn("dropping malformed message from control process", "error", err)
		return
	}

	switch msg.Kind {
	case bridge.KindReply:
		r.resolve(msg.ID, msg.Op.String(), msg.Payload, msg.Err)
	case bridge.KindEvent:
		r.mu.Lock()
		fns := append([]func(any){}, r.handlers[msg.Op]...)
		r.mu.Unlock()
		if len(fns) == 0 {
			r.Logger.Debug("no callback for event", "op", msg.Op)
			return
		}
		for _, fn := range fns {
			fn(msg.Payload)
		}
	}
}

func (r *Relay) resolve(id uint64, name string, payload any, replyErr *bridge.Error) {
	h := r.take(id)
	if h == nil {
		r.Logger.Warn("reply for unknown request", "id", id, "name", name)
		return
	}
	if replyErr != nil {
		h.settle(nil, replyErr)
		return
	}
	h.settle(payload, nil)
}

func (r *Relay) take(id uint64) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.pending[id]
	delete(r.pending, id)
	return h
}

func (r *Relay) disconnect() {
	r.mu.Lock()
	r.down = ErrDisconnected
	pending := r.pending
	r.pending = make(map[uint64]*Handle)
	r.mu.Unlock()

	if len(pending) > 0 {
		r.Logger.Warn("rejecting outstanding calls", "count", len(pending))
	}
	for _, h := range pending {
		h.settle(nil, ErrDisconnected)
	}
}

// Handle is the script-visible result of a call.
type Handle struct {
	op   bridge.Op
	done chan struct{}

	mu      sync.Mutex
	settled bool
	result  any
	err     error
	after   []func()
}

func newHandle(op bridge.Op) *Handle {
	return &Handle{op: op, done: make(chan struct{})}
}

// Op is the operation that was called.
func (h *Handle) Op() bridge.Op { return h.op }

// Done is closed once the handle is resolved or rejected.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome; it is only meaningful after Done.
func (h *Handle) Result() (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Wait blocks until the handle settles or ctx ends.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then calls fn with the outcome once the handle settles.
func (h *Handle) Then(fn func(result any, err error)) {
	go func() {
		<-h.done
		fn(h.Result())
	}()
}

func (h *Handle) onSettle(fn func()) {
	h.mu.Lock()
	if !h.settled {
		h.after = append(h.after, fn)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	fn()
}

func (h *Handle) settle(result any, err error) {
	h.mu.Lock()
	if h.settled {
		h.mu.Unlock()
		return
	}
	h.settled = true
	h.result, h.err = result, err
	after := h.after
	h.after = nil
	h.mu.Unlock()

	close(h.done)
	for _, fn := range after {
		fn()
	}
}
