// Package router dispatches decoded bridge messages to their handlers and
// guarantees that every request receives exactly one reply.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

// Sender delivers an encoded envelope to one window's content process.
type Sender interface {
	Send(window bridge.WindowID, blob []byte) error
}

// HandlerFunc answers a request. It either returns the reply (or an error)
// synchronously, or calls call.Defer and returns (nil, nil) to reply later.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// EventFunc handles a one-way event from a content process.
type EventFunc func(ctx context.Context, window bridge.WindowID, payload any)

// Router owns the name to handler table and the pending reply slots of
// every window.
type Router struct {
	Logger *slog.Logger

	sender   Sender
	handlers map[bridge.Op]HandlerFunc
	events   map[bridge.Op]EventFunc

	mu      sync.Mutex
	pending map[bridge.WindowID]map[uint64]*Pending
}

// New creates a router that replies through sender.
func New(sender Sender) *Router {
	return &Router{
		Logger:   slog.Default(),
		sender:   sender,
		handlers: make(map[bridge.Op]HandlerFunc),
		events:   make(map[bridge.Op]EventFunc),
		pending:  make(map[bridge.WindowID]map[uint64]*Pending),
	}
}

// Handle registers the handler of a request operation.
func (r *Router) Handle(op bridge.Op, h HandlerFunc) {
	if !op.IsRequest() {
		panic(fmt.Sprintf("router: %s is not a request", op))
	}
	if _, dup := r.handlers[op]; dup {
		panic(fmt.Sprintf("router: duplicate handler for %s", op))
	}
	r.handlers[op] = h
}

// HandleEvent registers the handler of a one-way event sent by content
// processes.
func (r *Router) HandleEvent(op bridge.Op, h EventFunc) {
	if !op.IsEvent() || op.From() != bridge.SideContent {
		panic(fmt.Sprintf("router: %s is not a content event", op))
	}
	r.events[op] = h
}

// Validate reports every request operation that has no handler.
func (r *Router) Validate() error {
	var missing []string
	for _, op := range bridge.Requests() {
		if _, ok := r.handlers[op]; !ok {
			missing = append(missing, op.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("router: no handler for %s", strings.Join(missing, ", "))
	}
	return nil
}

// Dispatch decodes one envelope from window and runs its handler.
func (r *Router) Dispatch(ctx context.Context, window bridge.WindowID, blob []byte) {
	msg, err := bridge.Decode(blob, bridge.SideContent)
	if err != nil {
		r.rejectUndecodable(window, err)
		return
	}

	switch msg.Kind {
	case bridge.KindEvent:
		r.dispatchEvent(ctx, window, msg)
	case bridge.KindRequest:
		r.dispatchRequest(ctx, window, msg)
	}
}

func (r *Router) rejectUndecodable(window bridge.WindowID, err error) {
	var de *bridge.DecodeError
	if !errors.As(err, &de) || de.Kind != bridge.KindRequest || de.ID == 0 {
		r.Logger.Warn("dropping undecodable message", "window", window, "error", err)
		return
	}
	r.Logger.Warn("rejecting request", "window", window, "id", de.ID, "name", de.Name, "error", de.Err)
	r.sendError(window, de.ID, de.Name, de.Err)
}

func (r *Router) dispatchEvent(ctx context.Context, window bridge.WindowID, msg *bridge.Message) {
	h, ok := r.events[msg.Op]
	if !ok {
		r.Logger.Warn("unhandled event", "window", window, "op", msg.Op)
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.Logger.Error("event handler panic recovered", "window", window, "op", msg.Op, "error", v)
		}
	}()
	h(ctx, window, msg.Payload)
}

func (r *Router) dispatchRequest(ctx context.Context, window bridge.WindowID, msg *bridge.Message) {
	h, ok := r.handlers[msg.Op]
	if !ok {
		r.sendError(window, msg.ID, msg.Op.String(), bridge.Errorf(bridge.CodeUnknownOperation, "no handler for %s", msg.Op))
		return
	}

	p, err := r.track(window, msg.ID, msg.Op)
	if err != nil {
		r.Logger.Warn("rejecting request", "window", window, "id", msg.ID, "op", msg.Op, "error", err)
		r.sendError(window, msg.ID, msg.Op.String(), bridge.AsError(err))
		return
	}

	call := &Call{Window: window, ID: msg.ID, Op: msg.Op, Args: msg.Payload, pending: p}
	result, panicked, err := r.invoke(ctx, h, call)

	switch {
	case panicked != nil:
		r.fault(p, "handler panicked: %v", panicked)
	case call.deferred:
		if result != nil {
			r.fault(p, "handler returned %T after deferring its reply", result)
		} else if err != nil {
			if ferr := p.Fail(err); ferr != nil {
				r.Logger.Warn("deferred handler error not delivered", "op", msg.Op, "error", err, "reason", ferr)
			}
		}
	case err != nil:
		_ = p.Fail(err)
	case result == nil:
		r.fault(p, "handler produced no reply")
	default:
		_ = p.Reply(result)
	}
}

func (r *Router) invoke(ctx context.Context, h HandlerFunc, call *Call) (result, panicked any, err error) {
	defer func() {
		if v := recover(); v != nil {
			panicked = v
		}
	}()
	result, err = h(ctx, call)
	return result, nil, err
}

// fault answers p with an internal-protocol-fault if it is still awaiting.
func (r *Router) fault(p *Pending, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.Logger.Error("handler fault", "window", p.window, "id", p.id, "op", p.op, "fault", msg)
	if err := p.Fail(bridge.Errorf(bridge.CodeInternalProtocolFault, "%s", msg)); err != nil {
		r.Logger.Debug("fault not delivered", "op", p.op, "reason", err)
	}
}

func (r *Router) track(window bridge.WindowID, id uint64, op bridge.Op) (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.pending[window]
	if byID == nil {
		byID = make(map[uint64]*Pending)
		r.pending[window] = byID
	}
	if _, dup := byID[id]; dup {
		return nil, bridge.Errorf(bridge.CodeMalformedMessage, "request id %d is already pending", id)
	}
	p := &Pending{router: r, window: window, id: id, op: op}
	byID[id] = p
	return p, nil
}

// settle moves p out of the awaiting state. It returns the state p was in.
func (r *Router) settle(p *Pending) pendingState {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := p.state
	if prev != awaiting {
		return prev
	}
	p.state = replied
	if byID := r.pending[p.window]; byID != nil {
		delete(byID, p.id)
		if len(byID) == 0 {
			delete(r.pending, p.window)
		}
	}
	return prev
}

// AbandonWindow drops every pending request of window. Later replies to
// them are rejected with ErrAbandoned and never sent.
func (r *Router) AbandonWindow(window bridge.WindowID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.pending[window]
	for _, p := range byID {
		p.state = abandoned
	}
	delete(r.pending, window)
	if len(byID) > 0 {
		r.Logger.Info("abandoned pending requests", "window", window, "count", len(byID))
	}
	return len(byID)
}

// Outstanding returns the number of requests of window awaiting a reply.
func (r *Router) Outstanding(window bridge.WindowID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[window])
}

// Emit sends a one-way event to one window.
func (r *Router) Emit(window bridge.WindowID, op bridge.Op, payload any) error {
	blob, err := bridge.EncodeEvent(op, payload)
	if err != nil {
		return err
	}
	if err := r.sender.Send(window, blob); err != nil {
		return fmt.Errorf("failed to send %s to window %d: %w", op, window, err)
	}
	return nil
}

func (r *Router) sendError(window bridge.WindowID, id uint64, name string, replyErr *bridge.Error) {
	blob, err := bridge.EncodeError(id, name, replyErr)
	if err != nil {
		r.Logger.Error("failed to encode error reply", "id", id, "error", err)
		return
	}
	if err := r.sender.Send(window, blob); err != nil {
		r.Logger.Warn("failed to send error reply", "window", window, "id", id, "error", err)
	}
}
