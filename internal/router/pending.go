package router

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

var (
	// ErrAlreadyReplied is returned when a request is answered twice.
	ErrAlreadyReplied = errors.New("router: request already replied")
	// ErrAbandoned is returned when the window of a request went away
	// before the reply was produced.
	ErrAbandoned = errors.New("router: request abandoned")
	// ErrReplyType is returned when a reply does not match the declared
	// reply tuple of its operation. The caller receives a fault instead.
	ErrReplyType = errors.New("router: reply type mismatch")
)

type pendingState uint8

const (
	awaiting pendingState = iota
	replied
	abandoned
)

// Call is one inbound request.
type Call struct {
	Window bridge.WindowID
	ID     uint64
	Op     bridge.Op
	Args   any

	pending  *Pending
	deferred bool
}

// Defer hands the reply slot to the handler, which must then return
// (nil, nil) and resolve the slot later.
func (c *Call) Defer() *Pending {
	c.deferred = true
	return c.pending
}

// Pending is the single-assignment reply slot of a request.
type Pending struct {
	router *Router
	window bridge.WindowID
	id     uint64
	op     bridge.Op
	state  pendingState
}

func (p *Pending) Window() bridge.WindowID { return p.window }
func (p *Pending) Op() bridge.Op           { return p.op }

// Awaiting reports whether the request still waits for its reply.
func (p *Pending) Awaiting() bool {
	p.router.mu.Lock()
	defer p.router.mu.Unlock()
	return p.state == awaiting
}

// Reply resolves the request with result, which must be a value of the
// operation's reply type.
func (p *Pending) Reply(result any) error {
	if err := p.claim(); err != nil {
		return err
	}

	want := p.op.ReplyType()
	if result == nil || reflect.TypeOf(result) != want {
		p.router.Logger.Error("handler fault", "window", p.window, "id", p.id, "op", p.op,
			"fault", fmt.Sprintf("reply is %T, want %s", result, want))
		p.send(nil, bridge.Errorf(bridge.CodeInternalProtocolFault, "%s produced a %T reply", p.op, result))
		return fmt.Errorf("%w: %s replied with %T", ErrReplyType, p.op, result)
	}
	return p.send(result, nil)
}

// Fail resolves the request with an error reply. Errors that are not
// *bridge.Error are reported as internal faults.
func (p *Pending) Fail(err error) error {
	if err := p.claim(); err != nil {
		return err
	}
	return p.send(nil, bridge.AsError(err))
}

func (p *Pending) claim() error {
	switch p.router.settle(p) {
	case replied:
		p.router.Logger.Error("duplicate reply rejected", "window", p.window, "id", p.id, "op", p.op)
		return ErrAlreadyReplied
	case abandoned:
		p.router.Logger.Debug("reply to abandoned request dropped", "window", p.window, "id", p.id, "op", p.op)
		return ErrAbandoned
	}
	return nil
}

func (p *Pending) send(result any, replyErr *bridge.Error) error {
	var (
		blob []byte
		err  error
	)
	if replyErr != nil {
		blob, err = bridge.EncodeError(p.id, p.op.String(), replyErr)
	} else {
		blob, err = bridge.EncodeReply(p.id, p.op, result)
	}
	if err != nil {
		p.router.Logger.Error("failed to encode reply", "op", p.op, "error", err)
		return err
	}
	if err := p.router.sender.Send(p.window, blob); err != nil {
		p.router.Logger.Warn("failed to send reply", "window", p.window, "id", p.id, "op", p.op, "error", err)
		return fmt.Errorf("failed to send %s reply: %w", p.op, err)
	}
	return nil
}
