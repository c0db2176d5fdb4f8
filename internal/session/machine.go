// Package session serializes access to the single privileged
// authentication session shared by every greeter window.
package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

// Replier is the deferred reply slot of one bridge request.
type Replier interface {
	Reply(result any) error
	Fail(err error) error
}

// Emitter pushes one-way events to a window.
type Emitter interface {
	Emit(window bridge.WindowID, op bridge.Op, payload any) error
}

// Machine is the authentication session state machine. Every method and
// every backend callback runs on the control loop; backends reach the
// loop through the post function given to New.
type Machine struct {
	Logger *slog.Logger
	// Observe, if set, is called on every state transition.
	Observe func(from, to State, sessionID string)

	backend Backend
	emit    Emitter
	post    func(func())

	state   State
	gen     uint64
	id      string
	owner   bridge.WindowID
	user    string
	conv    Conversation
	prompt  *Prompt
	pending Replier
	notices []bridge.Notice

	// authenticated is kept across the return to Idle so the owner can
	// start a desktop session.
	authenticated *authenticatedUser
}

type authenticatedUser struct {
	owner bridge.WindowID
	user  string
	id    string
}

// New creates an idle machine. post must run fn on the control loop.
func New(backend Backend, emit Emitter, post func(func())) *Machine {
	return &Machine{
		Logger:  slog.Default(),
		backend: backend,
		emit:    emit,
		post:    post,
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Owner returns the window that started the active session.
func (m *Machine) Owner() (bridge.WindowID, bool) {
	return m.owner, m.state.Active()
}

// Prompt returns the prompt waiting for a response.
func (m *Machine) Prompt() (Prompt, bool) {
	if m.state != PromptPending || m.prompt == nil {
		return Prompt{}, false
	}
	return *m.prompt, true
}

// Status reports the session for lightdm.status.
func (m *Machine) Status() bridge.SessionStatus {
	st := bridge.SessionStatus{
		State:            m.state.String(),
		InAuthentication: m.state.Active(),
	}
	if m.state.Active() {
		st.SessionID = m.id
		st.AuthenticationUser = m.user
	}
	if m.authenticated != nil {
		st.IsAuthenticated = true
		if !m.state.Active() {
			st.SessionID = m.authenticated.id
			st.AuthenticationUser = m.authenticated.user
		}
	}
	return st
}

// Start begins authenticating username for window owner. An active
// session is cancelled first; its pending request, if any, receives a
// cancelled error. reply resolves with the first prompt or the result.
func (m *Machine) Start(owner bridge.WindowID, username string, reply Replier) {
	if m.state.Active() {
		m.cancelActive("superseded by a new authentication", owner)
	}

	m.gen++
	m.id = uuid.NewString()
	m.owner = owner
	m.user = username
	m.prompt = nil
	m.notices = nil
	m.pending = reply
	m.authenticated = nil
	m.transition(Authenticating)

	m.Logger.Info("authentication started", "session", m.id, "window", owner, "user", username)

	conv, err := m.backend.Start(username, sink{m: m, gen: m.gen})
	if err != nil {
		m.backendFailure(err)
		return
	}
	m.conv = conv
}

// Respond forwards text to the pending prompt. Only the owning window may
// respond.
func (m *Machine) Respond(window bridge.WindowID, text string, reply Replier) {
	switch {
	case !m.state.Active():
		_ = reply.Fail(bridge.Errorf(bridge.CodeSessionConflict, "no authentication in progress"))
		return
	case window != m.owner:
		_ = reply.Fail(bridge.Errorf(bridge.CodeAccessDenied, "session %s belongs to another window", m.id))
		return
	case m.state != PromptPending:
		_ = reply.Fail(bridge.Errorf(bridge.CodeSessionConflict, "no prompt pending"))
		return
	}

	m.prompt = nil
	m.pending = reply
	m.transition(Authenticating)
	if err := m.conv.Respond(text); err != nil {
		m.backendFailure(err)
	}
}

// Cancel cancels the active session. The request pending on it, if any,
// receives a cancelled error; the cancel request itself is answered with
// the terminal step.
func (m *Machine) Cancel(window bridge.WindowID, reply Replier) {
	if !m.state.Active() {
		_ = reply.Reply(bridge.AuthStep{State: m.state.String()})
		return
	}
	id := m.id
	m.cancelActive("cancelled by request", window)
	_ = reply.Reply(bridge.AuthStep{SessionID: id, State: Cancelled.String()})
}

// DropWindow cancels a session owned by a window that went away and
// forgets an authentication it completed.
func (m *Machine) DropWindow(window bridge.WindowID) {
	if m.authenticated != nil && m.authenticated.owner == window {
		m.authenticated = nil
	}
	if m.state.Active() && m.owner == window {
		m.cancelActive("window closed", window)
	}
}

// StartSession starts the desktop session key as the user the calling
// window authenticated. The session start runs off the loop.
func (m *Machine) StartSession(ctx context.Context, window bridge.WindowID, key string, reply Replier) {
	auth := m.authenticated
	switch {
	case auth == nil:
		_ = reply.Fail(bridge.Errorf(bridge.CodeSessionConflict, "no authenticated user"))
		return
	case auth.owner != window:
		_ = reply.Fail(bridge.Errorf(bridge.CodeAccessDenied, "authentication belongs to another window"))
		return
	}

	m.Logger.Info("starting session", "user", auth.user, "session", key, "window", window)
	go func() {
		err := m.backend.StartSession(ctx, auth.user, key)
		m.post(func() {
			if err != nil {
				m.Logger.Error("failed to start session", "user", auth.user, "session", key, "error", err)
				_ = reply.Fail(bridge.Errorf(bridge.CodePrivilegedAPIFailure, "%s", err.Error()))
				return
			}
			if m.authenticated == auth {
				m.authenticated = nil
			}
			_ = reply.Reply(bridge.Ack{OK: true})
		})
	}()
}

// cancelActive drives the active session to Cancelled and back to Idle.
// The owner is notified with a session-cancelled event when it had no
// request pending and is not the window causing the cancellation.
func (m *Machine) cancelActive(reason string, by bridge.WindowID) {
	id, owner := m.id, m.owner
	conv, pending := m.conv, m.pending

	m.transition(Cancelled)
	m.Logger.Info("authentication cancelled", "session", id, "window", owner, "reason", reason)

	if conv != nil {
		conv.Cancel()
	}
	if pending != nil {
		m.pending = nil
		if err := pending.Fail(bridge.Errorf(bridge.CodeCancelled, "session %s %s", id, reason)); err != nil {
			m.Logger.Debug("cancellation not delivered", "session", id, "error", err)
		}
	} else if owner != by {
		m.push(owner, bridge.OpSessionCancelled, bridge.SessionCancelled{SessionID: id, Reason: reason})
	}
	m.finish()
}

func (m *Machine) onPrompt(gen uint64, p Prompt) {
	if gen != m.gen || !m.state.Active() {
		m.Logger.Debug("dropping stale prompt", "generation", gen)
		return
	}

	if !p.Kind.NeedsInput() {
		notice := bridge.Notice{Text: p.Text, Kind: p.Kind}
		if m.pending != nil {
			m.notices = append(m.notices, notice)
			return
		}
		m.push(m.owner, bridge.OpShowMessage, notice)
		return
	}

	m.prompt = &p
	m.transition(PromptPending)
	step := bridge.AuthStep{
		SessionID:  m.id,
		State:      PromptPending.String(),
		PromptText: p.Text,
		PromptKind: p.Kind,
		Messages:   m.takeNotices(),
	}
	m.deliver(bridge.OpShowPrompt, step)
}

func (m *Machine) onComplete(gen uint64, res Result) {
	if gen != m.gen || !m.state.Active() {
		m.Logger.Debug("dropping stale completion", "generation", gen)
		return
	}
	if res.Err != nil {
		m.backendFailure(res.Err)
		return
	}

	next := Failed
	if res.OK {
		next = Authenticated
		user := res.User
		if user == "" {
			user = m.user
		}
		m.user = user
		m.authenticated = &authenticatedUser{owner: m.owner, user: user, id: m.id}
	}
	m.transition(next)
	m.Logger.Info("authentication complete", "session", m.id, "user", m.user, "state", next, "reason", res.Reason)

	step := bridge.AuthStep{
		SessionID: m.id,
		State:     next.String(),
		Messages:  m.takeNotices(),
		Reason:    res.Reason,
	}
	m.deliver(bridge.OpAuthenticationComplete, step)
	m.finish()
}

// backendFailure maps a backend error to Failed. The message is passed
// through unchanged and never retried.
func (m *Machine) backendFailure(err error) {
	m.transition(Failed)
	m.Logger.Error("authentication backend failed", "session", m.id, "error", err)
	if m.conv != nil {
		m.conv.Cancel()
	}
	if m.pending != nil {
		pending := m.pending
		m.pending = nil
		_ = pending.Fail(bridge.Errorf(bridge.CodePrivilegedAPIFailure, "%s", err.Error()))
	} else {
		m.push(m.owner, bridge.OpAuthenticationComplete, bridge.AuthStep{
			SessionID: m.id,
			State:     Failed.String(),
			Messages:  m.takeNotices(),
			Reason:    err.Error(),
		})
	}
	m.finish()
}

// deliver answers the pending request with step, or pushes it to the
// owner as event op when nothing is pending.
func (m *Machine) deliver(op bridge.Op, step bridge.AuthStep) {
	if m.pending != nil {
		pending := m.pending
		m.pending = nil
		if err := pending.Reply(step); err != nil {
			m.Logger.Debug("authentication step not delivered", "session", m.id, "error", err)
		}
		return
	}
	m.push(m.owner, op, step)
}

func (m *Machine) push(window bridge.WindowID, op bridge.Op, payload any) {
	if err := m.emit.Emit(window, op, payload); err != nil {
		m.Logger.Warn("failed to push session event", "window", window, "op", op, "error", err)
	}
}

func (m *Machine) takeNotices() []bridge.Notice {
	n := m.notices
	m.notices = nil
	return n
}

// finish returns a terminal session to Idle. Callbacks of the finished
// conversation are dropped from here on.
func (m *Machine) finish() {
	m.gen++
	m.conv = nil
	m.prompt = nil
	m.pending = nil
	m.notices = nil
	m.transition(Idle)
}

func (m *Machine) transition(to State) {
	from := m.state
	m.state = to
	m.Logger.Debug("session transition", "session", m.id, "from", from, "to", to)
	if m.Observe != nil {
		m.Observe(from, to, m.id)
	}
}

type sink struct {
	m   *Machine
	gen uint64
}

func (s sink) Prompt(p Prompt) {
	s.m.post(func() { s.m.onPrompt(s.gen, p) })
}

func (s sink) Complete(r Result) {
	s.m.post(func() { s.m.onComplete(s.gen, r) })
}
