// Package power queries and performs shutdown, restart, suspend and
// hibernate through systemd-logind.
package power

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

const (
	logindDest   = "org.freedesktop.login1"
	logindPath   = dbus.ObjectPath("/org/freedesktop/login1")
	managerIface = "org.freedesktop.login1.Manager"
)

var (
	ErrUnknownAction = errors.New("unknown power action")
	ErrNotAllowed    = errors.New("power action not allowed")
)

// Action is a power action name as scripts send it.
type Action string

const (
	Shutdown  Action = "shutdown"
	Restart   Action = "restart"
	Suspend   Action = "suspend"
	Hibernate Action = "hibernate"
)

var methods = map[Action]string{
	Shutdown:  "PowerOff",
	Restart:   "Reboot",
	Suspend:   "Suspend",
	Hibernate: "Hibernate",
}

// Logind talks to the login manager on the system bus.
type Logind struct {
	Logger *slog.Logger

	conn *dbus.Conn
	obj  dbus.BusObject
}

// Connect opens the system bus.
func Connect() (*Logind, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &Logind{
		Logger: slog.Default(),
		conn:   conn,
		obj:    conn.Object(logindDest, logindPath),
	}, nil
}

func (l *Logind) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// can reports whether logind allows action without further
// authentication ("yes") or with a polkit challenge ("challenge").
func (l *Logind) can(ctx context.Context, action Action) (bool, error) {
	var answer string
	if err := l.obj.CallWithContext(ctx, managerIface+".Can"+methods[action], 0).Store(&answer); err != nil {
		return false, fmt.Errorf("logind Can%s: %w", methods[action], err)
	}
	return answer == "yes" || answer == "challenge", nil
}

// Capabilities reports which actions are allowed. A failing query counts
// as not allowed.
func (l *Logind) Capabilities(ctx context.Context) bridge.PowerCapabilities {
	check := func(a Action) bool {
		ok, err := l.can(ctx, a)
		if err != nil {
			l.Logger.Warn("power capability query failed", "action", a, "error", err)
		}
		return ok
	}
	return bridge.PowerCapabilities{
		CanShutdown:  check(Shutdown),
		CanRestart:   check(Restart),
		CanSuspend:   check(Suspend),
		CanHibernate: check(Hibernate),
	}
}

// Do performs action after checking that it is allowed.
func (l *Logind) Do(ctx context.Context, name string) error {
	action := Action(name)
	method, ok := methods[action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	allowed, err := l.can(ctx, action)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrNotAllowed, name)
	}

	l.Logger.Info("performing power action", "action", action)
	if err := l.obj.CallWithContext(ctx, managerIface+"."+method, 0, false).Err; err != nil {
		return fmt.Errorf("logind %s: %w", method, err)
	}
	return nil
}
