package daemon

import (
	"context"
	"log/slog"
)

// Loop is the control-process event loop. Every router dispatch and
// every mutation of the session, registry and configuration runs as one
// turn on it.
type Loop struct {
	Logger *slog.Logger

	queue chan func()
	done  chan struct{}
}

// NewLoop creates a loop whose queue holds size pending turns.
func NewLoop(size int) *Loop {
	return &Loop{
		Logger: slog.Default(),
		queue:  make(chan func(), size),
		done:   make(chan struct{}),
	}
}

// Post queues fn. It reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be
// called from the loop itself.
func (l *Loop) Call(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Run processes turns until ctx is cancelled. Turns still queued are
// dropped.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	l.Logger.Debug("event loop started")
	for {
		select {
		case <-ctx.Done():
			l.Logger.Debug("event loop stopped")
			return
		case fn := <-l.queue:
			l.turn(fn)
		}
	}
}

func (l *Loop) turn(fn func()) {
	// A failing turn must not take the control process down.
	defer func() {
		if err := recover(); err != nil {
			l.Logger.Error("event loop panic recovered", "error", err)
		}
	}()
	fn()
}
