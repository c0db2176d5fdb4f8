package windows

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

var ErrNoTerminal = errors.New("theme error prompt needs a terminal")

// TerminalPrompter asks on a controlling terminal. It is used when the
// greeter runs in debug mode from a shell.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer

	mu sync.Mutex
}

// NewTerminalPrompter prompts on stdin/stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// keyPoll is how often a pending key read checks for cancellation.
const keyPoll = 200 * time.Millisecond

func (p *TerminalPrompter) Choose(ctx context.Context, window bridge.WindowID, report bridge.ConsoleReport) (Choice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return ChoiceCancel, ErrNoTerminal
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return ChoiceCancel, fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	fmt.Fprintf(p.Out, "\r\nAn error occurred in the theme (window %d).\r\n", window)
	fmt.Fprintf(p.Out, "  %s: %s\r\n  at %s:%d\r\n", report.Kind, report.Message, report.Source, report.Line)
	fmt.Fprintf(p.Out, "[c]ancel, use [d]efault theme (%s), [r]eload theme? ", FallbackTheme)

	for {
		key, err := p.readKey(ctx)
		if err != nil {
			return ChoiceCancel, err
		}
		switch key {
		case 'c', 'C', 3, 27:
			fmt.Fprint(p.Out, "cancel\r\n")
			return ChoiceCancel, nil
		case 'd', 'D':
			fmt.Fprint(p.Out, "default theme\r\n")
			return ChoiceDefaultTheme, nil
		case 'r', 'R':
			fmt.Fprint(p.Out, "reload\r\n")
			return ChoiceReloadTheme, nil
		}
	}
}

// readKey reads one byte on the calling goroutine. When In supports
// deadlines the read wakes up every keyPoll to honour ctx; otherwise ctx
// is only checked between keys.
func (p *TerminalPrompter) readKey(ctx context.Context) (byte, error) {
	pollable := p.In.SetReadDeadline(time.Time{}) == nil
	if pollable {
		defer p.In.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if pollable {
			_ = p.In.SetReadDeadline(time.Now().Add(keyPoll))
		}
		n, err := p.In.Read(buf)
		if n == 1 {
			return buf[0], nil
		}
		switch {
		case pollable && errors.Is(err, os.ErrDeadlineExceeded):
		case err != nil:
			return 0, err
		}
	}
}
