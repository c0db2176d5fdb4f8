package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/ipc"
)

var errAuthenticationFailed = errors.New("authentication failed")

// authenticator is the part of the lightdm API the login flow drives.
type authenticator interface {
	Authenticate(ctx context.Context, username string) (bridge.AuthStep, error)
	Respond(ctx context.Context, response string) (bridge.AuthStep, error)
	StartSession(ctx context.Context, session string) error
}

// answerFunc reads the answer to one prompt.
type answerFunc func(prompt string, secret bool) (string, error)

func runLogin(ctx context.Context, g *globalOptions, args []string, stdin *os.File, stdout, stderr io.Writer) error {
	var username, sessionKey string
	switch len(args) {
	case 0:
	case 1:
		username = args[0]
	case 2:
		username, sessionKey = args[0], args[1]
	default:
		return usageError{"usage: webgreeter-shell login [USER [SESSION]]"}
	}

	s, err := attach(ctx, g, ipc.RoleContent)
	if err != nil {
		return err
	}
	defer s.Close()

	l := s.relay.LightDM()
	l.OnSessionCancelled(func(c bridge.SessionCancelled) {
		fmt.Fprintf(stderr, "\nSession %s cancelled: %s\n", c.SessionID, c.Reason)
	})
	if err := s.relay.ReadyToShow(); err != nil {
		return fmt.Errorf("failed to signal ready: %w", err)
	}
	if host, err := l.Hostname(ctx); err == nil {
		fmt.Fprintf(stdout, "%s login\n", host)
	}

	return login(ctx, l, username, sessionKey, terminalAnswerer(stdin, stdout), stdout)
}

// login runs one conversation to completion and starts sessionKey when
// it is set.
func login(ctx context.Context, auth authenticator, username, sessionKey string, answer answerFunc, stdout io.Writer) error {
	step, err := auth.Authenticate(ctx, username)
	for {
		if err != nil {
			return err
		}
		for _, m := range step.Messages {
			fmt.Fprintf(stdout, "[%s] %s\n", m.Kind, m.Text)
		}

		switch step.State {
		case "authenticated":
			fmt.Fprintln(stdout, "Authenticated")
			if sessionKey == "" {
				return nil
			}
			if err := auth.StartSession(ctx, sessionKey); err != nil {
				return fmt.Errorf("failed to start session %q: %w", sessionKey, err)
			}
			fmt.Fprintf(stdout, "Session %s started\n", sessionKey)
			return nil
		case "failed":
			return fmt.Errorf("%w: %s", errAuthenticationFailed, step.Reason)
		case "cancelled":
			return bridge.ErrCancelled
		}

		if !step.PromptKind.NeedsInput() {
			return fmt.Errorf("unexpected step %q without a prompt", step.State)
		}
		text, aerr := answer(step.PromptText, step.PromptKind == bridge.PromptSecret)
		if aerr != nil {
			return fmt.Errorf("failed to read answer: %w", aerr)
		}
		step, err = auth.Respond(ctx, text)
	}
}

// terminalAnswerer prompts on out and reads from in. Secret answers are
// read without echo when in is a terminal.
func terminalAnswerer(in *os.File, out io.Writer) answerFunc {
	lines := bufio.NewReader(in)
	return func(prompt string, secret bool) (string, error) {
		fmt.Fprint(out, prompt)
		fd := int(in.Fd())
		if secret && term.IsTerminal(fd) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			return string(b), err
		}
		return readLine(lines)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
