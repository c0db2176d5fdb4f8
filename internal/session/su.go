package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"
)

var ErrAuthBackend = errors.New("auth backend error")

const suTimeout = 6 * time.Second

// verifyWithSu runs su behind a pty so it can prompt for the password.
// It covers every hash format the host's PAM stack supports.
func verifyWithSu(ctx context.Context, username, password string) (bool, error) {
	if strings.TrimSpace(username) == "" {
		return false, ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, suTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "su", "-s", "/bin/sh", "-c", "true", username)
	f, err := pty.Start(cmd)
	if err != nil {
		return false, fmt.Errorf("%w: start su: %v", ErrAuthBackend, err)
	}
	defer func() { _ = f.Close() }()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		answerPassword(ctx, f, password)
	}()

	err = cmd.Wait()
	_ = f.Close()
	<-readerDone

	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("%w: su did not finish: %v", ErrAuthBackend, ctx.Err())
	}
	return false, nil
}

// suReadPoll bounds each read so a quiet su is not mistaken for a closed
// one.
const suReadPoll = 500 * time.Millisecond

// answerPassword reads f until its output mentions a password prompt and
// then writes password. It keeps draining f until reading fails or ctx
// ends, so a slow PAM stack still gets its answer.
func answerPassword(ctx context.Context, f *os.File, password string) {
	var out bytes.Buffer
	prompted := false
	buf := make([]byte, 4096)
	for {
		_ = f.SetReadDeadline(time.Now().Add(suReadPoll))
		n, err := f.Read(buf)
		if n > 0 && !prompted {
			out.Write(buf[:n])
			if strings.Contains(strings.ToLower(out.String()), "password") {
				prompted = true
				_, _ = io.WriteString(f, password+"\n")
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			if ctx.Err() != nil {
				return
			}
		default:
			return
		}
	}
}
