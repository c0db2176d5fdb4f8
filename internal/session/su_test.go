package session

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
)

func TestAnswerPassword_WaitsForSlowPrompt(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	defer tty.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		answerPassword(ctx, ptmx, "s3cret")
	}()

	// Longer than one read poll, as a slow PAM module would take.
	time.Sleep(3 * suReadPoll)
	if _, err := io.WriteString(tty, "Password: "); err != nil {
		t.Fatalf("write prompt: %v", err)
	}

	if err := tty.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	line, err := bufio.NewReader(tty).ReadString('\n')
	if err != nil {
		t.Fatalf("expected the password on the terminal, got %v", err)
	}
	if got := strings.TrimRight(line, "\r\n"); got != "s3cret" {
		t.Fatalf("expected s3cret, got %q", got)
	}

	ptmx.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("answerPassword did not stop after the terminal closed")
	}
}

func TestAnswerPassword_StopsWhenContextEnds(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	defer tty.Close()
	defer ptmx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		answerPassword(ctx, ptmx, "s3cret")
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("answerPassword did not stop after cancellation")
	}
}
