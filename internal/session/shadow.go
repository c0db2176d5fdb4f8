package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserLocked         = errors.New("account is locked")
	ErrUnsupportedHash    = errors.New("unsupported password hash")
	ErrUnknownSession     = errors.New("unknown session")
)

const (
	DefaultShadowPath = "/etc/shadow"

	loginPrompt    = "login:"
	passwordPrompt = "Password: "
)

// ShadowBackend authenticates local accounts against the shadow file.
// Hashes the crypt library cannot check (yescrypt, bcrypt) are verified by
// running su under a pty.
type ShadowBackend struct {
	Logger     *slog.Logger
	ShadowPath string
	// Sessions maps a session key to the command that starts it.
	Sessions map[string][]string
	// VerifyFallback checks a password when the hash is unsupported.
	// Defaults to su.
	VerifyFallback func(ctx context.Context, username, password string) (bool, error)
}

// NewShadowBackend creates a backend reading DefaultShadowPath.
func NewShadowBackend(sessions map[string][]string) *ShadowBackend {
	return &ShadowBackend{
		Logger:         slog.Default(),
		ShadowPath:     DefaultShadowPath,
		Sessions:       sessions,
		VerifyFallback: verifyWithSu,
	}
}

// Start begins a conversation. An empty username is asked for first.
func (b *ShadowBackend) Start(username string, sink Sink) (Conversation, error) {
	if _, err := os.Stat(b.shadowPath()); err != nil {
		return nil, fmt.Errorf("failed to access account database: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &shadowConversation{backend: b, sink: sink, username: username, ctx: ctx, cancel: cancel}
	if username == "" {
		sink.Prompt(Prompt{Text: loginPrompt, Kind: bridge.PromptVisible})
	} else {
		sink.Prompt(Prompt{Text: passwordPrompt, Kind: bridge.PromptSecret})
	}
	return c, nil
}

// StartSession runs the command configured for session as user. It
// returns once the command started.
func (b *ShadowBackend) StartSession(ctx context.Context, username, session string) error {
	argv, ok := b.Sessions[session]
	if !ok || len(argv) == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownSession, session)
	}
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", username, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid uid for %s: %w", username, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid gid for %s: %w", username, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = u.HomeDir
	cmd.Env = append(os.Environ(), "HOME="+u.HomeDir, "USER="+u.Username, "LOGNAME="+u.Username)
	if uint32(uid) != uint32(os.Getuid()) {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
			Setsid:     true,
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start session %s: %w", session, err)
	}
	go func() {
		err := cmd.Wait()
		b.logger().Info("session exited", "user", username, "session", session, "error", err)
	}()
	return nil
}

func (b *ShadowBackend) shadowPath() string {
	if b.ShadowPath == "" {
		return DefaultShadowPath
	}
	return b.ShadowPath
}

func (b *ShadowBackend) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

// verify checks password for username against the shadow file.
func (b *ShadowBackend) verify(ctx context.Context, username, password string) error {
	hash, err := lookupShadowHash(b.shadowPath(), username)
	if err != nil {
		return err
	}
	if hash == "" || strings.HasPrefix(hash, "!") || strings.HasPrefix(hash, "*") {
		return ErrUserLocked
	}
	ok, err := verifyCrypt(hash, password)
	if errors.Is(err, ErrUnsupportedHash) && b.VerifyFallback != nil {
		b.logger().Debug("falling back to su verification", "user", username)
		ok, err = b.VerifyFallback(ctx, username, password)
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

func lookupShadowHash(path, username string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open account database: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 2 || parts[0] != username {
			continue
		}
		return parts[1], nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read account database: %w", err)
	}
	return "", ErrInvalidCredentials
}

func verifyCrypt(hash, password string) (bool, error) {
	crypters := []crypt.Crypter{sha512_crypt.New(), sha256_crypt.New(), md5_crypt.New()}
	for _, c := range crypters {
		if err := c.Verify(hash, []byte(password)); err == nil {
			return true, nil
		}
	}
	if strings.HasPrefix(hash, "$y$") || strings.HasPrefix(hash, "$7$") || strings.HasPrefix(hash, "$2") {
		return false, ErrUnsupportedHash
	}
	return false, nil
}

// failureReason is the user-facing text of a rejected attempt.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid username or password."
	case errors.Is(err, ErrUserLocked):
		return "This account is locked."
	default:
		return err.Error()
	}
}

type shadowConversation struct {
	backend *ShadowBackend
	sink    Sink
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	username  string
	verifying bool
	done      bool
}

func (c *shadowConversation) Respond(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.done:
		return errors.New("conversation is finished")
	case c.verifying:
		return errors.New("verification already in progress")
	case c.username == "":
		if strings.TrimSpace(text) == "" {
			c.sink.Prompt(Prompt{Text: loginPrompt, Kind: bridge.PromptVisible})
			return nil
		}
		c.username = strings.TrimSpace(text)
		c.sink.Prompt(Prompt{Text: passwordPrompt, Kind: bridge.PromptSecret})
		return nil
	}

	c.verifying = true
	username := c.username
	go func() {
		err := c.backend.verify(c.ctx, username, text)

		c.mu.Lock()
		c.done = true
		c.mu.Unlock()

		switch {
		case err == nil:
			c.sink.Complete(Result{OK: true, User: username})
		case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUserLocked):
			c.sink.Complete(Result{User: username, Reason: failureReason(err)})
		default:
			c.sink.Complete(Result{User: username, Err: err})
		}
	}()
	return nil
}

func (c *shadowConversation) Cancel() {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
	c.cancel()
}
