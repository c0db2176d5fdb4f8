package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1broseidon/webgreeter/internal/bridge"
)

var (
	// ErrNotConnected is returned by Send for a window without a live
	// connection.
	ErrNotConnected = errors.New("ipc: window not connected")
	// ErrSlowConsumer is returned by Send when a window's outbound queue
	// is full. The connection is closed.
	ErrSlowConsumer = errors.New("ipc: window not reading its messages")
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second

	// outboundQueueSize bounds the envelopes waiting for one window's
	// writer.
	outboundQueueSize = 256

	// Inspector connections get ids above this so they never collide
	// with monitor-derived window ids.
	inspectorBase bridge.WindowID = 1 << 63
)

// Host is the control process behind the server.
type Host interface {
	// Attach admits or refuses a connection. The window in hello has
	// already been assigned for inspectors.
	Attach(hello Hello) (Welcome, error)
	// Deliver hands over one frame received from window.
	Deliver(window bridge.WindowID, blob []byte)
	// Detach is called once when an attached connection goes away.
	Detach(window bridge.WindowID)
}

// Server accepts content-process connections on a unix socket and carries
// bridge envelopes over them. It implements router.Sender.
type Server struct {
	Logger *slog.Logger

	socketPath string
	host       Host
	listener   net.Listener

	mu            sync.Mutex
	conns         map[bridge.WindowID]*serverConn
	nextInspector bridge.WindowID
	shuttingDown  bool
	wg            sync.WaitGroup
}

// serverConn is one accepted connection. After the handshake every
// write goes through out and is performed by writeLoop, so Send never
// blocks the caller on a peer that stopped reading.
type serverConn struct {
	net.Conn

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newServerConn(conn net.Conn) *serverConn {
	return &serverConn{
		Conn:   conn,
		out:    make(chan []byte, outboundQueueSize),
		closed: make(chan struct{}),
	}
}

// Close closes the socket and stops the writer. It is safe to call more
// than once.
func (c *serverConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.Conn.Close()
	})
	return err
}

// write sends blob directly. Only the handshake and writeLoop use it.
func (c *serverConn) write(blob []byte) error {
	if err := c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := c.Write(blob)
	return err
}

// enqueue hands blob to the writer. A full queue closes the connection.
func (c *serverConn) enqueue(blob []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	select {
	case c.out <- blob:
		return nil
	default:
		c.Close()
		return ErrSlowConsumer
	}
}

func (c *serverConn) writeLoop(logger *slog.Logger, window bridge.WindowID) {
	for {
		select {
		case <-c.closed:
			return
		case blob := <-c.out:
			if err := c.write(blob); err != nil {
				logger.Warn("closing connection after failed write", "window", window, "error", err)
				c.Close()
				return
			}
		}
	}
}

// NewServer creates a server for socketPath. Any stale socket file is
// removed by Start.
func NewServer(socketPath string, host Host) *Server {
	return &Server{
		Logger:     slog.Default(),
		socketPath: socketPath,
		host:       host,
		conns:      make(map[bridge.WindowID]*serverConn),
	}
}

// Start begins listening for connections.
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket %s: %w", s.socketPath, err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.Logger.Info("IPC server listening", "path", s.socketPath)
	go s.acceptLoop()
	return nil
}

// Serve starts the server and blocks until ctx ends, then stops it.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			down := s.shuttingDown
			s.mu.Unlock()
			if down || errors.Is(err, net.ErrClosed) {
				return
			}
			s.Logger.Warn("IPC accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(newServerConn(conn))
		}()
	}
}

func (s *Server) handleConnection(conn *serverConn) {
	defer conn.Close()

	frames := bridge.NewFrameReader(conn)
	window, ok := s.handshake(conn, frames)
	if !ok {
		return
	}
	defer s.detach(window, conn)

	for {
		blob, err := frames.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.Logger.Warn("closing connection after unreadable frame", "window", window, "error", err)
			}
			return
		}
		s.host.Deliver(window, blob)
	}
}

func (s *Server) handshake(conn *serverConn, frames *bridge.FrameReader) (bridge.WindowID, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	raw, err := frames.Next()
	if err != nil {
		s.Logger.Debug("connection closed before handshake", "error", err)
		return 0, false
	}
	_ = conn.SetReadDeadline(time.Time{})

	var hello Hello
	if err := bridge.Unmarshal(raw, &hello); err != nil {
		s.refuse(conn, bridge.Errorf(bridge.CodeMalformedMessage, "invalid handshake: %v", err))
		return 0, false
	}
	if hello.APIVersion != bridge.APIVersion {
		s.refuse(conn, bridge.Errorf(bridge.CodeAccessDenied, "API version %q not supported (control process speaks %s)", hello.APIVersion, bridge.APIVersion))
		return 0, false
	}

	s.mu.Lock()
	switch hello.Role {
	case RoleContent:
		if hello.Window == 0 || hello.Window >= inspectorBase {
			s.mu.Unlock()
			s.refuse(conn, bridge.Errorf(bridge.CodeMalformedMessage, "invalid window id %d", hello.Window))
			return 0, false
		}
		if _, taken := s.conns[hello.Window]; taken {
			s.mu.Unlock()
			s.refuse(conn, bridge.Errorf(bridge.CodeSessionConflict, "window %d already has a content process", hello.Window))
			return 0, false
		}
	case RoleInspector:
		s.nextInspector++
		hello.Window = inspectorBase + s.nextInspector
	default:
		s.mu.Unlock()
		s.refuse(conn, bridge.Errorf(bridge.CodeMalformedMessage, "unknown role %d", hello.Role))
		return 0, false
	}
	// Reserve the id so a concurrent handshake for the same window fails.
	s.conns[hello.Window] = nil
	s.mu.Unlock()

	welcome, err := s.host.Attach(hello)
	if err != nil {
		s.release(hello.Window)
		s.refuse(conn, bridge.AsError(err))
		return 0, false
	}
	welcome.Window = hello.Window

	blob, err := bridge.Marshal(handshakeReply{Welcome: &welcome})
	if err == nil {
		err = conn.write(blob)
	}
	if err != nil {
		s.Logger.Warn("failed to send welcome", "window", hello.Window, "error", err)
		s.host.Detach(hello.Window)
		s.release(hello.Window)
		return 0, false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.writeLoop(s.Logger, hello.Window)
	}()

	s.mu.Lock()
	s.conns[hello.Window] = conn
	s.mu.Unlock()
	s.Logger.Info("content process attached", "window", hello.Window, "role", hello.Role)
	return hello.Window, true
}

func (s *Server) refuse(conn *serverConn, e *bridge.Error) {
	s.Logger.Warn("refusing connection", "code", e.Code, "reason", e.Message)
	blob, err := bridge.Marshal(handshakeReply{Error: e})
	if err != nil {
		return
	}
	if err := conn.write(blob); err != nil {
		s.Logger.Debug("failed to send refusal", "error", err)
	}
}

func (s *Server) release(window bridge.WindowID) {
	s.mu.Lock()
	delete(s.conns, window)
	s.mu.Unlock()
}

// detach tells the host before freeing the slot, so a reconnect for the
// same window is admitted only after the host has queued its cleanup.
func (s *Server) detach(window bridge.WindowID, conn *serverConn) {
	conn.Close()
	s.Logger.Info("content process detached", "window", window)
	s.host.Detach(window)
	s.mu.Lock()
	if s.conns[window] == conn {
		delete(s.conns, window)
	}
	s.mu.Unlock()
}

// Send queues one envelope for window's connection. It does not wait for
// the peer to read it.
func (s *Server) Send(window bridge.WindowID, blob []byte) error {
	s.mu.Lock()
	conn := s.conns[window]
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: %d", ErrNotConnected, window)
	}
	if err := conn.enqueue(blob); err != nil {
		if errors.Is(err, ErrSlowConsumer) {
			s.Logger.Warn("dropping window that stopped reading", "window", window)
		}
		return fmt.Errorf("failed to send to window %d: %w", window, err)
	}
	return nil
}

// Connected reports whether window has a live connection.
func (s *Server) Connected(window bridge.WindowID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[window] != nil
}

// Disconnect closes window's connection, if any.
func (s *Server) Disconnect(window bridge.WindowID) {
	s.mu.Lock()
	conn := s.conns[window]
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// IsInspector reports whether window is an inspector connection.
func IsInspector(window bridge.WindowID) bool {
	return window > inspectorBase
}

// Stop closes the listener and every connection, and waits for the
// connection goroutines to finish.
func (s *Server) Stop() {
	s.mu.Lock()
	s.shuttingDown = true
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		if c != nil {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}
