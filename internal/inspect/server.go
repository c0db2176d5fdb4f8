// Package inspect exposes the bridge to debugging tools as an MCP server.
// It connects to the control process with the inspector role and turns
// each tool call into a bridge request.
package inspect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/relay"
)

const (
	ServerName    = "webgreeter-inspect"
	ServerVersion = "0.1.0"

	// eventBacklog bounds the events kept for recent_events.
	eventBacklog = 64
)

// Server is the MCP server of one inspector connection.
type Server struct {
	Logger *slog.Logger

	mcpServer *mcpsdk.Server
	relay     *relay.Relay
	window    bridge.WindowID

	mu      sync.Mutex
	events  []Event
	nextSeq uint64
}

// NewServer creates a server that issues requests through r. window is
// the inspector id assigned in the handshake.
func NewServer(r *relay.Relay, window bridge.WindowID) *Server {
	s := &Server{
		Logger: slog.Default(),
		relay:  r,
		window: window,
	}
	s.mcpServer = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)
	s.watch()
	s.registerTools()
	return s
}

// Run serves MCP over stdin/stdout until ctx ends or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// watch records every event the control process pushes to this
// connection.
func (s *Server) watch() {
	l := s.relay.LightDM()
	l.OnShowPrompt(func(step bridge.AuthStep) {
		s.record(bridge.OpShowPrompt, fmt.Sprintf("%s %q (%s)", step.SessionID, step.PromptText, step.PromptKind))
	})
	l.OnShowMessage(func(n bridge.Notice) {
		s.record(bridge.OpShowMessage, fmt.Sprintf("%s: %s", n.Kind, n.Text))
	})
	l.OnAuthenticationComplete(func(step bridge.AuthStep) {
		s.record(bridge.OpAuthenticationComplete, fmt.Sprintf("%s %s %s", step.SessionID, step.State, step.Reason))
	})
	l.OnSessionCancelled(func(c bridge.SessionCancelled) {
		s.record(bridge.OpSessionCancelled, fmt.Sprintf("%s %s", c.SessionID, c.Reason))
	})
	s.relay.GreeterConfig().OnChanged(func(c bridge.ConfigSnapshot) {
		s.record(bridge.OpConfigChanged, fmt.Sprintf("theme=%s detect_theme_errors=%t", c.Theme, c.DetectThemeErrors))
	})
	s.relay.ThemeUtils().OnReload(func(theme string) {
		s.record(bridge.OpReload, theme)
	})
	s.relay.GreeterComm().OnMessage(func(m bridge.CommMessage) {
		s.record(bridge.OpCommMessage, fmt.Sprintf("from %d: %s", m.Window, m.Data))
	})
}

func (s *Server) record(op bridge.Op, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.events = append(s.events, Event{Seq: s.nextSeq, Op: op.String(), Detail: detail})
	if over := len(s.events) - eventBacklog; over > 0 {
		s.events = append(s.events[:0], s.events[over:]...)
	}
	s.Logger.Debug("inspect: event", "window", s.window, "op", op, "detail", detail)
}

// recent returns up to limit buffered events, oldest first.
func (s *Server) recent(limit int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if limit > 0 && limit < len(s.events) {
		start = len(s.events) - limit
	}
	return append([]Event(nil), s.events[start:]...)
}
