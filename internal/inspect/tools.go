package inspect

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "session_status",
		Description: "Show the state of the authentication session and the host name.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "start_authentication",
		Description: "Start authenticating a user. Any session already in progress is cancelled first. Returns the first prompt.",
	}, s.handleAuthenticate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "respond",
		Description: "Answer the pending authentication prompt. Returns the next prompt or the final result.",
	}, s.handleRespond)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "cancel_authentication",
		Description: "Cancel the authentication session in progress.",
	}, s.handleCancel)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "start_session",
		Description: "Start a desktop session for the authenticated user. Only valid after a successful authentication started by this inspector.",
	}, s.handleStartSession)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "get_config",
		Description: "Read the greeter configuration pages see.",
	}, s.handleGetConfig)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_flag",
		Description: "Change a boolean greeter setting. Every window is notified.",
	}, s.handleSetFlag)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_themes",
		Description: "List installed themes and the active one.",
	}, s.handleListThemes)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "switch_theme",
		Description: "Make a theme active and reload every window with it.",
	}, s.handleSwitchTheme)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "dirlist",
		Description: "List a directory the way a theme would. Restricted to theme and branding directories in secure mode.",
	}, s.handleDirlist)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "broadcast",
		Description: "Deliver a message to the page of every greeter window.",
	}, s.handleBroadcast)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "window_metadata",
		Description: "Show the geometry the control process reports for this connection.",
	}, s.handleWindowMetadata)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "power_capabilities",
		Description: "Show which power actions the system allows.",
	}, s.handlePowerCapabilities)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "recent_events",
		Description: "Show the events the control process pushed to this inspector, such as prompts, reloads and broadcasts.",
	}, s.handleRecentEvents)
}

func (s *Server) handleStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	l := s.relay.LightDM()
	st, err := l.Status(ctx)
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("status: %w", err)
	}
	out := StatusOutput{
		State:              st.State,
		SessionID:          st.SessionID,
		AuthenticationUser: st.AuthenticationUser,
		InAuthentication:   st.InAuthentication,
		IsAuthenticated:    st.IsAuthenticated,
	}
	// The host name is informative; a failure does not fail the tool.
	if host, err := l.Hostname(ctx); err == nil {
		out.Hostname = host
	}
	return nil, out, nil
}

func (s *Server) handleAuthenticate(ctx context.Context, _ *mcpsdk.CallToolRequest, args AuthenticateInput) (*mcpsdk.CallToolResult, AuthStepOutput, error) {
	step, err := s.relay.LightDM().Authenticate(ctx, args.Username)
	if err != nil {
		return nil, AuthStepOutput{}, fmt.Errorf("start authentication: %w", err)
	}
	return nil, authStepOutput(step), nil
}

func (s *Server) handleRespond(ctx context.Context, _ *mcpsdk.CallToolRequest, args RespondInput) (*mcpsdk.CallToolResult, AuthStepOutput, error) {
	step, err := s.relay.LightDM().Respond(ctx, args.Response)
	if err != nil {
		return nil, AuthStepOutput{}, fmt.Errorf("respond: %w", err)
	}
	return nil, authStepOutput(step), nil
}

func (s *Server) handleCancel(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, AuthStepOutput, error) {
	step, err := s.relay.LightDM().CancelAuthentication(ctx)
	if err != nil {
		return nil, AuthStepOutput{}, fmt.Errorf("cancel authentication: %w", err)
	}
	return nil, authStepOutput(step), nil
}

func (s *Server) handleStartSession(ctx context.Context, _ *mcpsdk.CallToolRequest, args StartSessionInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if args.Session == "" {
		return nil, AckOutput{}, fmt.Errorf("session is required")
	}
	if err := s.relay.LightDM().StartSession(ctx, args.Session); err != nil {
		return nil, AckOutput{}, fmt.Errorf("start session %q: %w", args.Session, err)
	}
	return nil, AckOutput{OK: true}, nil
}

func (s *Server) handleGetConfig(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, ConfigOutput, error) {
	cfg, err := s.relay.GreeterConfig().Get(ctx)
	if err != nil {
		return nil, ConfigOutput{}, fmt.Errorf("get config: %w", err)
	}
	return nil, configOutput(cfg), nil
}

func (s *Server) handleSetFlag(ctx context.Context, _ *mcpsdk.CallToolRequest, args SetFlagInput) (*mcpsdk.CallToolResult, ConfigOutput, error) {
	if args.Name == "" {
		return nil, ConfigOutput{}, fmt.Errorf("name is required")
	}
	cfg, err := s.relay.GreeterConfig().SetFlag(ctx, args.Name, args.Value)
	if err != nil {
		return nil, ConfigOutput{}, fmt.Errorf("set %s: %w", args.Name, err)
	}
	return nil, configOutput(cfg), nil
}

func (s *Server) handleListThemes(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, ThemeListOutput, error) {
	t := s.relay.ThemeUtils()
	ids, err := t.List(ctx)
	if err != nil {
		return nil, ThemeListOutput{}, fmt.Errorf("list themes: %w", err)
	}
	cur, err := t.Current(ctx)
	if err != nil {
		return nil, ThemeListOutput{}, fmt.Errorf("current theme: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return nil, ThemeListOutput{Themes: ids, Current: cur.ID}, nil
}

func (s *Server) handleSwitchTheme(ctx context.Context, _ *mcpsdk.CallToolRequest, args ThemeInput) (*mcpsdk.CallToolResult, ThemeOutput, error) {
	if args.Theme == "" {
		return nil, ThemeOutput{}, fmt.Errorf("theme is required")
	}
	info, err := s.relay.ThemeUtils().Switch(ctx, args.Theme)
	if err != nil {
		return nil, ThemeOutput{}, fmt.Errorf("switch to %q: %w", args.Theme, err)
	}
	return nil, themeOutput(info), nil
}

func (s *Server) handleDirlist(ctx context.Context, _ *mcpsdk.CallToolRequest, args DirlistInput) (*mcpsdk.CallToolResult, DirlistOutput, error) {
	if args.Path == "" {
		return nil, DirlistOutput{}, fmt.Errorf("path is required")
	}
	paths, err := s.relay.ThemeUtils().Dirlist(ctx, args.Path, args.OnlyImages)
	if err != nil {
		return nil, DirlistOutput{}, fmt.Errorf("dirlist %s: %w", args.Path, err)
	}
	if paths == nil {
		paths = []string{}
	}
	return nil, DirlistOutput{Paths: paths}, nil
}

func (s *Server) handleBroadcast(ctx context.Context, _ *mcpsdk.CallToolRequest, args BroadcastInput) (*mcpsdk.CallToolResult, AckOutput, error) {
	if err := s.relay.GreeterComm().Broadcast(ctx, args.Data); err != nil {
		return nil, AckOutput{}, fmt.Errorf("broadcast: %w", err)
	}
	return nil, AckOutput{OK: true}, nil
}

func (s *Server) handleWindowMetadata(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, MetadataOutput, error) {
	md, err := s.relay.GreeterComm().WindowMetadata(ctx)
	if err != nil {
		return nil, MetadataOutput{}, fmt.Errorf("window metadata: %w", err)
	}
	return nil, MetadataOutput{
		ID:        uint64(md.ID),
		IsPrimary: md.IsPrimary,
		Debug:     md.Debug,
		Geometry:  Rect{X: md.Geometry.X, Y: md.Geometry.Y, Width: md.Geometry.Width, Height: md.Geometry.Height},
		Overall: Rect{
			X:      md.Overall.MinX,
			Y:      md.Overall.MinY,
			Width:  md.Overall.MaxX - md.Overall.MinX,
			Height: md.Overall.MaxY - md.Overall.MinY,
		},
	}, nil
}

func (s *Server) handlePowerCapabilities(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, PowerOutput, error) {
	caps, err := s.relay.GreeterComm().PowerCapabilities(ctx)
	if err != nil {
		return nil, PowerOutput{}, fmt.Errorf("power capabilities: %w", err)
	}
	return nil, PowerOutput{
		CanShutdown:  caps.CanShutdown,
		CanRestart:   caps.CanRestart,
		CanSuspend:   caps.CanSuspend,
		CanHibernate: caps.CanHibernate,
	}, nil
}

func (s *Server) handleRecentEvents(_ context.Context, _ *mcpsdk.CallToolRequest, args EventsInput) (*mcpsdk.CallToolResult, EventsOutput, error) {
	if args.Limit < 0 {
		return nil, EventsOutput{}, fmt.Errorf("limit must be >= 0")
	}
	return nil, EventsOutput{Events: s.recent(args.Limit)}, nil
}
