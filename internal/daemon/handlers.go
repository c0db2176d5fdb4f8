package daemon

import (
	"context"
	"errors"

	"github.com/1broseidon/webgreeter/internal/bridge"
	"github.com/1broseidon/webgreeter/internal/config"
	"github.com/1broseidon/webgreeter/internal/power"
	"github.com/1broseidon/webgreeter/internal/router"
	"github.com/1broseidon/webgreeter/internal/theme"
)

func (d *Daemon) routes() {
	r := d.router

	r.Handle(bridge.OpConsole, d.console)
	r.HandleEvent(bridge.OpReadyToShow, d.readyToShow)

	r.Handle(bridge.OpStartAuthentication, d.startAuthentication)
	r.Handle(bridge.OpRespond, d.respond)
	r.Handle(bridge.OpCancelAuthentication, d.cancelAuthentication)
	r.Handle(bridge.OpStartSession, d.startSession)
	r.Handle(bridge.OpSessionStatus, d.sessionStatus)
	r.Handle(bridge.OpHostname, d.hostnameOp)

	r.Handle(bridge.OpConfigGet, d.configGet)
	r.Handle(bridge.OpConfigSetFlag, d.configSetFlag)

	r.Handle(bridge.OpThemeCurrent, d.themeCurrent)
	r.Handle(bridge.OpThemeList, d.themeList)
	r.Handle(bridge.OpThemeSwitch, d.themeSwitch)
	r.Handle(bridge.OpThemeDirlist, d.themeDirlist)
	r.HandleEvent(bridge.OpThemeReload, d.themeReload)

	r.Handle(bridge.OpCommBroadcast, d.commBroadcast)
	r.Handle(bridge.OpCommWindowMetadata, d.commWindowMetadata)
	r.Handle(bridge.OpCommPowerCapabilities, d.powerCapabilities)
	r.Handle(bridge.OpCommPowerAction, d.powerAction)
}

func (d *Daemon) console(ctx context.Context, call *router.Call) (any, error) {
	report := call.Args.(bridge.ConsoleReport)
	d.flow.Resolve(ctx, call.Window, report, call.Defer())
	return nil, nil
}

func (d *Daemon) readyToShow(ctx context.Context, window bridge.WindowID, _ any) {
	if _, err := d.registry.MarkReady(window); err != nil {
		d.Logger.Warn("ready-to-show failed", "window", window, "error", err)
	}
}

// lightdm.*

func (d *Daemon) startAuthentication(ctx context.Context, call *router.Call) (any, error) {
	args := call.Args.(bridge.Username)
	d.machine.Start(call.Window, args.Name, call.Defer())
	return nil, nil
}

func (d *Daemon) respond(ctx context.Context, call *router.Call) (any, error) {
	args := call.Args.(bridge.Response)
	d.machine.Respond(call.Window, args.Text, call.Defer())
	return nil, nil
}

func (d *Daemon) cancelAuthentication(ctx context.Context, call *router.Call) (any, error) {
	d.machine.Cancel(call.Window, call.Defer())
	return nil, nil
}

func (d *Daemon) startSession(ctx context.Context, call *router.Call) (any, error) {
	args := call.Args.(bridge.SessionKey)
	if _, ok := d.store.Config().Sessions[args.Key]; !ok {
		return nil, bridge.Errorf(bridge.CodeUnavailable, "unknown session %q", args.Key)
	}
	d.machine.StartSession(ctx, call.Window, args.Key, call.Defer())
	return nil, nil
}

func (d *Daemon) sessionStatus(ctx context.Context, call *router.Call) (any, error) {
	return d.machine.Status(), nil
}

func (d *Daemon) hostnameOp(ctx context.Context, call *router.Call) (any, error) {
	name, err := d.hostname()
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeUnavailable, "hostname: %v", err)
	}
	return bridge.Text{Value: name}, nil
}

// greeter-config.*

func (d *Daemon) configGet(ctx context.Context, call *router.Call) (any, error) {
	return d.store.Snapshot(), nil
}

func (d *Daemon) configSetFlag(ctx context.Context, call *router.Call) (any, error) {
	args := call.Args.(bridge.ConfigFlag)
	if err := d.store.SetFlag(args.Name, args.Value); err != nil {
		if errors.Is(err, config.ErrReadOnlyFlag) {
			return nil, bridge.Errorf(bridge.CodeAccessDenied, "%v", err)
		}
		return nil, bridge.Errorf(bridge.CodeMalformedMessage, "%v", err)
	}
	d.Logger.Info("greeter flag changed", "window", call.Window, "flag", args.Name, "value", args.Value)
	d.broadcastConfig()
	return d.store.Snapshot(), nil
}

// theme-utils.*

func (d *Daemon) themeCurrent(ctx context.Context, call *router.Call) (any, error) {
	t, err := d.catalog.Load(d.store.Theme())
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeUnavailable, "%v", err)
	}
	return t.Info(), nil
}

func (d *Daemon) themeList(ctx context.Context, call *router.Call) (any, error) {
	ids, err := d.catalog.List()
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeUnavailable, "%v", err)
	}
	return bridge.ThemeList{IDs: ids}, nil
}

func (d *Daemon) themeSwitch(ctx context.Context, call *router.Call) (any, error) {
	args := call.Args.(bridge.ThemeName)
	t, err := d.catalog.Load(args.ID)
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeUnavailable, "%v", err)
	}
	if err := d.store.SetTheme(t.ID); err != nil {
		return nil, bridge.Errorf(bridge.CodeMalformedMessage, "%v", err)
	}
	d.Logger.Info("theme switched", "window", call.Window, "theme", t.ID)
	d.broadcastConfig()
	if _, err := d.registry.Broadcast(bridge.OpReload, bridge.Reload{Theme: t.ID}); err != nil {
		d.Logger.Error("failed to broadcast reload", "theme", t.ID, "error", err)
	}
	return t.Info(), nil
}

func (d *Daemon) themeDirlist(ctx context.Context, call *router.Call) (any, error) {
	args := call.Args.(bridge.DirQuery)
	paths, err := d.lister.Dirlist(args.Path, args.OnlyImages)
	if err != nil {
		if errors.Is(err, theme.ErrOutsideRoots) {
			return nil, bridge.Errorf(bridge.CodeAccessDenied, "%v", err)
		}
		return nil, bridge.Errorf(bridge.CodeUnavailable, "%v", err)
	}
	return bridge.DirList{Paths: paths}, nil
}

// themeReload reloads the sending window with the current theme.
func (d *Daemon) themeReload(ctx context.Context, window bridge.WindowID, _ any) {
	if err := d.router.Emit(window, bridge.OpReload, bridge.Reload{Theme: d.store.Theme()}); err != nil {
		d.Logger.Warn("reload not delivered", "window", window, "error", err)
	}
}

// greeter-comm.*

func (d *Daemon) commBroadcast(ctx context.Context, call *router.Call) (any, error) {
	args := call.Args.(bridge.BroadcastData)
	msg := bridge.CommMessage{Window: call.Window, Data: args.Data}
	if _, err := d.registry.Broadcast(bridge.OpCommMessage, msg); err != nil {
		return nil, err
	}
	return bridge.Ack{OK: true}, nil
}

func (d *Daemon) commWindowMetadata(ctx context.Context, call *router.Call) (any, error) {
	meta, err := d.registry.Metadata(call.Window)
	if err != nil {
		return nil, bridge.Errorf(bridge.CodeUnavailable, "%v", err)
	}
	return meta, nil
}

// Power queries go over D-Bus and run off the loop.

func (d *Daemon) powerCapabilities(ctx context.Context, call *router.Call) (any, error) {
	if d.power == nil {
		return bridge.PowerCapabilities{}, nil
	}
	p := call.Defer()
	go func() {
		caps := d.power.Capabilities(ctx)
		d.post(func() { _ = p.Reply(caps) })
	}()
	return nil, nil
}

func (d *Daemon) powerAction(ctx context.Context, call *router.Call) (any, error) {
	if d.power == nil {
		return nil, bridge.Errorf(bridge.CodeUnavailable, "power management is not available")
	}
	args := call.Args.(bridge.PowerAction)
	p := call.Defer()
	go func() {
		err := d.power.Do(ctx, args.Action)
		d.post(func() {
			switch {
			case err == nil:
				_ = p.Reply(bridge.Ack{OK: true})
			case errors.Is(err, power.ErrUnknownAction):
				_ = p.Fail(bridge.Errorf(bridge.CodeMalformedMessage, "%v", err))
			case errors.Is(err, power.ErrNotAllowed):
				_ = p.Fail(bridge.Errorf(bridge.CodeAccessDenied, "%v", err))
			default:
				d.Logger.Error("power action failed", "action", args.Action, "error", err)
				_ = p.Fail(bridge.Errorf(bridge.CodePrivilegedAPIFailure, "%v", err))
			}
		})
	}()
	return nil, nil
}
