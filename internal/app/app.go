// Package app wires every component package into the running core: it is
// the supervisor.Sink implementation and the boot sequence that turns a
// Config into a live, listening server (manifest discovery → instance
// supervision → HTTP/WS surface).
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/statehub-server/core/internal/auth"
	"github.com/statehub-server/core/internal/balancer"
	"github.com/statehub-server/core/internal/bus"
	"github.com/statehub-server/core/internal/config"
	"github.com/statehub-server/core/internal/correlator"
	"github.com/statehub-server/core/internal/events"
	"github.com/statehub-server/core/internal/hub"
	"github.com/statehub-server/core/internal/httpapi"
	"github.com/statehub-server/core/internal/ipc"
	"github.com/statehub-server/core/internal/logging"
	"github.com/statehub-server/core/internal/manifest"
	"github.com/statehub-server/core/internal/oauth"
	"github.com/statehub-server/core/internal/router"
	"github.com/statehub-server/core/internal/store"
	"github.com/statehub-server/core/internal/supervisor"
	"github.com/statehub-server/core/internal/sweep"
)

// sweepSchedule runs the housekeeping sweep once a minute; not configurable
// today since nothing in §6.5 names a setting for it.
const sweepSchedule = "@every 1m"

// settingsPath is the fixed location of the reloadable settings.json,
// relative to the process working directory, per §6.5.
const settingsPath = "settings.json"

// moduleEnvPath is the fixed location of the optional per-module
// environment overrides file.
const moduleEnvPath = "module-env.yaml"

// Application owns every collaborator for the lifetime of the process and
// is the supervisor.Sink that ties instance messages back into the
// router, correlator, bus, and store.
type Application struct {
	log logging.Logger
	cfg config.Config

	store    store.Store
	manifest *manifest.Registry
	settings *config.Settings

	reg    *router.Registry
	bal    *balancer.Balancer
	corr   *correlator.Correlator
	sup    *supervisor.Supervisor
	bus    *bus.Bus
	hub    *hub.Hub
	events *events.Bus

	issuer *auth.TokenIssuer
	gate   *auth.Gate
	oauth  *oauth.Manager

	httpServer *httpapi.Server
	sweeper    *sweep.Sweeper

	skippedModules []string
}

// New constructs every in-process collaborator but does not yet scan
// manifests or spawn any instance; call Boot for that.
func New(log logging.Logger, cfg config.Config, st store.Store) *Application {
	a := &Application{
		log:   log,
		cfg:   cfg,
		store: st,
	}

	a.reg = router.New()
	a.bal = balancer.New()
	a.corr = correlator.New()
	a.sup = supervisor.New(log, a.reg, a, nil) // a satisfies supervisor.Sink below
	a.bus = bus.New(a.reg, a.bal, a.corr, a.sup)

	a.events = events.New()
	a.events.RegisterObserver(events.NewLogObserver(log))
	a.sup.SetEvents(a.events)

	a.issuer = auth.NewTokenIssuer(cfg.SecretKey)
	a.gate = auth.NewGate(a.issuer, st)
	a.oauth = oauth.NewManager(cfg, st, a.issuer)
	a.hub = hub.New(log, a.reg, a.bal, a.corr, a.sup, a.gate)

	a.httpServer = httpapi.New(log, a.gate, a.issuer, st, a.oauth, a.hub, a.reg, a.bal, a.corr, a.sup, cfg.OriginWhitelist)
	a.sweeper = sweep.New(log, a.sup, a.corr)

	return a
}

// Router exposes the assembled HTTP/WS handler for the caller (cmd/server)
// to listen on.
func (a *Application) Router() http.Handler { return a.httpServer.Router() }

// Boot discovers modules, resolves load order, and spawns every instance
// in dependency order (§4.1/§4.2). A manifest scan failure, a dependency
// cycle, or a spawn failure of any module in the load order is
// boot-fatal (§7); an unresolved dependency merely skips its dependent
// chain with a warning, matching manifest.Registry.Resolve's contract.
func (a *Application) Boot(ctx context.Context) error {
	a.manifest = manifest.NewRegistry(a.cfg.ModulesRoot, a.log)
	a.manifest.SetEvents(a.events)
	if err := a.manifest.Scan(); err != nil {
		return fmt.Errorf("app: scan modules: %w", err)
	}

	sorted, skipped, err := a.manifest.Resolve()
	if err != nil {
		return fmt.Errorf("app: resolve load order: %w", err)
	}
	a.skippedModules = skipped
	for _, name := range skipped {
		a.log.Warn("app: module skipped, unresolved dependency chain", "module", name)
	}

	settings, err := config.LoadSettings(settingsPath, a.log)
	if err != nil {
		return fmt.Errorf("app: load settings: %w", err)
	}
	a.settings = settings

	moduleEnv, err := config.LoadModuleEnv(moduleEnvPath)
	if err != nil {
		return fmt.Errorf("app: load module env: %w", err)
	}

	for _, name := range sorted {
		m, ok := a.manifest.Get(name)
		if !ok {
			continue // defensive; Resolve only returns names it found manifests for
		}
		configured, _ := a.settings.InstanceCount(name)
		count := a.sup.DesiredCount(m, configured)
		if err := a.sup.Load(m, count, moduleEnv[name]); err != nil {
			return fmt.Errorf("app: load module %s: %w", name, err)
		}
		a.log.Info("app: module loaded", "module", name, "instances", count)
	}

	stop := make(chan struct{})
	if err := a.settings.Watch(stop); err != nil {
		a.log.Warn("app: settings file watch unavailable, reload requires restart", "error", err)
	}

	if err := a.sweeper.Start(sweepSchedule); err != nil {
		a.log.Warn("app: housekeeping sweep did not start", "error", err)
	}

	return nil
}

// SkippedModules returns the modules left unloaded because of an
// unresolved dependency, for diagnostics at boot.
func (a *Application) SkippedModules() []string {
	return a.skippedModules
}

// OnRegister implements supervisor.Sink: it installs the instance's
// declared routes and commands into the shared registry (§4.2).
func (a *Application) OnRegister(inst *supervisor.Instance, payload ipc.RegisterPayload) {
	routes := make([]router.RouteEntry, len(payload.Routes))
	for i, r := range payload.Routes {
		routes[i] = router.RouteEntry{
			Method:       r.Method,
			Path:         r.Path,
			HandlerID:    r.HandlerID,
			RequiresAuth: r.RequiresAuth,
		}
	}
	a.reg.InstallRoutes(inst.ModuleName, routes)

	commands := make([]router.CommandEntry, len(payload.Commands))
	for i, c := range payload.Commands {
		commands[i] = router.CommandEntry{
			FullName:     inst.ModuleName + "." + c.Name,
			HandlerID:    c.HandlerID,
			Broadcast:    c.Broadcast,
			RequiresAuth: c.RequiresAuth,
		}
	}
	a.reg.InstallCommands(inst.ModuleName, commands)

	a.log.Info("app: module registered", "module", inst.ModuleName, "instance", inst.InstanceID,
		"routes", len(routes), "commands", len(commands))
}

// OnResponse implements supervisor.Sink: it completes the matching
// PendingRequest for an HTTP-originated invoke.
func (a *Application) OnResponse(payload ipc.ResponsePayload) {
	a.corr.Deliver(payload.ID, correlator.Result{
		Status:      payload.Status,
		ContentType: payload.ContentType,
		Payload:     payload.Payload,
	})
}

// OnReply implements supervisor.Sink: the WS-flavored equivalent of OnResponse.
func (a *Application) OnReply(payload ipc.ReplyPayload) {
	a.corr.Deliver(payload.MsgID, correlator.Result{
		ContentType: payload.ContentType,
		Payload:     payload.Payload,
	})
}

// OnLog implements supervisor.Sink: it re-emits an instance's structured
// log line through the core logger, attributed to its module (§4.3).
func (a *Application) OnLog(inst *supervisor.Instance, payload ipc.LogPayload) {
	l := a.log.With("module", inst.ModuleName, "instance", inst.InstanceID)
	switch payload.Level {
	case "error":
		l.Error(payload.Message)
	case "warn":
		l.Warn(payload.Message)
	case "debug":
		l.Debug(payload.Message)
	default:
		l.Info(payload.Message)
	}
}

// OnIntermoduleMessage implements supervisor.Sink by delegating straight
// to the bus (C9), which already knows how to both forward a fresh call
// and deliver a result back to its original caller (§4.9).
func (a *Application) OnIntermoduleMessage(inst *supervisor.Instance, payload ipc.IntermoduleMessagePayload) {
	a.bus.HandleIntermoduleMessage(inst, payload)
}

// OnDatabaseQuery implements supervisor.Sink: it proxies a module's
// database request to the relational store (§4.3) and answers with
// exactly one databaseResult or databaseError message.
func (a *Application) OnDatabaseQuery(inst *supervisor.Instance, payload ipc.DatabaseQueryPayload) {
	a.handleDatabaseQuery(inst, payload)
}
