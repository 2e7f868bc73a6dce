// Package supervisor implements the Instance Supervisor (C2): spawning,
// monitoring, and reaping module child processes, and removing each
// exited instance from its module's instance list. Route/command
// registrations are left installed on exit.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/statehub-server/core/internal/events"
	"github.com/statehub-server/core/internal/ipc"
	"github.com/statehub-server/core/internal/manifest"
	"github.com/statehub-server/core/internal/router"
)

// Logger is the minimal logging surface the supervisor needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Sink receives every message type an instance can send to the core
// (§4.3) and is implemented by the application wiring layer so the
// supervisor itself stays free of router/correlator/bus/store knowledge.
type Sink interface {
	OnRegister(inst *Instance, payload ipc.RegisterPayload)
	OnResponse(payload ipc.ResponsePayload)
	OnReply(payload ipc.ReplyPayload)
	OnLog(inst *Instance, payload ipc.LogPayload)
	OnIntermoduleMessage(inst *Instance, payload ipc.IntermoduleMessagePayload)
	OnDatabaseQuery(inst *Instance, payload ipc.DatabaseQueryPayload)
}

// Launcher starts the OS process for a module's entry point. The default
// production launcher runs the entry file under node, matching the
// manifest's §6.3 "dist/index.js" convention. Tests bypass the launcher
// and connect in-process fake modules through Attach.
type Launcher func(entryPointPath string) *exec.Cmd

// DefaultLauncher runs entryPointPath with node.
func DefaultLauncher(entryPointPath string) *exec.Cmd {
	return exec.Command("node", entryPointPath)
}

type moduleState struct {
	mu        sync.RWMutex
	instances []*Instance
}

// Supervisor owns every module's instance list.
type Supervisor struct {
	log      Logger
	router   *router.Registry
	sink     Sink
	launcher Launcher
	events   *events.Bus // optional; nil means no lifecycle events are published

	mu      sync.RWMutex
	modules map[string]*moduleState
}

// SetEvents attaches the Bus instance state transitions are published to.
// Optional: a Supervisor with no Bus attached simply emits nothing.
func (s *Supervisor) SetEvents(b *events.Bus) {
	s.events = b
}

func (s *Supervisor) publish(eventType, moduleName, instanceID string, extra map[string]string) {
	if s.events == nil {
		return
	}
	extensions := map[string]string{"module": moduleName, "instance": instanceID}
	for k, v := range extra {
		extensions[k] = v
	}
	s.events.Publish(context.Background(), events.NewEvent(eventType, nil, extensions))
}

// New creates a Supervisor. sink receives every inbound instance message,
// including register, so route installation happens in the sink; the
// supervisor itself does not mutate reg.
func New(log Logger, reg *router.Registry, sink Sink, launcher Launcher) *Supervisor {
	if launcher == nil {
		launcher = DefaultLauncher
	}
	return &Supervisor{
		log:      log,
		router:   reg,
		sink:     sink,
		launcher: launcher,
		modules:  make(map[string]*moduleState),
	}
}

// DesiredCount computes max(1, configured) per §4.2, capping at 1 with a
// warning when the manifest declares multiInstanceSpawning=false.
func (s *Supervisor) DesiredCount(m *manifest.Manifest, configured int) int {
	count := configured
	if count < 1 {
		count = 1
	}
	if !m.MultiInstance && count > 1 {
		s.log.Warn("module is not multi-instance capable, capping instance count to 1",
			"module", m.Name, "requested", count)
		count = 1
	}
	return count
}

// Load spawns the desired instance count for m and waits for each to
// start. It does not wait for "register" — an instance becomes Ready as
// soon as its init message has been sent, whether or not it registers
// later. env is passed through
// unchanged to every instance's init message (§4.3); nil is equivalent to
// no extra environment.
func (s *Supervisor) Load(m *manifest.Manifest, count int, env map[string]string) error {
	st := &moduleState{}
	s.mu.Lock()
	s.modules[m.Name] = st
	s.mu.Unlock()

	for idx := 0; idx < count; idx++ {
		if err := s.spawnOne(m, idx, st, env); err != nil {
			return fmt.Errorf("supervisor: spawn %s instance %d: %w", m.Name, idx, err)
		}
	}
	return nil
}

func (s *Supervisor) spawnOne(m *manifest.Manifest, index int, st *moduleState, env map[string]string) error {
	cmd := s.launcher(m.EntryPointPath())
	cmd.Dir = m.Path

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	inst := s.attach(m.Name, index, stdin, stdout, func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}, st)

	go func() {
		waitErr := cmd.Wait()
		s.cleanup(inst, st, waitErr)
	}()

	return s.initInstance(inst, env)
}

// attach wires a transport to stdin/stdout regardless of how the
// instance was started; used directly by tests to attach fake in-process
// modules without spawning a real OS process.
func (s *Supervisor) attach(moduleName string, index int, w io.WriteCloser, r io.ReadCloser, stop func() error, st *moduleState) *Instance {
	transport := ipc.NewTransport(w, r, stop)
	inst := newInstance(moduleName, index, transport, stop)

	st.mu.Lock()
	st.instances = append(st.instances, inst)
	st.mu.Unlock()

	go func() {
		runErr := transport.Run(func(env ipc.Envelope) {
			s.dispatch(inst, env)
		})
		// The read loop only returns on EOF/error, which for an attached
		// (non-OS-process) instance is the only exit signal available, so
		// treat it the same as a process exit (§4.2: close/disconnect are
		// unified into the same cleanup path as a normal exit).
		s.cleanup(inst, st, runErr)
	}()

	return inst
}

// Attach is the exported form of attach, for tests and for non-process
// (in-memory) module harnesses.
func (s *Supervisor) Attach(moduleName string, index int, w io.WriteCloser, r io.ReadCloser, stop func() error) *Instance {
	s.mu.Lock()
	st, ok := s.modules[moduleName]
	if !ok {
		st = &moduleState{}
		s.modules[moduleName] = st
	}
	s.mu.Unlock()

	inst := s.attach(moduleName, index, w, r, stop, st)
	_ = s.initInstance(inst, nil)
	return inst
}

func (s *Supervisor) initInstance(inst *Instance, env map[string]string) error {
	initEnv, err := ipc.Marshal(ipc.TypeInit, ipc.InitPayload{InstanceID: inst.InstanceID, Env: env})
	if err != nil {
		return err
	}
	if err := inst.Send(initEnv); err != nil {
		return err
	}
	// Modules that never register still become usable immediately; a
	// later register message simply installs routes/commands at that
	// point (§4.2).
	inst.setState(StateReady)
	return nil
}

func (s *Supervisor) dispatch(inst *Instance, env ipc.Envelope) {
	switch env.Type {
	case ipc.TypeRegister:
		var p ipc.RegisterPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.log.Warn("supervisor: malformed register payload", "module", inst.ModuleName, "error", err)
			return
		}
		inst.setState(StateReady)
		s.publish(events.EventTypeInstanceRegistered, inst.ModuleName, inst.InstanceID, map[string]string{
			"routes": fmt.Sprint(len(p.Routes)), "commands": fmt.Sprint(len(p.Commands)),
		})
		s.sink.OnRegister(inst, p)
	case ipc.TypeResponse:
		var p ipc.ResponsePayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			s.sink.OnResponse(p)
		}
	case ipc.TypeReply:
		var p ipc.ReplyPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			s.sink.OnReply(p)
		}
	case ipc.TypeLog:
		var p ipc.LogPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			s.sink.OnLog(inst, p)
		}
	case ipc.TypeIntermoduleMessage:
		var p ipc.IntermoduleMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			s.sink.OnIntermoduleMessage(inst, p)
		}
	case ipc.TypeDatabaseQuery:
		var p ipc.DatabaseQueryPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			s.sink.OnDatabaseQuery(inst, p)
		}
	default:
		s.log.Warn("supervisor: unknown message type from instance", "module", inst.ModuleName, "type", env.Type)
	}
}

// cleanup unifies the four exit signals (normal exit, abnormal close,
// transport error, disconnect) into a single idempotent path (§4.2).
// Restart is deliberately not performed here: the spec treats
// unconstrained auto-restart as something that masks bugs, leaving
// restart to a future operator-driven admin command.
func (s *Supervisor) cleanup(inst *Instance, st *moduleState, cause error) {
	// A spawned process reaches cleanup from both cmd.Wait and the
	// transport read loop; only the caller that moves the instance into
	// StateDying runs the rest.
	for {
		prior := inst.State()
		if prior == StateDying || prior == StateDead {
			return
		}
		if inst.state.CompareAndSwap(int32(prior), int32(StateDying)) {
			break
		}
	}

	st.mu.Lock()
	remaining := make([]*Instance, 0, len(st.instances))
	for _, other := range st.instances {
		if other != inst {
			remaining = append(remaining, other)
		}
	}
	st.instances = remaining
	liveCount := len(remaining)
	st.mu.Unlock()

	inst.setState(StateDead)
	_ = inst.transport.Close()

	exitExtra := map[string]string{"cause": ""}
	if cause != nil {
		exitExtra["cause"] = cause.Error()
		s.log.Warn("supervisor: instance exited", "instance", inst.InstanceID, "error", cause)
	} else {
		s.log.Info("supervisor: instance exited", "instance", inst.InstanceID)
	}
	s.publish(events.EventTypeInstanceExited, inst.ModuleName, inst.InstanceID, exitExtra)

	if liveCount == 0 {
		// Routes/commands stay installed: C4 presence answers "is this
		// module known," not "does it have a live instance right now."
		// Dispatch already asks Instances() separately and returns 503
		// when it comes back empty (§8 scenario 1: a second request
		// after the module is killed must still resolve the route and
		// get a 503, not a 404). Tearing the route table down here would
		// turn that 503 into a 404 instead.
		s.log.Warn("supervisor: module has no live instances", "module", inst.ModuleName)
	}
}

// Instances returns a snapshot of the live instances for moduleName.
func (s *Supervisor) Instances(moduleName string) []*Instance {
	s.mu.RLock()
	st, ok := s.modules[moduleName]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Instance, len(st.instances))
	copy(out, st.instances)
	return out
}

// LiveCount is a convenience wrapper returning len(Instances(moduleName)).
func (s *Supervisor) LiveCount(moduleName string) int {
	return len(s.Instances(moduleName))
}

// AllInstances returns every live instance across every module, used to
// fan out clientConnect/clientDisconnect to all instances (§4.7).
func (s *Supervisor) AllInstances() []*Instance {
	s.mu.RLock()
	states := make([]*moduleState, 0, len(s.modules))
	for _, st := range s.modules {
		states = append(states, st)
	}
	s.mu.RUnlock()

	var out []*Instance
	for _, st := range states {
		st.mu.RLock()
		out = append(out, st.instances...)
		st.mu.RUnlock()
	}
	return out
}
