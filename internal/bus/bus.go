// Package bus implements the Inter-Module Bus (C9): module-to-module RPC
// routed through the core via intermoduleMessage/mpcRequest/mpcResponse
// (§4.9).
package bus

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/statehub-server/core/internal/balancer"
	"github.com/statehub-server/core/internal/correlator"
	"github.com/statehub-server/core/internal/ipc"
	"github.com/statehub-server/core/internal/router"
	"github.com/statehub-server/core/internal/supervisor"
)

const mpcTimeout = 5 * time.Second

var (
	errModuleNotLoaded = errors.New("bus: target module not loaded")
	errNoHandler       = errors.New("bus: target module has no such MPC handler")
)

// mpcEnvelope is the caller-supplied payload shape for an inter-module
// call: the handler being invoked, plus its arguments.
type mpcEnvelope struct {
	Handler string          `json:"handler"`
	Args    json.RawMessage `json:"args"`
}

// Bus resolves and forwards inter-module calls.
type Bus struct {
	router *router.Registry
	bal    *balancer.Balancer
	corr   *correlator.Correlator
	sup    *supervisor.Supervisor
}

// New creates a Bus.
func New(reg *router.Registry, bal *balancer.Balancer, corr *correlator.Correlator, sup *supervisor.Supervisor) *Bus {
	return &Bus{router: reg, bal: bal, corr: corr, sup: sup}
}

// HandleIntermoduleMessage processes one intermoduleMessage from an
// instance, whether it's a fresh request (IsResult=false) or the result
// of a call this Bus forwarded earlier (IsResult=true).
func (b *Bus) HandleIntermoduleMessage(caller *supervisor.Instance, msg ipc.IntermoduleMessagePayload) {
	if msg.IsResult {
		b.corr.Deliver(msg.ID, correlator.Result{Payload: msg.Payload})
		return
	}
	go b.forward(caller, msg)
}

func (b *Bus) forward(caller *supervisor.Instance, msg ipc.IntermoduleMessagePayload) {
	reply := func(errMsg string, payload json.RawMessage) {
		env, err := ipc.Marshal(ipc.TypeMPCResponse, ipc.MPCPayload{ID: msg.ID, Payload: errorOrPayload(errMsg, payload)})
		if err != nil {
			return
		}
		_ = caller.Send(env)
	}

	var env mpcEnvelope
	_ = json.Unmarshal(msg.Payload, &env)

	// An MPC handler is exposed the same way a WS command is: a module
	// registers "<module>.<handler>" in its command table. Reusing the
	// command registry (rather than inventing a second parallel table the
	// wire protocol in §4.3 never names) means a handler can serve both
	// WS clients and sibling modules with one registration.
	entry, ok := b.router.LookupCommand(msg.To + "." + env.Handler)
	if !ok {
		if !b.router.HasLiveModule(msg.To) {
			reply(errModuleNotLoaded.Error(), nil)
			return
		}
		reply(errNoHandler.Error(), nil)
		return
	}

	instances := b.sup.Instances(msg.To)
	if len(instances) == 0 {
		reply(errModuleNotLoaded.Error(), nil)
		return
	}

	idx := b.bal.Select(msg.To, msg.ShardKey, len(instances))
	target := instances[idx]

	sink := b.corr.Register(msg.ID, correlator.KindMPC, mpcTimeout)
	invoke, err := ipc.Marshal(ipc.TypeMPCRequest, ipc.MPCPayload{ID: msg.ID, HandlerID: entry.HandlerID, Payload: env.Args})
	if err != nil {
		reply("bus: internal error", nil)
		return
	}
	if err := target.Send(invoke); err != nil {
		reply(err.Error(), nil)
		return
	}

	result := <-sink
	if result.Err != nil {
		reply(result.Err.Error(), nil)
		return
	}
	reply("", result.Payload)
}

func errorOrPayload(errMsg string, payload json.RawMessage) json.RawMessage {
	if errMsg == "" {
		return payload
	}
	raw, _ := json.Marshal(map[string]string{"error": errMsg})
	return raw
}
