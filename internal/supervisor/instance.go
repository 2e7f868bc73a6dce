package supervisor

import (
	"fmt"
	"sync/atomic"

	"github.com/statehub-server/core/internal/ipc"
)

// State is an Instance's place in its lifecycle (§3 data model).
type State int32

const (
	StateStarting State = iota
	StateReady
	StateDying
	StateDead
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDying:
		return "dying"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Instance is a single running child process of a module.
type Instance struct {
	ModuleName string
	InstanceID string
	Index      int

	transport *ipc.Transport
	state     atomic.Int32

	stopChild func() error
}

func newInstance(moduleName string, index int, transport *ipc.Transport, stopChild func() error) *Instance {
	inst := &Instance{
		ModuleName: moduleName,
		InstanceID: fmt.Sprintf("%s-%d", moduleName, index),
		Index:      index,
		transport:  transport,
		stopChild:  stopChild,
	}
	inst.state.Store(int32(StateStarting))
	return inst
}

// State returns the instance's current lifecycle state.
func (i *Instance) State() State {
	return State(i.state.Load())
}

func (i *Instance) setState(s State) {
	i.state.Store(int32(s))
}

// Send delivers a core-to-instance message over this instance's transport.
func (i *Instance) Send(env ipc.Envelope) error {
	return i.transport.Send(env)
}

// Ready reports whether the instance has completed its register handshake
// (or was never expected to register at all).
func (i *Instance) Ready() bool {
	return i.State() == StateReady
}
