// Package dispatch implements the shared HTTP+WS request path: pick a
// module instance via the Load Balancer (C5), correlate via C6, send an
// "invoke" over the instance's IPC transport (C3), and wait for a reply.
// Both the HTTP router and the Connection Hub funnel through here so the
// selection/correlation logic is written exactly once.
package dispatch

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/statehub-server/core/internal/balancer"
	"github.com/statehub-server/core/internal/correlator"
	"github.com/statehub-server/core/internal/ipc"
	"github.com/statehub-server/core/internal/supervisor"
)

// ErrNoInstance is returned when a module has no live instance to route
// to; callers translate this to HTTP 503 or a dropped WS reply.
var ErrNoInstance = errors.New("dispatch: no live instance for module")

// InstanceSource is the subset of *supervisor.Supervisor dispatch needs.
type InstanceSource interface {
	Instances(moduleName string) []*supervisor.Instance
}

// Call selects an instance of moduleName (sharded by shardKey when
// non-empty, else round robin), sends handlerID an invoke with payload,
// and blocks for up to timeout for a reply.
func Call(sup InstanceSource, bal *balancer.Balancer, corr *correlator.Correlator, moduleName, shardKey, handlerID string, payload any, timeout time.Duration) (correlator.Result, error) {
	instances := sup.Instances(moduleName)
	if len(instances) == 0 {
		return correlator.Result{}, ErrNoInstance
	}

	idx := bal.Select(moduleName, shardKey, len(instances))
	inst := instances[idx]

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return correlator.Result{}, err
	}

	id := uuid.NewString()
	env, err := ipc.Marshal(ipc.TypeInvoke, ipc.InvokePayload{ID: id, HandlerID: handlerID, Payload: rawPayload})
	if err != nil {
		return correlator.Result{}, err
	}

	sink := corr.Register(id, correlator.KindHTTP, timeout)
	if err := inst.Send(env); err != nil {
		return correlator.Result{}, err
	}

	result := <-sink
	return result, nil
}

// CallWithID is like Call but lets the caller supply the correlation id
// up front (the WS path needs the id before dispatch so it can echo it
// back to the client immediately in some flows).
func CallWithID(sup InstanceSource, bal *balancer.Balancer, corr *correlator.Correlator, moduleName, shardKey, handlerID, id string, payload any, timeout time.Duration, kind correlator.Kind) (correlator.Result, error) {
	instances := sup.Instances(moduleName)
	if len(instances) == 0 {
		return correlator.Result{}, ErrNoInstance
	}

	idx := bal.Select(moduleName, shardKey, len(instances))
	inst := instances[idx]

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return correlator.Result{}, err
	}

	env, err := ipc.Marshal(ipc.TypeInvoke, ipc.InvokePayload{ID: id, HandlerID: handlerID, Payload: rawPayload})
	if err != nil {
		return correlator.Result{}, err
	}

	sink := corr.Register(id, kind, timeout)
	if err := inst.Send(env); err != nil {
		return correlator.Result{}, err
	}

	return <-sink, nil
}
