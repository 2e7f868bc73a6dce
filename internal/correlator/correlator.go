// Package correlator implements the Request Correlator (C6): it assigns
// request IDs, pairs responses with their caller, and enforces per-request
// timeouts so that no PendingRequest ever outlives its deadline.
package correlator

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Kind distinguishes the origin of a pending request, for logging/metrics.
type Kind int

const (
	KindHTTP Kind = iota
	KindWS
	KindMPC
)

// Result is what a PendingRequest is fulfilled with, whether by a real
// reply or by timing out.
type Result struct {
	Status      int
	ContentType string
	Payload     json.RawMessage
	Err         error
}

var ErrTimeout = errors.New("correlator: request timed out")

// pending is the correlator's bookkeeping for one in-flight request.
type pending struct {
	kind  Kind
	sink  chan Result
	timer *time.Timer
	once  sync.Once
}

func (p *pending) complete(r Result) {
	p.once.Do(func() {
		p.timer.Stop()
		p.sink <- r
		close(p.sink)
	})
}

// Correlator owns the requestId -> PendingRequest map.
type Correlator struct {
	mu      sync.Mutex
	entries map[string]*pending
}

// New creates an empty Correlator.
func New() *Correlator {
	return &Correlator{entries: make(map[string]*pending)}
}

// Register arms a new PendingRequest with the given id and deadline. It
// returns a channel that receives exactly one Result — either a genuine
// reply (via Deliver) or a timeout (fired internally). The entry
// self-destructs in both cases, so a stuck instance cannot accumulate
// unbounded state here (§4.6 memory invariant). There is deliberately no
// way to cancel a PendingRequest early: §5 specifies no backchannel
// cancellation is ever sent to a module, so the only two ways out are a
// matching reply or the deadline.
func (c *Correlator) Register(id string, kind Kind, timeout time.Duration) <-chan Result {
	p := &pending{kind: kind, sink: make(chan Result, 1)}

	c.mu.Lock()
	c.entries[id] = p
	c.mu.Unlock()

	p.timer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		delete(c.entries, id)
		c.mu.Unlock()
		p.complete(Result{Err: ErrTimeout})
	})

	return p.sink
}

// Deliver matches an inbound response/reply by id. Unknown ids are
// dropped silently (§4.6); a duplicate delivery for an id whose entry
// already completed is discarded because the entry no longer exists.
func (c *Correlator) Deliver(id string, r Result) {
	c.mu.Lock()
	p, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	p.complete(r)
}

// Pending reports how many requests are currently in flight, for tests
// and diagnostics.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
