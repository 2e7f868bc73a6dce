// Package balancer implements the Load Balancer (C5): per-module instance
// selection, either by a stable hash of a shard key or by round robin.
package balancer

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Balancer tracks one free-running round-robin counter per module name.
// Instance-count changes from death/respawn implicitly re-bucket shards;
// the spec accepts this as inherent to the model, not a bug.
type Balancer struct {
	mu       sync.Mutex
	counters map[string]*uint64
}

// New creates an empty Balancer.
func New() *Balancer {
	return &Balancer{counters: make(map[string]*uint64)}
}

// Select picks an instance index in [0, count) for moduleName. When
// shardKey is non-empty, selection is a deterministic hash of the key;
// otherwise it round-robins. count must be > 0; callers are responsible
// for checking instance availability first (a count of 0 means "no live
// instance", which is a 503 upstream, not a balancer concern).
func (b *Balancer) Select(moduleName string, shardKey string, count int) int {
	if count <= 0 {
		return -1
	}
	if shardKey != "" {
		return int(HashKey(shardKey) % uint32(count))
	}
	return int(b.next(moduleName) % uint64(count))
}

func (b *Balancer) next(moduleName string) uint64 {
	b.mu.Lock()
	ctr, ok := b.counters[moduleName]
	if !ok {
		var zero uint64
		ctr = &zero
		b.counters[moduleName] = ctr
	}
	b.mu.Unlock()

	// Wraparound on overflow is benign (spec §5): the result is only ever
	// reduced modulo the live instance count.
	return atomic.AddUint64(ctr, 1) - 1
}

// HashKey computes a deterministic, bit-stable 32-bit FNV-1a hash of a
// shard key. FNV-1a is not cryptographic, matching the spec's requirement
// for a stable, non-cryptographic string hash (§4.5); the standard
// library's hash/fnv is the natural idiomatic choice here since the spec
// explicitly names FNV-1a as an acceptable implementation and no
// third-party hashing library in the corpus offers anything this
// algorithm doesn't.
func HashKey(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}
