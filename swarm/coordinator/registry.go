package coordinator

import (
	"clocksync/clock"
	"clocksync/datamodel/peer"
	"net"
	"sync"
	"time"
)

// Member is a registry entry together with the address datagrams go back to.
type Member struct {
	Addr net.Addr `json:"-"`
	peer.State
}

// Registry is the coordinator's authoritative address -> peer state map.
// Entries are created only by state updates and removed only by EvictStale.
// Iteration order is insertion order.
type Registry struct {
	mu      sync.Mutex
	clock   clock.Clock
	members map[string]*Member
	order   []string
}

func NewRegistry(c clock.Clock) *Registry {
	return &Registry{
		clock:   c,
		members: make(map[string]*Member),
	}
}

// Upsert records a state update from addr. Every declared field is replaced,
// nothing is validated. Returns true if the peer was not known before.
func (r *Registry) Upsert(addr net.Addr, rec peer.Record) bool {
	key := addr.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[key]
	if !ok {
		m = &Member{Addr: addr}
		m.Address = key
		r.members[key] = m
		r.order = append(r.order, key)
	}
	m.LastSeen = r.clock.Now()
	m.Record = rec
	return !ok
}

// Touch refreshes the liveness of a known peer. Unknown addresses are ignored:
// a heartbeat alone never creates an entry.
func (r *Registry) Touch(addr net.Addr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[addr.String()]
	if ok {
		m.LastSeen = r.clock.Now()
	}
	return ok
}

// EvictStale removes every peer whose last message is more than window older
// than now. A peer silent for exactly window is kept.
func (r *Registry) EvictStale(now clock.Ticks, window time.Duration) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictLocked(now, window)
}

func (r *Registry) evictLocked(now clock.Ticks, window time.Duration) []Member {
	limit := clock.FromDuration(window)

	var evicted []Member
	kept := r.order[:0]
	for _, key := range r.order {
		m := r.members[key]
		if now > m.LastSeen+limit {
			evicted = append(evicted, *m)
			delete(r.members, key)
			continue
		}
		kept = append(kept, key)
	}
	clear(r.order[len(kept):])
	r.order = kept
	return evicted
}

// Sweep evicts stale peers and copies the survivors in one critical section,
// so a snapshot never contains a peer that was evicted in the same cycle.
func (r *Registry) Sweep(window time.Duration) (evicted, live []Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted = r.evictLocked(r.clock.Now(), window)
	live = r.snapshotLocked()
	return evicted, live
}

// Snapshot copies every entry in iteration order.
func (r *Registry) Snapshot() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Member {
	out := make([]Member, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, *r.members[key])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
