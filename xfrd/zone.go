/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package xfrd

import (
	"sync"
	"time"

	"github.com/miekg/dns"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Master describes one ACL-permitted remote primary for a zone (spec.md §3,
// "masters").  TSIGKeyName/TSIGSecret are the authentication hook spec.md §1
// says this core must permit without mandating: when set, probes and
// transfers are signed with it, otherwise transfers are sent unauthenticated.
type Master struct {
	Host        string // ip:port, always includes a port
	TSIGKeyName string
	TSIGSecret  string
	TSIGAlgo    string
}

// Zone is the per-zone record described in spec.md §3. Every field that the
// event loop or a worker goroutine touches after startup is guarded by mu;
// the coordinator goroutine (C1) is the only place that mutates it and does
// so holding the lock for the whole duration of one transition, keeping the
// "at most one outstanding operation per zone" invariant intact even though
// UDP probes and TCP transfers run on their own goroutines.
type Zone struct {
	mu sync.Mutex

	Apex    string // canonical, lower-case, fully qualified
	ApexStr string // human-readable form for logs/state file

	Masters       []Master
	CurrentMaster int

	SoaNsd      Snapshot
	SoaDisk     Snapshot
	SoaNotified Snapshot

	State   ZoneState
	TimerAt time.Time // absolute deadline, zero = disarmed

	UDPInFlight bool
	TCPSlot     int  // -1 = none
	PendingAXFR bool // which kind of transfer to start once a TCP slot is granted
	Waiting     bool
	waitNext    *Zone

	QueryID uint16

	NotifyTargets []string // downstream secondaries notified on commit

	Error     bool
	ErrorType ErrorType
	ErrorMsg  string
}

// CurrentMasterAddr returns the host:port of the master currently selected
// for this zone. Callers must hold zd.mu.
func (zd *Zone) CurrentMasterAddr() Master {
	return zd.Masters[zd.CurrentMaster]
}

// Registry is the C2 zone registry: a canonical-name-keyed map of zone
// records, built once at startup and never pruned in this core. Storage is
// the teacher's own `cmap.New[*ZoneData]()` idiom from tdns/global.go,
// retyped to *Zone; cmap's internal sharding doesn't preserve insertion
// order, though, and spec.md §4.2 requires deterministic iteration for the
// state-file writer, so a separately-locked slice tracks insertion order
// alongside it.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName cmap.ConcurrentMap[string, *Zone]
}

func NewRegistry() *Registry {
	return &Registry{byName: cmap.New[*Zone]()}
}

// canonical lower-cases and fully-qualifies a zone name for comparison,
// matching spec.md §4.2's "case-insensitive, label-wise" requirement.
func canonical(name string) string {
	return dns.CanonicalName(name)
}

// Add inserts a new zone record, keyed by its canonical apex name. Re-adding
// an existing apex replaces it; this core never deletes zones (spec.md §3,
// "Lifecycles").
func (r *Registry) Add(zd *Zone) {
	key := canonical(zd.Apex)
	zd.Apex = key
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.byName.Has(key) {
		r.order = append(r.order, key)
	}
	r.byName.Set(key, zd)
}

// Get looks up a zone by name, case-insensitively.
func (r *Registry) Get(name string) (*Zone, bool) {
	return r.byName.Get(canonical(name))
}

// All returns every zone in insertion order (the order the state-file writer
// and the admin API rely on for deterministic output).
func (r *Registry) All() []*Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Zone, 0, len(r.order))
	for _, key := range r.order {
		if zd, ok := r.byName.Get(key); ok {
			out = append(out, zd)
		}
	}
	return out
}

func (r *Registry) Len() int {
	return r.byName.Count()
}
