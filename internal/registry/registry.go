// Package registry interns (venue, symbol) pairs into dense 32-bit ids.
//
// Grounded on the sharded-map pattern in svyatogor45-abitrage's
// internal/bot/spread.go (PriceTracker/PriceShard, inline FNV hash avoiding
// heap allocation), generalised from price storage to identifier allocation
// and from the teacher's per-shard sync.RWMutex to the CAS/optimistic-insert
// protocol spec §3/§9 mandates ("the writable side is behind a
// compare-and-swap protocol, never a lock on the hot path"; "do not
// introduce any mutex into these components").
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"arbitrage/internal/model"
)

// DefaultCapacity is the default maximum number of distinct symbols.
const DefaultCapacity = 65536

type key struct {
	venue  model.VenueId
	symbol string
}

// venueMap is the immutable per-trading-symbol venue->id snapshot; groups
// holds a pointer to the current one. Every update installs a pointer to a
// fresh copy via CompareAndSwap rather than mutating in place, so concurrent
// readers of an old snapshot never race a writer.
type venueMap map[model.VenueId]model.SymbolId

// Registry maps (venue, symbol) <-> SymbolId. Reads never take a lock:
// forward/inverse/groups are sync.Map, whose Load path is a lock-free atomic
// read of an immutable snapshot. Writes (Intern, rare past warm-up) use a
// CAS loop on the size counter to enforce capacity plus LoadOrStore/
// CompareAndSwap to install new entries optimistically, retrying on a lost
// race instead of blocking.
type Registry struct {
	capacity uint32
	counter  atomic.Uint32 // next id to allocate, starts at 1 (0 = invalid)
	size     atomic.Uint32 // number of interned (venue, symbol) pairs, CAS-reserved before insert

	forward sync.Map // key -> model.SymbolId
	inverse sync.Map // model.SymbolId -> key
	groups  sync.Map // trading symbol (string) -> *venueMap: venues quoting it
}

// ErrRegistryFull is returned (and is fatal per spec §4.1/§7) when capacity is exhausted.
var ErrRegistryFull = fmt.Errorf("symbol registry: capacity exhausted")

// New creates a registry with the given capacity (0 = DefaultCapacity).
func New(capacity uint32) *Registry {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	return &Registry{capacity: capacity}
}

// Intern returns the existing id for (venue, symbol) or atomically allocates
// a new one. Safe under concurrent callers: the fast path is a lock-free
// map load; the slow (first-sighting) path reserves capacity with a CAS
// loop and installs the new entry optimistically, releasing its reservation
// and returning the winner's id if another goroutine raced it to insertion.
func (r *Registry) Intern(venue model.VenueId, symbol string) (model.SymbolId, error) {
	k := key{venue, symbol}

	if v, ok := r.forward.Load(k); ok {
		return v.(model.SymbolId), nil
	}

	for {
		cur := r.size.Load()
		if cur >= r.capacity {
			return model.InvalidSymbolId, ErrRegistryFull
		}
		if r.size.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	id := model.SymbolId(r.counter.Add(1))
	actual, loaded := r.forward.LoadOrStore(k, id)
	if loaded {
		// Another goroutine interned this key first: release our reserved
		// capacity slot (the allocated counter value is simply unused) and
		// return the winner's id.
		r.size.Add(^uint32(0))
		return actual.(model.SymbolId), nil
	}

	r.inverse.Store(id, k)
	r.addToGroup(symbol, venue, id)
	return id, nil
}

// addToGroup installs (venue -> id) into the immutable venueMap snapshot for
// symbol, retrying the copy-and-CAS on a lost race. This is the one place
// concurrent Interns for the same trading symbol (different venues) can
// contend; contention is resolved without a lock.
func (r *Registry) addToGroup(symbol string, venue model.VenueId, id model.SymbolId) {
	for {
		old, ok := r.groups.Load(symbol)
		var oldMap venueMap
		if ok {
			oldMap = *old.(*venueMap)
		}
		next := make(venueMap, len(oldMap)+1)
		for k, v := range oldMap {
			next[k] = v
		}
		next[venue] = id

		if !ok {
			if _, loaded := r.groups.LoadOrStore(symbol, &next); !loaded {
				return
			}
			continue // someone else created the group first; retry the merge
		}
		if r.groups.CompareAndSwap(symbol, old, &next) {
			return
		}
	}
}

// Resolve returns the (venue, symbol) pair for an id. O(1), never blocks.
func (r *Registry) Resolve(id model.SymbolId) (model.VenueId, string, bool) {
	v, ok := r.inverse.Load(id)
	if !ok {
		return model.VenueUnknown, "", false
	}
	k := v.(key)
	return k.venue, k.symbol, true
}

// Preload interns a known roster at startup so that early traffic sees
// stable ids (spec §4.1).
func (r *Registry) Preload(pairs [][2]string, venueOf func(string) model.VenueId) error {
	for _, p := range pairs {
		venue := venueOf(p[0])
		if _, err := r.Intern(venue, p[1]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of interned symbols.
func (r *Registry) Len() int {
	return int(r.size.Load())
}

// VenuesForSymbol returns the venue->id map for every venue quoting the
// given trading symbol text. O(1); the detector uses this to find the set
// of venues to evaluate pairwise on each update (spec §4.3 step 2). Lock-free:
// a single sync.Map load of the current immutable snapshot.
func (r *Registry) VenuesForSymbol(text string) map[model.VenueId]model.SymbolId {
	v, ok := r.groups.Load(text)
	if !ok {
		return nil
	}
	snapshot := *v.(*venueMap)
	out := make(map[model.VenueId]model.SymbolId, len(snapshot))
	for venue, id := range snapshot {
		out[venue] = id
	}
	return out
}

// SymbolText returns the trading-symbol text for an id (without the venue),
// used by the detector to find sibling venues.
func (r *Registry) SymbolText(id model.SymbolId) (string, bool) {
	v, ok := r.inverse.Load(id)
	if !ok {
		return "", false
	}
	return v.(key).symbol, true
}
