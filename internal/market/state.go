// Package market is the detector-owned market state store: the latest
// quote/funding/depth per symbol_id, kept as parallel arrays sized to the
// registry's capacity (struct-of-arrays, spec §3/§9 "zero allocation on the
// hot path"). Only the detector thread ever calls Apply; everyone else gets
// copies via Get.
package market

import (
	"time"

	"arbitrage/internal/model"
)

// StaleAfter is the staleness threshold from spec §3/Glossary.
const StaleAfter = 5 * time.Second

// Quote is a point-in-time copy of one symbol's state, safe to pass around.
type Quote struct {
	Bid          float64
	Ask          float64
	FundingRate  float64
	DepthBid     float64
	DepthAsk     float64
	ReceivedAt   time.Time
	HasFunding   bool
	HasDepth     bool
	present      bool
}

// Present reports whether any update has ever been applied for this symbol.
func (q Quote) Present() bool { return q.present }

// Stale reports whether the quote is older than StaleAfter relative to now.
func (q Quote) Stale(now time.Time) bool {
	if !q.present {
		return true
	}
	return now.Sub(q.ReceivedAt) > StaleAfter
}

// Store is the fixed-capacity struct-of-arrays market state.
type Store struct {
	bid, ask             []float64
	funding              []float64
	depthBid, depthAsk   []float64
	receivedAtMicros     []int64
	hasFunding, hasDepth []bool
	present              []bool
}

// NewStore pre-allocates arrays sized to capacity (default: registry capacity).
func NewStore(capacity int) *Store {
	return &Store{
		bid:              make([]float64, capacity),
		ask:              make([]float64, capacity),
		funding:          make([]float64, capacity),
		depthBid:         make([]float64, capacity),
		depthAsk:         make([]float64, capacity),
		receivedAtMicros: make([]int64, capacity),
		hasFunding:       make([]bool, capacity),
		hasDepth:         make([]bool, capacity),
		present:          make([]bool, capacity),
	}
}

// Apply updates the state for one symbol in place. Only called by the
// detector thread. Returns false (and does nothing) if the update is
// malformed (bid > ask), per the "count, skip, continue" policy of §7.
func (s *Store) Apply(u *model.MarketUpdate) bool {
	if !u.Valid() {
		return false
	}
	i := int(u.SymbolId)
	if i <= 0 || i >= len(s.bid) {
		return false
	}
	s.bid[i] = u.Bid
	s.ask[i] = u.Ask
	s.receivedAtMicros[i] = u.TsMicros
	if u.HasFunding {
		s.funding[i] = u.FundingRate
		s.hasFunding[i] = true
	}
	if u.HasDepth {
		s.depthBid[i] = u.DepthBid
		s.depthAsk[i] = u.DepthAsk
		s.hasDepth[i] = true
	}
	s.present[i] = true
	return true
}

// Get returns a copy of the current state for a symbol.
func (s *Store) Get(id model.SymbolId) Quote {
	i := int(id)
	if i <= 0 || i >= len(s.bid) {
		return Quote{}
	}
	if !s.present[i] {
		return Quote{}
	}
	return Quote{
		Bid:         s.bid[i],
		Ask:         s.ask[i],
		FundingRate: s.funding[i],
		DepthBid:    s.depthBid[i],
		DepthAsk:    s.depthAsk[i],
		ReceivedAt:  time.UnixMicro(s.receivedAtMicros[i]),
		HasFunding:  s.hasFunding[i],
		HasDepth:    s.hasDepth[i],
		present:     true,
	}
}
