package market

import (
	"testing"
	"time"

	"arbitrage/internal/model"
)

func TestApplyUpdatesBasicFields(t *testing.T) {
	s := NewStore(8)
	u := &model.MarketUpdate{
		SymbolId: 1,
		Bid:      100,
		Ask:      100.5,
		TsMicros: time.Now().UnixMicro(),
	}
	if ok := s.Apply(u); !ok {
		t.Fatal("Apply() = false, want true for a well-formed update")
	}

	q := s.Get(1)
	if !q.Present() {
		t.Fatal("Get() Present() = false after Apply()")
	}
	if q.Bid != 100 || q.Ask != 100.5 {
		t.Errorf("Get() bid/ask = %v/%v, want 100/100.5", q.Bid, q.Ask)
	}
	if q.HasFunding || q.HasDepth {
		t.Error("HasFunding/HasDepth should be false when the update carried neither")
	}
}

func TestApplyRejectsMalformedUpdate(t *testing.T) {
	s := NewStore(8)
	// bid > ask is malformed per Valid().
	u := &model.MarketUpdate{SymbolId: 1, Bid: 101, Ask: 100, TsMicros: time.Now().UnixMicro()}
	if ok := s.Apply(u); ok {
		t.Error("Apply() = true for bid > ask, want false (malformed update skipped)")
	}
	if s.Get(1).Present() {
		t.Error("state must remain unset after a rejected malformed update")
	}
}

func TestApplyOutOfRangeSymbolIdIsRejected(t *testing.T) {
	s := NewStore(4)
	u := &model.MarketUpdate{SymbolId: 10, Bid: 1, Ask: 2, TsMicros: time.Now().UnixMicro()}
	if ok := s.Apply(u); ok {
		t.Error("Apply() with an out-of-range symbol id should return false")
	}
}

func TestApplyCarriesOptionalFundingAndDepth(t *testing.T) {
	s := NewStore(8)
	u := &model.MarketUpdate{
		SymbolId:    2,
		Bid:         10,
		Ask:         10.1,
		TsMicros:    time.Now().UnixMicro(),
		FundingRate: 0.0001,
		DepthBid:    500,
		DepthAsk:    450,
		HasFunding:  true,
		HasDepth:    true,
	}
	if ok := s.Apply(u); !ok {
		t.Fatal("Apply() = false, want true")
	}
	q := s.Get(2)
	if !q.HasFunding || q.FundingRate != 0.0001 {
		t.Errorf("funding not carried through: HasFunding=%v FundingRate=%v", q.HasFunding, q.FundingRate)
	}
	if !q.HasDepth || q.DepthBid != 500 || q.DepthAsk != 450 {
		t.Errorf("depth not carried through: HasDepth=%v DepthBid=%v DepthAsk=%v", q.HasDepth, q.DepthBid, q.DepthAsk)
	}
}

// TestApplyPreservesFundingAndDepthAcrossUpdatesWithoutThem reproduces the
// common case of a pure bid/ask tick arriving after a funding/depth-bearing
// update: the prior funding/depth reading must stick (spec §3 "last known").
func TestApplyPreservesFundingAndDepthAcrossUpdatesWithoutThem(t *testing.T) {
	s := NewStore(8)
	first := &model.MarketUpdate{
		SymbolId: 3, Bid: 10, Ask: 10.1, TsMicros: time.Now().UnixMicro(),
		FundingRate: 0.0002, DepthBid: 300, DepthAsk: 280,
		HasFunding: true, HasDepth: true,
	}
	s.Apply(first)

	second := &model.MarketUpdate{SymbolId: 3, Bid: 11, Ask: 11.1, TsMicros: time.Now().UnixMicro()}
	s.Apply(second)

	q := s.Get(3)
	if q.Bid != 11 || q.Ask != 11.1 {
		t.Errorf("bid/ask not updated by the second tick: got %v/%v", q.Bid, q.Ask)
	}
	if !q.HasFunding || q.FundingRate != 0.0002 {
		t.Error("funding reading should persist across an update that carries none")
	}
	if !q.HasDepth || q.DepthBid != 300 {
		t.Error("depth reading should persist across an update that carries none")
	}
}

func TestQuoteStalenessThreshold(t *testing.T) {
	now := time.Now()
	fresh := Quote{present: true, ReceivedAt: now.Add(-StaleAfter + time.Second)}
	if fresh.Stale(now) {
		t.Error("quote just under StaleAfter should not be stale")
	}

	stale := Quote{present: true, ReceivedAt: now.Add(-StaleAfter - time.Second)}
	if !stale.Stale(now) {
		t.Error("quote past StaleAfter should be stale")
	}

	absent := Quote{}
	if !absent.Stale(now) {
		t.Error("a never-applied quote must report stale")
	}
}

func TestGetUnknownSymbolReturnsAbsentQuote(t *testing.T) {
	s := NewStore(4)
	q := s.Get(1)
	if q.Present() {
		t.Error("Get() on a symbol with no prior Apply() must report Present()=false")
	}
}

func TestGetOutOfRangeIdReturnsAbsentQuote(t *testing.T) {
	s := NewStore(4)
	q := s.Get(model.SymbolId(99))
	if q.Present() {
		t.Error("Get() with an out-of-range id must report Present()=false, not panic")
	}
}
