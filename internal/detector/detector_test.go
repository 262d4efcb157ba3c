package detector

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"arbitrage/internal/market"
	"arbitrage/internal/model"
	"arbitrage/internal/registry"
	"arbitrage/internal/ring"
)

func newTestDetector(t *testing.T) (*Detector, *registry.Registry, model.SymbolId, model.SymbolId) {
	t.Helper()
	reg := registry.New(0)
	idA, err := reg.Intern(model.VenueA, "BTC-PERP")
	if err != nil {
		t.Fatal(err)
	}
	idB, err := reg.Intern(model.VenueB, "BTC-PERP")
	if err != nil {
		t.Fatal(err)
	}

	state := market.NewStore(16)
	ingress := ring.NewSPSC[model.MarketUpdate](16)
	opps := ring.NewSPMC[model.Opportunity](16)
	log := zap.NewNop().Sugar()

	cfg := DefaultConfig()
	d := New(cfg, reg, state, ingress, opps, log)
	return d, reg, idA, idB
}

func TestHappyPathEmitsOpportunity(t *testing.T) {
	d, _, idA, idB := newTestDetector(t)
	cursor := d.opps.NewCursor()

	now := time.Now()
	d.ProcessUpdate(&model.MarketUpdate{
		SymbolId: idA, Bid: 50000, Ask: 50001, TsMicros: now.UnixMicro(),
		FundingRate: 0.0005, HasFunding: true,
		DepthBid: 10000, DepthAsk: 10000, HasDepth: true,
	})
	d.ProcessUpdate(&model.MarketUpdate{
		SymbolId: idB, Bid: 50260, Ask: 50261, TsMicros: now.UnixMicro(),
		FundingRate: 0.0001, HasFunding: true,
		DepthBid: 10000, DepthAsk: 10000, HasDepth: true,
	})

	opp, ok := cursor.Pop()
	if !ok {
		t.Fatal("expected an opportunity to be emitted")
	}
	if opp.LongVenue != model.VenueA || opp.ShortVenue != model.VenueB {
		t.Fatalf("want long=A short=B, got long=%v short=%v", opp.LongVenue, opp.ShortVenue)
	}
	if opp.Confidence < 70 {
		t.Fatalf("want confidence >= 70, got %f", opp.Confidence)
	}
	if opp.ProjectedProfitBps <= 0 {
		t.Fatalf("want positive projected profit, got %f", opp.ProjectedProfitBps)
	}
}

func TestStaleVenueYieldsNoOpportunity(t *testing.T) {
	d, _, idA, idB := newTestDetector(t)
	cursor := d.opps.NewCursor()

	staleTime := time.Now().Add(-6 * time.Second)
	d.state.Apply(&model.MarketUpdate{SymbolId: idA, Bid: 50000, Ask: 50001, TsMicros: staleTime.UnixMicro()})
	d.ProcessUpdate(&model.MarketUpdate{
		SymbolId: idB, Bid: 50260, Ask: 50261, TsMicros: time.Now().UnixMicro(),
	})

	if _, ok := cursor.Pop(); ok {
		t.Fatal("expected no opportunity when one venue is stale")
	}
}

func TestMalformedUpdateSkipped(t *testing.T) {
	d, _, idA, _ := newTestDetector(t)
	d.ProcessUpdate(&model.MarketUpdate{SymbolId: idA, Bid: 100, Ask: 99}) // bid > ask
	if d.MalformedCount() != 1 {
		t.Fatalf("want 1 malformed, got %d", d.MalformedCount())
	}
	if d.state.Get(idA).Present() {
		t.Fatal("malformed update must not alter market state")
	}
}

func TestSpreadExactlyAtMinimumIsRejected(t *testing.T) {
	// spread_bps computed to equal exactly MinSpreadBps (10) must be rejected
	// (spec §8 boundary: "spread_bps exactly at min_spread_bps -> rejected").
	d, _, idA, idB := newTestDetector(t)
	cursor := d.opps.NewCursor()

	now := time.Now()
	longAsk := 50000.0
	shortBid := 50050.0 // (shortBid-longAsk)/longAsk*10000: spreadBps == 10 exactly

	d.ProcessUpdate(&model.MarketUpdate{
		SymbolId: idA, Bid: longAsk - 1, Ask: longAsk, TsMicros: now.UnixMicro(),
	})
	d.ProcessUpdate(&model.MarketUpdate{
		SymbolId: idB, Bid: shortBid, Ask: shortBid + 1, TsMicros: now.UnixMicro(),
	})

	if _, ok := cursor.Pop(); ok {
		t.Fatal("spread exactly at MinSpreadBps must be rejected, not accepted")
	}
}

func TestConfidenceExactlyAtSeventyIsAccepted(t *testing.T) {
	// 70 = 100*(0.5*spreadScore + 0.3*fundingScore + 0.2), solved for
	// spreadScore=0.8, fundingScore=1/3 exactly.
	p := ConfidenceParams{SpreadNormBps: 40, FundingNormFrac: 0.0003}
	spreadBps := 32.0               // spreadScore = 32/40 = 0.8
	fundingDelta := 0.0001          // fundingScore = 0.0001/0.0003 = 1/3
	c := Confidence(spreadBps, fundingDelta, p)
	if c < 69.999 || c > 70.001 {
		t.Fatalf("want confidence ~70, got %f", c)
	}
	if !(c >= 70) {
		t.Fatal("confidence exactly at 70 must be accepted")
	}
}

func TestProjectedProfitExactlyZeroIsRejected(t *testing.T) {
	// Constructed so every term of projected = spreadBps - fees - slippage -
	// fundingCost cancels exactly: fees(A)+fees(B) = 10, slippage = 5 (no
	// depth quoted, so SlippageBps's depth<=0 branch returns its 5bps cap),
	// fundingCost = fundingDelta*10000 = 4, spreadBps = 19, leaving
	// projected == 0 (spec §8: "projected profit exactly zero -> rejected,
	// strict > required"). spreadBps=19 and fundingDelta=0.0004 also clear
	// the confidence floor, so profit is the only gate left to fail.
	d, _, idA, idB := newTestDetector(t)
	cursor := d.opps.NewCursor()

	now := time.Now()
	longAsk := 50000.0
	shortBid := longAsk * (1 + 19.0/10000)

	d.ProcessUpdate(&model.MarketUpdate{
		SymbolId: idA, Bid: longAsk - 1, Ask: longAsk, TsMicros: now.UnixMicro(),
		FundingRate: 0.0005, HasFunding: true,
	})
	d.ProcessUpdate(&model.MarketUpdate{
		SymbolId: idB, Bid: shortBid, Ask: shortBid + 1, TsMicros: now.UnixMicro(),
		FundingRate: 0.0001, HasFunding: true,
	})

	if _, ok := cursor.Pop(); ok {
		t.Fatal("projected profit exactly zero must be rejected (strict > required)")
	}
}
