package position

import (
	"testing"
	"time"

	"arbitrage/internal/market"
	"arbitrage/internal/model"
	"arbitrage/internal/registry"
)

type recordingExiter struct {
	reasons []model.ExitReason
}

func (r *recordingExiter) Exit(pos *model.Position, reason model.ExitReason) error {
	r.reasons = append(r.reasons, reason)
	pos.Status = model.Closed
	return nil
}

func newFixture(t *testing.T) (*Monitor, *market.Store, *registry.Registry, *recordingExiter) {
	t.Helper()
	reg := registry.New(0)
	idA, _ := reg.Intern(model.VenueA, "BTC-PERP")
	idB, _ := reg.Intern(model.VenueB, "BTC-PERP")

	state := market.NewStore(16)
	now := time.Now()
	// Tight (zero-width) quotes pinned exactly at basePosition's recorded
	// entry prices, so a fresh Monitor genuinely reads "flat" at these
	// fixtures instead of carrying a phantom bid/ask round-trip cost.
	state.Apply(&model.MarketUpdate{SymbolId: idA, Bid: 50001, Ask: 50001, TsMicros: now.UnixMicro()})
	state.Apply(&model.MarketUpdate{SymbolId: idB, Bid: 50260, Ask: 50260, TsMicros: now.UnixMicro()})

	exiter := &recordingExiter{}
	mon := New(state, reg, exiter)
	return mon, state, reg, exiter
}

func basePosition() *model.Position {
	return &model.Position{
		TradeId:            "t1",
		Symbol:             "BTC-PERP",
		Status:             model.Active,
		EntrySpreadBps:     51.8,
		ProjectedProfitUSD: 30,
		Long:               model.Leg{Venue: model.VenueA, EntryPrice: 50001, Size: 100, FilledAt: time.Now()},
		Short:              model.Leg{Venue: model.VenueB, EntryPrice: 50260, Size: 100, FilledAt: time.Now()},
	}
}

func TestMonitorProfitTargetFires(t *testing.T) {
	mon, state, reg, exiter := newFixture(t)
	pos := basePosition()

	idA, _ := reg.Intern(model.VenueA, "BTC-PERP")
	idB, _ := reg.Intern(model.VenueB, "BTC-PERP")
	// Long leg rallies, short leg stays near entry: a clean favourable move.
	state.Apply(&model.MarketUpdate{SymbolId: idA, Bid: 50050, Ask: 50051, TsMicros: time.Now().UnixMicro()})
	state.Apply(&model.MarketUpdate{SymbolId: idB, Bid: 50260, Ask: 50261, TsMicros: time.Now().UnixMicro()})

	mon.Tick([]*model.Position{pos})

	if len(exiter.reasons) != 1 || exiter.reasons[0] != model.ExitProfitTarget {
		t.Fatalf("want a single profit-target exit, got %v", exiter.reasons)
	}
}

func TestMonitorStopLossAbsoluteFires(t *testing.T) {
	mon, state, reg, exiter := newFixture(t)
	pos := basePosition()

	idA, _ := reg.Intern(model.VenueA, "BTC-PERP")
	idB, _ := reg.Intern(model.VenueB, "BTC-PERP")
	// Long leg craters, short leg rallies hard: a large adverse move that
	// trips the absolute stop-loss floor (rule 2) well before rule 3's
	// widening ratio is even reached, so the reason is unambiguous.
	state.Apply(&model.MarketUpdate{SymbolId: idA, Bid: 49500, Ask: 49501, TsMicros: time.Now().UnixMicro()})
	state.Apply(&model.MarketUpdate{SymbolId: idB, Bid: 50759, Ask: 50760, TsMicros: time.Now().UnixMicro()})

	mon.Tick([]*model.Position{pos})

	if len(exiter.reasons) != 1 || exiter.reasons[0] != model.ExitStopLossAbsolute {
		t.Fatalf("want exactly one absolute stop-loss exit, got %v", exiter.reasons)
	}
}

func TestMonitorStopLossWideningFires(t *testing.T) {
	mon, state, reg, exiter := newFixture(t)
	pos := basePosition()
	// Small size relative to the profit target keeps the dollar move inside
	// the absolute stop-loss floor while the bps ratio crosses 1.3x entry,
	// isolating rule 3 from rule 2.
	pos.EntrySpreadBps = 20.0
	pos.ProjectedProfitUSD = 200
	pos.Long = model.Leg{Venue: model.VenueA, EntryPrice: 50000, Size: 1, FilledAt: time.Now()}
	pos.Short = model.Leg{Venue: model.VenueB, EntryPrice: 50100, Size: 1, FilledAt: time.Now()}

	idA, _ := reg.Intern(model.VenueA, "BTC-PERP")
	idB, _ := reg.Intern(model.VenueB, "BTC-PERP")
	// Legs diverge by 20: the arb-entry spread (ask_long to bid_short)
	// widens past 1.3x entry while the exit-side PnL stays within the floor.
	state.Apply(&model.MarketUpdate{SymbolId: idA, Bid: 49980, Ask: 49980, TsMicros: time.Now().UnixMicro()})
	state.Apply(&model.MarketUpdate{SymbolId: idB, Bid: 50120, Ask: 50120, TsMicros: time.Now().UnixMicro()})

	mon.Tick([]*model.Position{pos})

	if len(exiter.reasons) != 1 || exiter.reasons[0] != model.ExitStopLossWidening {
		t.Fatalf("want exactly one widening stop-loss exit, got %v", exiter.reasons)
	}
}

func TestMonitorFundingConvergenceFires(t *testing.T) {
	mon, state, reg, exiter := newFixture(t)
	pos := &model.Position{
		TradeId:            "t2",
		Symbol:             "BTC-PERP",
		Status:             model.Active,
		EntrySpreadBps:     20,
		ProjectedProfitUSD: 100,
		EntryFundingDelta:  0.002,
		Long:               model.Leg{Venue: model.VenueA, EntryPrice: 50000, Size: 1, FilledAt: time.Now()},
		Short:              model.Leg{Venue: model.VenueB, EntryPrice: 50000, Size: 1, FilledAt: time.Now()},
	}

	idA, _ := reg.Intern(model.VenueA, "BTC-PERP")
	idB, _ := reg.Intern(model.VenueB, "BTC-PERP")
	// Quotes flat (no PnL move); funding delta has collapsed to 2.5% of its
	// entry value, well inside the 20%-of-entry convergence threshold.
	state.Apply(&model.MarketUpdate{SymbolId: idA, Bid: 50000, Ask: 50000, FundingRate: 0.0001, HasFunding: true, TsMicros: time.Now().UnixMicro()})
	state.Apply(&model.MarketUpdate{SymbolId: idB, Bid: 50000, Ask: 50000, FundingRate: 0.00005, HasFunding: true, TsMicros: time.Now().UnixMicro()})

	mon.Tick([]*model.Position{pos})

	if len(exiter.reasons) != 1 || exiter.reasons[0] != model.ExitFundingConvergence {
		t.Fatalf("want a funding convergence exit, got %v", exiter.reasons)
	}
}

func TestMonitorNegativeFundingPersistenceFires(t *testing.T) {
	mon, state, reg, _ := newFixture(t)
	pos := &model.Position{
		TradeId:            "t3",
		Symbol:             "BTC-PERP",
		Status:             model.Active,
		EntrySpreadBps:     20,
		ProjectedProfitUSD: 100,
		EntryFundingDelta:  0.002, // entered favouring long (long funding > short funding)
		Long:               model.Leg{Venue: model.VenueA, EntryPrice: 50000, Size: 1, FilledAt: time.Now()},
		Short:              model.Leg{Venue: model.VenueB, EntryPrice: 50000, Size: 1, FilledAt: time.Now()},
	}

	idA, _ := reg.Intern(model.VenueA, "BTC-PERP")
	idB, _ := reg.Intern(model.VenueB, "BTC-PERP")
	// Funding flips against the entry direction (short funding now exceeds
	// long) and stays well outside the convergence band.
	state.Apply(&model.MarketUpdate{SymbolId: idA, Bid: 50000, Ask: 50000, FundingRate: -0.001, HasFunding: true, TsMicros: time.Now().UnixMicro()})
	state.Apply(&model.MarketUpdate{SymbolId: idB, Bid: 50000, Ask: 50000, FundingRate: 0.001, HasFunding: true, TsMicros: time.Now().UnixMicro()})

	t1 := time.Now()
	if _, fired := mon.evaluate(pos, t1); fired {
		t.Fatalf("negative funding exit must not fire before persisting two funding cycles")
	}

	t2 := t1.Add(2*FundingCycle + time.Minute)
	reason, fired := mon.evaluate(pos, t2)
	if !fired || reason != model.ExitNegativeFunding {
		t.Fatalf("want a negative-funding exit after two cycles of persistence, got %v (fired=%v)", reason, fired)
	}
}

func TestMonitorNegativeFundingResetsWhenFavourableAgain(t *testing.T) {
	mon, state, reg, _ := newFixture(t)
	pos := &model.Position{
		TradeId:            "t4",
		Symbol:             "BTC-PERP",
		Status:             model.Active,
		EntrySpreadBps:     20,
		ProjectedProfitUSD: 100,
		EntryFundingDelta:  0.002,
		Long:               model.Leg{Venue: model.VenueA, EntryPrice: 50000, Size: 1, FilledAt: time.Now()},
		Short:              model.Leg{Venue: model.VenueB, EntryPrice: 50000, Size: 1, FilledAt: time.Now()},
	}

	idA, _ := reg.Intern(model.VenueA, "BTC-PERP")
	idB, _ := reg.Intern(model.VenueB, "BTC-PERP")

	t1 := time.Now()
	state.Apply(&model.MarketUpdate{SymbolId: idA, Bid: 50000, Ask: 50000, FundingRate: -0.001, HasFunding: true, TsMicros: t1.UnixMicro()})
	state.Apply(&model.MarketUpdate{SymbolId: idB, Bid: 50000, Ask: 50000, FundingRate: 0.001, HasFunding: true, TsMicros: t1.UnixMicro()})
	if _, fired := mon.evaluate(pos, t1); fired {
		t.Fatalf("unexpected exit on first unfavourable tick")
	}

	// Funding flips back to favour the entry direction before the two-cycle
	// window elapses.
	t2 := t1.Add(time.Hour)
	state.Apply(&model.MarketUpdate{SymbolId: idA, Bid: 50000, Ask: 50000, FundingRate: 0.001, HasFunding: true, TsMicros: t2.UnixMicro()})
	state.Apply(&model.MarketUpdate{SymbolId: idB, Bid: 50000, Ask: 50000, FundingRate: -0.001, HasFunding: true, TsMicros: t2.UnixMicro()})
	if _, fired := mon.evaluate(pos, t2); fired {
		t.Fatalf("unexpected exit once funding turned favourable again")
	}

	// Even past the original two-cycle window, the persistence timer must
	// have reset rather than firing on stale state.
	t3 := t1.Add(2*FundingCycle + time.Minute)
	if _, fired := mon.evaluate(pos, t3); fired {
		t.Fatalf("negative-funding timer must reset once funding is favourable, not persist across the flip")
	}
}

func TestMonitorNoExitWhenFlat(t *testing.T) {
	mon, _, _, exiter := newFixture(t)
	pos := basePosition()

	mon.Tick([]*model.Position{pos})

	if len(exiter.reasons) != 0 {
		t.Fatalf("expected no exit at entry prices, got %v", exiter.reasons)
	}
}

func TestMonitorSkipsClosedPositions(t *testing.T) {
	mon, _, _, exiter := newFixture(t)
	pos := basePosition()
	pos.Status = model.Closed

	mon.Tick([]*model.Position{pos})

	if len(exiter.reasons) != 0 {
		t.Fatalf("closed positions must never be re-evaluated, got %v", exiter.reasons)
	}
}

func TestMonitorLegOutGuardFiresOnStuckHedge(t *testing.T) {
	mon, _, _, exiter := newFixture(t)
	pos := basePosition()
	pos.Status = model.Hedging
	pos.Long.FilledAt = time.Now().Add(-time.Second)
	pos.Short.FilledAt = time.Now().Add(-time.Second)

	mon.Tick([]*model.Position{pos})

	if len(exiter.reasons) != 1 || exiter.reasons[0] != model.ExitLegOutGuard {
		t.Fatalf("want leg-out guard exit, got %v", exiter.reasons)
	}
}
