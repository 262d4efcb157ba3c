package portfolio

import (
	"math/rand"
	"testing"

	"arbitrage/internal/model"
)

func openedPosition(symbol model.TradingSymbol, size float64) *model.Position {
	return &model.Position{
		TradeId: string(symbol),
		Symbol:  symbol,
		Status:  model.Active,
		Long:    model.Leg{Venue: model.VenueA, EntryPrice: 100, Size: size},
		Short:   model.Leg{Venue: model.VenueB, EntryPrice: 101, Size: size},
	}
}

func TestLedgerOpenDeductsAvailableCapital(t *testing.T) {
	l := New(10000)
	pos := openedPosition("BTC-PERP", 1000)

	if err := l.Open(pos, 1000); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := l.AvailableCapital(); got != 9000 {
		t.Errorf("AvailableCapital() = %v, want 9000", got)
	}
	if !l.HasOpenPosition("BTC-PERP") {
		t.Error("HasOpenPosition(BTC-PERP) = false, want true")
	}
}

func TestLedgerRejectsDuplicateSymbol(t *testing.T) {
	l := New(10000)
	if err := l.Open(openedPosition("BTC-PERP", 1000), 1000); err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	if err := l.Open(openedPosition("BTC-PERP", 500), 500); err == nil {
		t.Error("second Open() for the same symbol should fail (spec §8 no duplicate symbols)")
	}
	if got := l.AvailableCapital(); got != 9000 {
		t.Errorf("AvailableCapital() after rejected duplicate = %v, want unchanged 9000", got)
	}
}

func TestLedgerCloseRestoresCapitalAndRecordsWinLoss(t *testing.T) {
	l := New(10000)
	pos := openedPosition("BTC-PERP", 1000)
	if err := l.Open(pos, 1000); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := l.Close("BTC-PERP", 1000, 50); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if l.HasOpenPosition("BTC-PERP") {
		t.Error("position should no longer be open after Close()")
	}
	if got := l.AvailableCapital(); got != 10050 {
		t.Errorf("AvailableCapital() = %v, want 10050", got)
	}
	snap := l.Snapshot()
	if snap.Wins != 1 || snap.Losses != 0 {
		t.Errorf("win/loss = %d/%d, want 1/0", snap.Wins, snap.Losses)
	}
	if snap.RealizedPnl != 50 {
		t.Errorf("RealizedPnl = %v, want 50", snap.RealizedPnl)
	}
}

func TestLedgerCloseRecordsLoss(t *testing.T) {
	l := New(10000)
	if err := l.Open(openedPosition("ETH-PERP", 500), 500); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := l.Close("ETH-PERP", 500, -20); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	snap := l.Snapshot()
	if snap.Wins != 0 || snap.Losses != 1 {
		t.Errorf("win/loss = %d/%d, want 0/1", snap.Wins, snap.Losses)
	}
}

func TestLedgerCloseUnknownSymbolFails(t *testing.T) {
	l := New(10000)
	if err := l.Close("BTC-PERP", 100, 0); err == nil {
		t.Error("Close() on a symbol with no open position should fail")
	}
}

func TestLedgerRecordLegOut(t *testing.T) {
	l := New(10000)
	l.RecordLegOut(12.5)
	l.RecordLegOut(4.0)
	snap := l.Snapshot()
	if snap.LegOutCount != 2 {
		t.Errorf("LegOutCount = %d, want 2", snap.LegOutCount)
	}
	if snap.LegOutLossTotal != 16.5 {
		t.Errorf("LegOutLossTotal = %v, want 16.5", snap.LegOutLossTotal)
	}
}

// TestLedgerCapitalConservationUnderChurn is spec §8 Scenario 6: 100
// open/close cycles mixing profits and losses must never violate
// available_capital + sum(open sizes) == starting_capital + realized_pnl.
func TestLedgerCapitalConservationUnderChurn(t *testing.T) {
	const startingCapital = 100000.0
	l := New(startingCapital)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 100; i++ {
		symbol := model.TradingSymbol("SYM")
		size := 100 + rng.Float64()*400
		if err := l.Open(openedPosition(symbol, size), size); err != nil {
			t.Fatalf("cycle %d: Open() error = %v", i, err)
		}

		pnl := (rng.Float64() - 0.5) * 40 // +/- 20
		if err := l.Close(symbol, size, pnl); err != nil {
			t.Fatalf("cycle %d: Close() error = %v", i, err)
		}

		snap := l.Snapshot()
		var openSize float64
		for _, p := range l.OpenPositions() {
			openSize += p.Long.Size
		}
		lhs := snap.AvailableCapital + openSize
		rhs := snap.StartingCapital + snap.RealizedPnl
		if diff := lhs - rhs; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("cycle %d: capital conservation violated: lhs=%v rhs=%v", i, lhs, rhs)
		}
	}

	if got := l.Snapshot().ClosedTrades; got != 100 {
		t.Errorf("ClosedTrades = %d, want 100", got)
	}
}

func TestLedgerSnapshotIsACopy(t *testing.T) {
	l := New(10000)
	snap1 := l.Snapshot()
	if err := l.Open(openedPosition("BTC-PERP", 100), 100); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if snap1.AvailableCapital != 10000 {
		t.Error("earlier snapshot must not observe later mutations")
	}
}
