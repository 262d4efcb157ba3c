// Package portfolio is the single-writer ledger owned exclusively by the
// strategy thread: available capital, the open-position set keyed by
// symbol, the closed-trade log, and win/loss/leg-out counters.
//
// Grounded on svyatogor45-abitrage's internal/models/pair_runtime.go
// (RealizedPnl/TotalPnl accumulation) and internal/bot/engine.go's
// PairState, generalised from a fixed pair-of-exchanges runtime into the
// portfolio-wide ledger spec §4.7 describes (none of the teacher's files
// had an equivalent whole-portfolio structure to adapt directly).
package portfolio

import (
	"fmt"

	"arbitrage/internal/apperr"
	"arbitrage/internal/model"
	"arbitrage/internal/telemetry"
)

// ErrInvariantViolation is the panic-class error from spec §4.7/§7: the
// capital-conservation invariant failed. Fatal to the process per §6.
type ErrInvariantViolation struct {
	Available float64
	OpenSize  float64
	Starting  float64
	Realized  float64
}

func (e *ErrInvariantViolation) Error() string {
	return fmt.Sprintf("capital conservation violated: available(%.8f) + open(%.8f) != starting(%.8f) + realized(%.8f)",
		e.Available, e.OpenSize, e.Starting, e.Realized)
}

const epsilon = 1e-6

// Ledger is mutated only by the strategy thread. Open and Close re-check the
// invariant before returning.
type Ledger struct {
	startingCapital  float64
	availableCapital float64
	open             map[model.TradingSymbol]*model.Position
	closed           []model.Position
	wins, losses     int
	legOutCount      int
	legOutLossTotal  float64
}

// New creates a ledger with the given starting/available capital.
func New(startingCapital float64) *Ledger {
	return &Ledger{
		startingCapital:  startingCapital,
		availableCapital: startingCapital,
		open:             make(map[model.TradingSymbol]*model.Position),
	}
}

// HasOpenPosition reports whether symbol already has an open position
// (spec §8 "no two entries with the same symbol").
func (l *Ledger) HasOpenPosition(symbol model.TradingSymbol) bool {
	_, ok := l.open[symbol]
	return ok
}

// AvailableCapital returns the current spendable capital.
func (l *Ledger) AvailableCapital() float64 {
	return l.availableCapital
}

// Open registers a newly-Active position, deducting its size from
// available capital (spec §4.5 "Portfolio update").
func (l *Ledger) Open(p *model.Position, size float64) error {
	if l.HasOpenPosition(p.Symbol) {
		return fmt.Errorf("portfolio: symbol %s already open", p.Symbol)
	}
	l.availableCapital -= size
	l.open[p.Symbol] = p
	return l.checkInvariant()
}

// RecordLegOut increments the leg-out counter and loss total for a
// position that transitioned through Hedging (spec §4.5 "Leg-out accounting").
func (l *Ledger) RecordLegOut(lossUSD float64) {
	l.legOutCount++
	l.legOutLossTotal += lossUSD
	telemetry.LegOuts.Inc()
	telemetry.LegOutLoss.Add(lossUSD)
}

// Close terminates a position: restores available capital by size +
// realized PnL, appends to the closed log, advances win/loss counters
// (spec §4.6 "On both legs closed").
func (l *Ledger) Close(symbol model.TradingSymbol, size float64, realizedPnl float64) error {
	p, ok := l.open[symbol]
	if !ok {
		return fmt.Errorf("portfolio: no open position for symbol %s", symbol)
	}
	delete(l.open, symbol)

	p.RealizedPnl = realizedPnl
	p.Status = model.Closed
	l.closed = append(l.closed, *p)

	l.availableCapital += size + realizedPnl
	if realizedPnl >= 0 {
		l.wins++
	} else {
		l.losses++
	}
	return l.checkInvariant()
}

// checkInvariant enforces spec §4.7: available_capital + sum(open sizes) ==
// starting_capital + realized_pnl. A violation is a fatal, panic-class bug:
// it is returned wrapped as *apperr.FatalError so every caller propagates it
// to the same process-exit path (SPEC_FULL.md's error-handling section)
// instead of risking local, silent recovery.
func (l *Ledger) checkInvariant() error {
	var openSize float64
	for _, p := range l.open {
		openSize += p.Long.Size
	}
	var realized float64
	for _, c := range l.closed {
		realized += c.RealizedPnl
	}

	lhs := l.availableCapital + openSize
	rhs := l.startingCapital + realized
	if diff := lhs - rhs; diff > epsilon || diff < -epsilon {
		telemetry.InvariantViolations.Inc()
		return apperr.New(apperr.ExitInvariantViolation, &ErrInvariantViolation{
			Available: l.availableCapital,
			OpenSize:  openSize,
			Starting:  l.startingCapital,
			Realized:  realized,
		})
	}
	return nil
}

// Snapshot returns an allocation-free-at-call-site copy for cold-path
// readers (spec §4.7/§6).
func (l *Ledger) Snapshot() model.PortfolioSnapshot {
	var realized float64
	for _, c := range l.closed {
		realized += c.RealizedPnl
	}
	return model.PortfolioSnapshot{
		StartingCapital:  l.startingCapital,
		AvailableCapital: l.availableCapital,
		OpenPositions:    len(l.open),
		ClosedTrades:     len(l.closed),
		RealizedPnl:      realized,
		Wins:             l.wins,
		Losses:           l.losses,
		LegOutCount:      l.legOutCount,
		LegOutLossTotal:  l.legOutLossTotal,
	}
}

// Position returns the open position for a symbol, if any.
func (l *Ledger) Position(symbol model.TradingSymbol) (*model.Position, bool) {
	p, ok := l.open[symbol]
	return p, ok
}

// OpenPositions returns every currently open position.
func (l *Ledger) OpenPositions() []*model.Position {
	out := make([]*model.Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, p)
	}
	return out
}

// ClosedPositions returns a copy of the closed-trade log.
func (l *Ledger) ClosedPositions() []model.Position {
	out := make([]model.Position, len(l.closed))
	copy(out, l.closed)
	return out
}
