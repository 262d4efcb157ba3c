// Package sim is a simulated ("paper mode") venue Capability standing in
// for the explicitly out-of-scope real connectors, sufficient to drive the
// six end-to-end scenarios of spec §8 from tests and from the reference
// cmd/core binary.
//
// Implements the queue-position simulation of spec §4.5/Glossary: a
// simulated limit fill is recognised only once cumulative traded volume at
// the order's price exceeds 20% of the resting depth observed at
// submission (spec §9's open question adopts strict ">").
package sim

import (
	"context"
	"sync"
	"time"

	"arbitrage/internal/model"
	"arbitrage/internal/venue"
)

const queuePositionThreshold = 0.20

// defaultQtyStep is the lot-size increment used when a symbol has no
// per-symbol step configured, matching the 0.001 BTC example in
// pkg/utils/math.go's RoundToLotSize doc comment.
const defaultQtyStep = 0.001

// SteadyFill is a default FillBehavior for the reference binary: it reports
// resting depth as fully traded through after a short, fixed delay, so
// limit orders eventually clear the queue-position gate instead of sitting
// forever (useful for exercising the pipeline without a real market feed).
func SteadyFill(symbol string, side venue.OrderSide, kind venue.OrderKind, price, size float64, elapsed time.Duration) float64 {
	if elapsed < 20*time.Millisecond {
		return 0
	}
	return size * 10
}

// Venue is a deterministic, test-controllable simulated venue.
type Venue struct {
	id model.VenueId

	mu           sync.Mutex
	restingBid   map[string]float64
	restingAsk   map[string]float64
	qtyStep      map[string]float64
	fillBehavior FillBehavior
}

// FillBehavior lets tests script how resting orders fill over time.
// traded reports cumulative volume traded at price since submission.
type FillBehavior func(symbol string, side venue.OrderSide, kind venue.OrderKind, price, size float64, elapsed time.Duration) (tradedAtPrice float64)

// New creates a simulated venue. behavior may be nil, in which case limit
// orders never fill and market orders fill instantly at the quoted price.
func New(id model.VenueId, behavior FillBehavior) *Venue {
	return &Venue{
		id:           id,
		restingBid:   make(map[string]float64),
		restingAsk:   make(map[string]float64),
		qtyStep:      make(map[string]float64),
		fillBehavior: behavior,
	}
}

// SetQtyStep overrides the lot-size increment QtyStep reports for
// symbol; unset symbols fall back to defaultQtyStep.
func (v *Venue) SetQtyStep(symbol string, step float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.qtyStep[symbol] = step
}

// QtyStep implements venue.Capability.
func (v *Venue) QtyStep(symbol string) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if step, ok := v.qtyStep[symbol]; ok {
		return step
	}
	return defaultQtyStep
}

// SetRestingDepth sets the depth RestingDepth reports for a symbol/side.
func (v *Venue) SetRestingDepth(symbol string, side venue.OrderSide, depth float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if side == venue.Buy {
		v.restingBid[symbol] = depth
	} else {
		v.restingAsk[symbol] = depth
	}
}

func (v *Venue) RestingDepth(symbol string, side venue.OrderSide) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if side == venue.Buy {
		return v.restingBid[symbol]
	}
	return v.restingAsk[symbol]
}

func (v *Venue) Name() model.VenueId { return v.id }

func (v *Venue) Cancel(ctx context.Context, symbol string) error { return nil }

// Submit blocks until the deadline, the order fills, or ctx is cancelled.
// Market orders fill immediately. Limit orders poll fillBehavior and apply
// the 20%-of-resting-depth queue-position gate.
func (v *Venue) Submit(ctx context.Context, symbol string, side venue.OrderSide, kind venue.OrderKind, price, size float64, deadline time.Time) (venue.Outcome, error) {
	submittedAt := time.Now()

	if kind == venue.Market {
		return venue.Outcome{Kind: venue.Filled, Price: price, FilledSize: size, Time: time.Now()}, nil
	}

	depth := v.RestingDepth(symbol, side)
	if depth <= 0 {
		depth = size * 10 // sane default so the gate is reachable in tests that don't set depth
	}
	required := depth * queuePositionThreshold

	// lastPartial tracks the most recent fraction of size the queue-position
	// gate would have let through, for the case the deadline hits before the
	// full-fill threshold is crossed: the order reports whatever partial
	// volume had traded, rather than a bare NotFilled (spec §6 egress
	// contract's partial-fill case).
	var lastPartial float64
	timeoutOutcome := func(at time.Time) venue.Outcome {
		if lastPartial <= 0 {
			return venue.Outcome{Kind: venue.NotFilled, Time: at}
		}
		return venue.Outcome{Kind: venue.PartiallyFilled, Price: price, FilledSize: lastPartial, Time: at}
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// The caller's context carries the same deadline passed to us
			// explicitly, so a deadline-exceeded Done() is a normal timeout,
			// not a venue error: report NotFilled/PartiallyFilled so the
			// entry state machine takes the cancel-and-discard (or
			// resubmit-once) path (spec §4.5), not the unrecoverable-error
			// path. Only a genuine early cancellation (any other ctx error)
			// is reported as Cancelled.
			if ctx.Err() == context.DeadlineExceeded {
				return timeoutOutcome(time.Now()), nil
			}
			return venue.Outcome{Kind: venue.Cancelled, Time: time.Now()}, ctx.Err()
		case now := <-ticker.C:
			if v.fillBehavior != nil {
				traded := v.fillBehavior(symbol, side, kind, price, size, now.Sub(submittedAt))
				if traded > required {
					return venue.Outcome{Kind: venue.Filled, Price: price, FilledSize: size, Time: now}, nil
				}
				if required > 0 {
					partial := size * (traded / required)
					if partial > size {
						partial = size
					}
					lastPartial = partial
				}
			}
			if !now.Before(deadline) {
				return timeoutOutcome(now), nil
			}
		}
	}
}
