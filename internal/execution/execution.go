// Package execution is the atomic dual-leg entry/exit core of spec §4.5:
// admission checks, harder-leg-first limit entry, easier-leg follow-up,
// timeout-bounded market-hedge leg-out, and portfolio update on success.
//
// Grounded on svyatogor45-abitrage's internal/bot/order.go
// (OrderExecutor.ExecuteParallel's goroutine-dispatch/rollback idiom and
// OrderValidator's quantity rounding) and internal/bot/state_machine.go
// (ValidTransitions table), restructured from the teacher's simultaneous
// parallel-market-order dispatch into the spec's sequential
// harder-then-easier state machine with timeout-triggered hedging.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arbitrage/internal/apperr"
	"arbitrage/internal/market"
	"arbitrage/internal/model"
	"arbitrage/internal/portfolio"
	"arbitrage/internal/registry"
	"arbitrage/internal/telemetry"
	"arbitrage/internal/venue"
	"arbitrage/pkg/retry"
	"arbitrage/pkg/utils"
)

// partialFillAcceptRatio mirrors the queue-position threshold of the
// egress contract (spec §6/§9): a partial fill counts once it reaches 20%
// of the order's requested size; otherwise it is cancelled and the
// unfilled remainder is resubmitted exactly once before falling back to
// the timeout/discard path.
const partialFillAcceptRatio = 0.20

// Deadline is the per-leg fill deadline from spec §4.5/§5.
const Deadline = 500 * time.Millisecond

// MinPositionSize is the floor in the sizing formula of spec §4.5.
const MinPositionSize = 100

// RejectReason names an admission-check failure for the counters in §6.
type RejectReason string

const (
	ReasonSymbolAlreadyOpen RejectReason = "symbol_already_open"
	ReasonInsufficientCap   RejectReason = "insufficient_capital"
	ReasonQuoteStaleOrGone  RejectReason = "quote_stale_or_gone"
	ReasonHarderLegTimeout  RejectReason = "harder_leg_timeout"
	ReasonHarderLegError    RejectReason = "harder_leg_error"
)

// EventSink receives the append-only persistence events of spec §6. The
// persistence package provides an async, buffered implementation; tests may
// use a simple slice-collecting stub.
type EventSink interface {
	Append(model.Event)
}

// Engine is the strategy-thread-owned execution core. It is not safe for
// concurrent use from more than one goroutine — per spec §5, the strategy
// thread is the sole caller.
type Engine struct {
	ledger  *portfolio.Ledger
	venues  *venue.Registry
	reg     *registry.Registry
	state   *market.Store
	sink    EventSink
	log     *zap.SugaredLogger
	hedgeRetry retry.Config
}

// New constructs an execution Engine.
func New(ledger *portfolio.Ledger, venues *venue.Registry, reg *registry.Registry, state *market.Store, sink EventSink, log *zap.SugaredLogger) *Engine {
	return &Engine{
		ledger: ledger,
		venues: venues,
		reg:    reg,
		state:  state,
		sink:   sink,
		log:    log,
		hedgeRetry: retry.Config{
			MaxRetries:   4, // first attempt plus three retries after 50, 100 and 200ms
			InitialDelay: 50 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     200 * time.Millisecond,
		},
	}
}

// Enter runs the admission checks and, if they pass, the dual-leg entry
// state machine for one opportunity. Returns the resulting Position (status
// Active or Hedging) or nil with a recorded rejection reason.
func (e *Engine) Enter(opp model.Opportunity) (*model.Position, error) {
	size, reason, err := e.admit(opp)
	if err != nil {
		telemetry.AdmissionRejections.WithLabelValues(string(reason)).Inc()
		e.sink.Append(model.Event{Kind: model.EventRejected, Symbol: opp.Symbol, Reason: string(reason), Timestamp: time.Now()})
		return nil, err
	}

	_, harderIsLong := e.harderLeg(opp)

	pos := &model.Position{
		TradeId:        uuid.NewString(),
		Symbol:         opp.Symbol,
		Status:         model.PendingHarder,
		EntrySpreadBps: opp.SpreadBps,
		EntryFundingDelta: opp.FundingDelta8h,
		OpenedAt:       time.Now(),
		Long:           model.Leg{Venue: opp.LongVenue, EntryPrice: opp.LongAsk, Size: size},
		Short:          model.Leg{Venue: opp.ShortVenue, EntryPrice: opp.ShortBid, Size: size},
	}

	symbolText := string(opp.Symbol)

	hardCap, hardOk := e.venues.Get(pickVenue(opp, harderIsLong, true))
	easyCap, easyOk := e.venues.Get(pickVenue(opp, harderIsLong, false))
	if !hardOk || !easyOk {
		return nil, fmt.Errorf("execution: venue capability not registered")
	}

	hardSide, hardPrice := legOrder(opp, harderIsLong, true)
	easySide, easyPrice := legOrder(opp, harderIsLong, false)

	start := time.Now()
	deadline := start.Add(Deadline)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	hardOutcome, err := e.submitWithPartialRetry(ctx, hardCap, symbolText, hardSide, hardPrice, size, deadline)
	cancel()
	if err != nil || hardOutcome.Kind == venue.Error {
		telemetry.AdmissionRejections.WithLabelValues(string(ReasonHarderLegError)).Inc()
		e.sink.Append(model.Event{Kind: model.EventRejected, Symbol: opp.Symbol, TradeId: pos.TradeId, Reason: string(ReasonHarderLegError), Timestamp: time.Now()})
		return nil, fmt.Errorf("execution: harder leg error: %v", err)
	}
	if hardOutcome.Kind == venue.NotFilled {
		_ = hardCap.Cancel(context.Background(), symbolText)
		telemetry.AdmissionRejections.WithLabelValues(string(ReasonHarderLegTimeout)).Inc()
		e.sink.Append(model.Event{Kind: model.EventRejected, Symbol: opp.Symbol, TradeId: pos.TradeId, Reason: string(ReasonHarderLegTimeout), Timestamp: time.Now()})
		return nil, nil
	}
	if hardOutcome.Kind == venue.PartiallyFilled {
		// The resubmit-once discipline still left the harder leg short of
		// the requested size: shrink the whole position to what actually
		// filled so both legs stay delta-neutral.
		size = hardOutcome.FilledSize
		pos.Long.Size = size
		pos.Short.Size = size
	}

	e.setLeg(pos, harderIsLong, true, hardOutcome)
	pos.Status = model.PendingEasier

	easyDeadline := time.Now().Add(Deadline)
	ctx2, cancel2 := context.WithDeadline(context.Background(), easyDeadline)
	easyOutcome, err := e.submitWithPartialRetry(ctx2, easyCap, symbolText, easySide, easyPrice, size, easyDeadline)
	cancel2()

	filled := 0.0
	fillPrice := easyPrice
	if err == nil && (easyOutcome.Kind == venue.Filled || easyOutcome.Kind == venue.PartiallyFilled) {
		filled = easyOutcome.FilledSize
		fillPrice = easyOutcome.Price
	}

	if filled >= size {
		e.setLeg(pos, harderIsLong, false, easyOutcome)
		pos.Status = model.Active
		return e.activate(pos, opp, size)
	}

	// Easier leg did not fully fill in time (or errored): leg-out the
	// unfilled remainder via market hedge, same discipline as the harder
	// leg's timeout case but scoped to what's actually still open.
	pos.Status = model.Hedging
	remainder := size - filled
	hedgeOutcome, hedgeErr := e.hedgeWithRetry(easyCap, symbolText, easySide, easyPrice, remainder)
	if hedgeErr != nil {
		telemetry.HedgeStuck.Inc()
		pos.LegOut = true
		e.sink.Append(model.Event{Kind: model.EventLegOut, Symbol: opp.Symbol, TradeId: pos.TradeId, Reason: "hedge_exhausted", Timestamp: time.Now()})
		// Retries exhausted with the position still partially hedged is the
		// "unrecoverable venue error during forced hedge" fatal condition of
		// spec §6/§7: surfaced as a process-fatal alert, not a local retry.
		return pos, apperr.New(apperr.ExitHedgeUnrecoverable,
			fmt.Errorf("execution: hedge exhausted, position stuck: %w", hedgeErr))
	}

	lossUSD := (hedgeOutcome.Price - easyPrice) * remainder
	if lossUSD < 0 {
		lossUSD = -lossUSD
	}
	e.ledger.RecordLegOut(lossUSD)

	blended := hedgeOutcome
	if filled > 0 {
		blended.Price = (fillPrice*filled + hedgeOutcome.Price*hedgeOutcome.FilledSize) / (filled + hedgeOutcome.FilledSize)
	}
	e.setLeg(pos, harderIsLong, false, blended)
	pos.LegOut = true
	pos.Status = model.Active
	e.sink.Append(model.Event{Kind: model.EventLegOut, Symbol: opp.Symbol, TradeId: pos.TradeId, Timestamp: time.Now()})
	return e.activate(pos, opp, size)
}

// submitWithPartialRetry submits a limit order and applies the
// resubmit-once discipline of the egress contract (spec §6/§9): a partial
// fill that already reached the queue-position threshold for its own size
// is accepted as final; otherwise the partial is cancelled and the
// unfilled remainder is resubmitted exactly once, with a fresh deadline,
// before the caller treats whatever filled as the end of this order's
// lifetime.
func (e *Engine) submitWithPartialRetry(ctx context.Context, vcap venue.Capability, symbol string, side venue.OrderSide, price, size float64, deadline time.Time) (venue.Outcome, error) {
	outcome, err := vcap.Submit(ctx, symbol, side, venue.Limit, price, size, deadline)
	if err != nil || outcome.Kind != venue.PartiallyFilled {
		return outcome, err
	}
	if outcome.FilledSize >= partialFillAcceptRatio*size {
		return outcome, nil
	}

	_ = vcap.Cancel(context.Background(), symbol)
	remainder := size - outcome.FilledSize
	resubmitDeadline := time.Now().Add(Deadline)
	ctx2, cancel2 := context.WithDeadline(context.Background(), resubmitDeadline)
	defer cancel2()
	retryOutcome, retryErr := vcap.Submit(ctx2, symbol, side, venue.Limit, price, remainder, resubmitDeadline)
	if retryErr != nil || retryOutcome.Kind == venue.Error {
		if outcome.FilledSize > 0 {
			return venue.Outcome{Kind: venue.PartiallyFilled, Price: outcome.Price, FilledSize: outcome.FilledSize, Time: outcome.Time}, nil
		}
		return retryOutcome, retryErr
	}

	total := outcome.FilledSize + retryOutcome.FilledSize
	switch retryOutcome.Kind {
	case venue.Filled:
		return venue.Outcome{Kind: venue.Filled, Price: retryOutcome.Price, FilledSize: total, Time: retryOutcome.Time}, nil
	case venue.PartiallyFilled:
		return venue.Outcome{Kind: venue.PartiallyFilled, Price: retryOutcome.Price, FilledSize: total, Time: retryOutcome.Time}, nil
	default: // NotFilled/Cancelled on the resubmit
		if outcome.FilledSize > 0 {
			return venue.Outcome{Kind: venue.PartiallyFilled, Price: outcome.Price, FilledSize: outcome.FilledSize, Time: retryOutcome.Time}, nil
		}
		return retryOutcome, nil
	}
}

func (e *Engine) activate(pos *model.Position, opp model.Opportunity, size float64) (*model.Position, error) {
	pos.ProjectedProfitUSD = opp.ProjectedProfitBps / 10000 * size
	if err := e.ledger.Open(pos, size); err != nil {
		return nil, err
	}
	telemetry.PositionsOpened.Inc()
	e.sink.Append(model.Event{Kind: model.EventTradeOpened, Symbol: opp.Symbol, TradeId: pos.TradeId, Timestamp: time.Now()})
	return pos, nil
}

// Exit closes both legs of an open position using the same dual-leg
// limit-then-market discipline as entry (spec §4.6): the harder venue's
// closing order is attempted as a limit first, with a market hedge on
// timeout, then the easier venue's closing order. On success the position
// moves to Closed and the ledger is updated with realized PnL.
func (e *Engine) Exit(pos *model.Position, reason model.ExitReason) error {
	pos.Status = model.Exiting
	pos.ExitReason = reason

	longTier := model.LiquidityTier[pos.Long.Venue]
	shortTier := model.LiquidityTier[pos.Short.Venue]
	harderIsLong := longTier <= shortTier

	symbolText := string(pos.Symbol)

	type closer struct {
		vcap  venue.Capability
		side  venue.OrderSide
		price float64
		leg   *model.Leg
	}
	order := func(isLong bool) closer {
		var leg *model.Leg
		var side venue.OrderSide
		var price float64
		if isLong {
			leg = &pos.Long
			side = venue.Sell // closing a long: sell
			price = leg.EntryPrice
		} else {
			leg = &pos.Short
			side = venue.Buy // closing a short: buy back
			price = leg.EntryPrice
		}
		vcap, _ := e.venues.Get(leg.Venue)
		return closer{vcap: vcap, side: side, price: price, leg: leg}
	}

	hard := order(harderIsLong)
	easy := order(!harderIsLong)

	closeLeg := func(c closer) (venue.Outcome, error) {
		deadline := time.Now().Add(Deadline)
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		o, err := e.submitWithPartialRetry(ctx, c.vcap, symbolText, c.side, c.price, c.leg.Size, deadline)
		cancel()
		if err == nil && o.Kind == venue.Filled {
			return o, nil
		}

		filled := 0.0
		fillPrice := c.price
		if err == nil && o.Kind == venue.PartiallyFilled {
			filled = o.FilledSize
			fillPrice = o.Price
		}

		_ = c.vcap.Cancel(context.Background(), symbolText)
		remainder := c.leg.Size - filled
		hedged, hedgeErr := e.hedgeWithRetry(c.vcap, symbolText, c.side, c.price, remainder)
		if hedgeErr != nil {
			// Same unrecoverable-hedge condition as the entry path (spec
			// §6/§7): exhausted retries on an exit leg is process-fatal too.
			return hedged, apperr.New(apperr.ExitHedgeUnrecoverable, hedgeErr)
		}
		if filled > 0 {
			hedged.Price = (fillPrice*filled + hedged.Price*hedged.FilledSize) / (filled + hedged.FilledSize)
		}
		return hedged, nil
	}

	hardOut, err := closeLeg(hard)
	if err != nil {
		return fmt.Errorf("execution: exit harder leg failed: %w", err)
	}
	hard.leg.ExitPrice = hardOut.Price
	hard.leg.FilledAt = hardOut.Time

	easyOut, err := closeLeg(easy)
	if err != nil {
		return fmt.Errorf("execution: exit easier leg failed: %w", err)
	}
	easy.leg.ExitPrice = easyOut.Price
	easy.leg.FilledAt = easyOut.Time

	realized := (pos.Long.ExitPrice-pos.Long.EntryPrice)*pos.Long.Size - (pos.Short.ExitPrice-pos.Short.EntryPrice)*pos.Short.Size

	pos.ClosedAt = time.Now()
	if err := e.ledger.Close(pos.Symbol, pos.Long.Size, realized); err != nil {
		return err
	}
	telemetry.PositionsClosed.WithLabelValues(exitReasonLabel(reason)).Inc()
	e.sink.Append(model.Event{Kind: model.EventTradeClosed, Symbol: pos.Symbol, TradeId: pos.TradeId, Timestamp: time.Now()})
	return nil
}

func exitReasonLabel(r model.ExitReason) string {
	switch r {
	case model.ExitProfitTarget:
		return "profit_target"
	case model.ExitStopLossAbsolute:
		return "stop_loss_absolute"
	case model.ExitStopLossWidening:
		return "stop_loss_widening"
	case model.ExitFundingConvergence:
		return "funding_convergence"
	case model.ExitNegativeFunding:
		return "negative_funding"
	case model.ExitLegOutGuard:
		return "leg_out_guard"
	case model.ExitManual:
		return "manual"
	default:
		return "unknown"
	}
}

func (e *Engine) hedgeWithRetry(vcap venue.Capability, symbol string, side venue.OrderSide, referencePrice, size float64) (venue.Outcome, error) {
	var out venue.Outcome
	err := retry.Do(context.Background(), func() error {
		telemetry.HedgeRetries.Inc()
		o, err := vcap.Submit(context.Background(), symbol, side, venue.Market, referencePrice, size, time.Now().Add(Deadline))
		if err != nil || o.Kind == venue.Error {
			if err == nil {
				err = fmt.Errorf("hedge order error")
			}
			return err
		}
		out = o
		return nil
	}, e.hedgeRetry)
	return out, err
}

// admit runs the admission checks of spec §4.5 and returns the intended
// position size if they all pass.
func (e *Engine) admit(opp model.Opportunity) (float64, RejectReason, error) {
	if e.ledger.HasOpenPosition(opp.Symbol) {
		return 0, ReasonSymbolAlreadyOpen, fmt.Errorf("execution: %s", ReasonSymbolAlreadyOpen)
	}

	available := e.ledger.AvailableCapital()

	confidenceSizedBase := (opp.ProjectedProfitBps / opp.SpreadBps) * available
	size := confidenceSizedBase
	if capped := 0.5 * available; size > capped {
		size = capped
	}
	if size < MinPositionSize {
		size = MinPositionSize
	}

	if available < size {
		return 0, ReasonInsufficientCap, fmt.Errorf("execution: %s", ReasonInsufficientCap)
	}

	now := time.Now()
	venues := e.reg.VenuesForSymbol(string(opp.Symbol))
	longId, haveLong := venues[opp.LongVenue]
	shortId, haveShort := venues[opp.ShortVenue]
	if !haveLong || !haveShort {
		return 0, ReasonQuoteStaleOrGone, fmt.Errorf("execution: %s", ReasonQuoteStaleOrGone)
	}
	long := e.state.Get(longId)
	short := e.state.Get(shortId)
	if !long.Present() || long.Stale(now) || !short.Present() || short.Stale(now) {
		return 0, ReasonQuoteStaleOrGone, fmt.Errorf("execution: %s", ReasonQuoteStaleOrGone)
	}

	// Round to the coarser of the two legs' quantity steps (spec §4.5 "Size
	// is rounded to venue quantity step") so a single size is tradeable on
	// both venues at once.
	symbolText := string(opp.Symbol)
	step := 0.0
	if longCap, ok := e.venues.Get(opp.LongVenue); ok {
		step = longCap.QtyStep(symbolText)
	}
	if shortCap, ok := e.venues.Get(opp.ShortVenue); ok {
		if s := shortCap.QtyStep(symbolText); s > step {
			step = s
		}
	}
	size = utils.RoundToLotSize(size, step)
	if size < MinPositionSize {
		return 0, ReasonInsufficientCap, fmt.Errorf("execution: %s", ReasonInsufficientCap)
	}

	return size, "", nil
}

// harderLeg reports which side (long or short) is the harder (less liquid)
// leg per the fixed liquidity-tier table (spec §4.5).
func (e *Engine) harderLeg(opp model.Opportunity) (model.VenueId, bool) {
	longTier := model.LiquidityTier[opp.LongVenue]
	shortTier := model.LiquidityTier[opp.ShortVenue]
	if longTier <= shortTier {
		return opp.LongVenue, true
	}
	return opp.ShortVenue, false
}

func pickVenue(opp model.Opportunity, harderIsLong, wantHarder bool) model.VenueId {
	isLongLeg := wantHarder == harderIsLong
	if isLongLeg {
		return opp.LongVenue
	}
	return opp.ShortVenue
}

func legOrder(opp model.Opportunity, harderIsLong, wantHarder bool) (venue.OrderSide, float64) {
	isLongLeg := wantHarder == harderIsLong
	if isLongLeg {
		return venue.Buy, opp.LongAsk
	}
	return venue.Sell, opp.ShortBid
}

func (e *Engine) setLeg(pos *model.Position, harderIsLong bool, isHarder bool, o venue.Outcome) {
	isLongLeg := isHarder == harderIsLong
	if isLongLeg {
		pos.Long.FilledAt = o.Time
		pos.Long.EntryPrice = o.Price
	} else {
		pos.Short.FilledAt = o.Time
		pos.Short.EntryPrice = o.Price
	}
}
