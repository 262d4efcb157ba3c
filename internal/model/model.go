// Package model holds the data types shared across the ingress, detector,
// execution and portfolio layers. Types here carry no behaviour beyond small
// helpers; they exist so every component agrees on layout without importing
// each other.
package model

import "time"

// SymbolId is a dense, process-lifetime-stable identifier for a (venue, symbol) pair.
type SymbolId uint32

// InvalidSymbolId marks an unset symbol reference.
const InvalidSymbolId SymbolId = 0

// TradingSymbol identifies an instrument independent of venue (e.g.
// "BTC-PERP"). A single TradingSymbol corresponds to one SymbolId per venue
// quoting it; Opportunity and Position are keyed by TradingSymbol since the
// spec's uniqueness invariant ("no two open positions with the same
// symbol") is venue-agnostic.
type TradingSymbol string

// VenueId is a small fixed-range identifier for a trading venue. The roster is
// fixed at startup; there is no dynamic venue registration.
type VenueId uint8

const (
	VenueUnknown VenueId = iota
	VenueA
	VenueB
	VenueC
	VenueD
	venueCount
)

// LiquidityTier ranks venues from hardest (least liquid, decentralised) to
// easiest (most liquid, centralised). Lower value = harder.
var LiquidityTier = map[VenueId]int{
	VenueA: 0,
	VenueB: 1,
	VenueC: 2,
	VenueD: 3,
}

// MarketUpdate is the fixed-size record the ingress bridge pushes into the
// ingress ring. Laid out to fit one 64-byte cache line.
type MarketUpdate struct {
	SymbolId    SymbolId // 4
	_           [4]byte  // pad to align float64 fields
	Bid         float64  // 8
	Ask         float64  // 8
	TsMicros    int64    // 8
	FundingRate float64  // 8 (0 if HasFunding is false)
	DepthBid    float64  // 8
	DepthAsk    float64  // 8
	HasFunding  bool
	HasDepth    bool
	_           [6]byte // pad to 64
}

// Valid reports whether the update is well-formed per the ingress contract.
func (m *MarketUpdate) Valid() bool {
	return m.Bid <= m.Ask && m.Bid > 0 && m.Ask > 0
}

// Opportunity is a candidate dual-leg trade emitted by the detector.
type Opportunity struct {
	Symbol             TradingSymbol
	LongVenue          VenueId
	ShortVenue         VenueId
	LongAsk            float64
	ShortBid           float64
	SpreadBps          float64
	FundingDelta8h     float64
	DepthLong          float64
	DepthShort         float64
	Confidence         float64
	ProjectedProfitBps float64
	TsMicros           int64
}

// PositionStatus is the forward-only lifecycle tag for a Position.
type PositionStatus int

const (
	PendingHarder PositionStatus = iota
	PendingEasier
	Active
	Hedging
	Exiting
	Closed
)

func (s PositionStatus) String() string {
	switch s {
	case PendingHarder:
		return "PendingHarder"
	case PendingEasier:
		return "PendingEasier"
	case Active:
		return "Active"
	case Hedging:
		return "Hedging"
	case Exiting:
		return "Exiting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// validTransitions mirrors the forward-only state machine from §3/§4.5.
var validTransitions = map[PositionStatus][]PositionStatus{
	PendingHarder: {PendingEasier, Closed}, // Closed via immediate rejection/cancel path
	PendingEasier: {Active, Hedging},
	Hedging:       {Active},
	Active:        {Exiting},
	Exiting:       {Closed},
	Closed:        {},
}

// CanTransition reports whether from -> to is an allowed forward transition.
func CanTransition(from, to PositionStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Leg is one side of a dual-leg trade.
type Leg struct {
	Venue      VenueId
	EntryPrice float64
	ExitPrice  float64
	Size       float64
	FilledAt   time.Time
	SubmitTime time.Time
}

// ExitReason records why a position was moved to Exiting.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitProfitTarget
	ExitStopLossAbsolute
	ExitStopLossWidening
	ExitFundingConvergence
	ExitNegativeFunding
	ExitLegOutGuard
	ExitManual
)

// Position is a live or closed dual-leg trade.
type Position struct {
	TradeId            string // 128-bit UUID, string form
	Symbol             TradingSymbol
	Long               Leg
	Short              Leg
	Status             PositionStatus
	ProjectedProfitUSD float64
	EntrySpreadBps     float64
	EntryFundingDelta  float64
	RealizedPnl        float64
	ExitReason         ExitReason
	LegOut             bool
	OpenedAt           time.Time
	ClosedAt           time.Time
}

// EntryFundingDeltaAbs returns the absolute funding rate delta recorded at
// entry, used by the funding-convergence exit rule.
func (p *Position) EntryFundingDeltaAbs() float64 {
	if p.EntryFundingDelta < 0 {
		return -p.EntryFundingDelta
	}
	return p.EntryFundingDelta
}

// PortfolioSnapshot is a read-only, allocation-free-at-call-site copy of
// portfolio state for cold-path readers (persistence, UI, metrics).
type PortfolioSnapshot struct {
	StartingCapital  float64
	AvailableCapital float64
	OpenPositions    int
	ClosedTrades     int
	RealizedPnl      float64
	Wins             int
	Losses           int
	LegOutCount      int
	LegOutLossTotal  float64
}

// EventKind enumerates the append-only persistence event types.
type EventKind int

const (
	EventTradeOpened EventKind = iota
	EventTradeClosed
	EventLegOut
	EventRejected
)

// Event is one row appended to the persistent event log.
type Event struct {
	Kind      EventKind
	TradeId   string
	Symbol    TradingSymbol
	Reason    string
	Payload   map[string]float64
	Timestamp time.Time
}
