// Package detector implements the streaming opportunity-detection pipeline
// of spec §4.3: pop an ingress update, apply it to market state, re-evaluate
// every venue pair sharing the updated trading symbol, and emit surviving
// candidates onto the opportunity ring.
//
// Grounded on svyatogor45-abitrage's internal/bot/spread.go
// (SpreadCalculator.GetBestOpportunity/calculateNetSpread, the 4-taker-fee
// model) and internal/bot/arbitrage.go (CheckEntryConditions' gate sequence),
// generalised to the symbol-indirected multi-venue pairwise evaluation the
// spec requires instead of the teacher's fixed pair-of-exchanges config.
package detector

import (
	"time"

	"go.uber.org/zap"

	"arbitrage/internal/market"
	"arbitrage/internal/model"
	"arbitrage/internal/registry"
	"arbitrage/internal/ring"
	"arbitrage/internal/telemetry"
)

// Config holds the detection thresholds from spec §4.3, defaulted as specified.
type Config struct {
	MinSpreadBps       float64       // default 10
	MinConfidence      float64       // default 70
	LatencyGateMax     time.Duration // default 200ms
	FundingGateMin     float64       // default 0.0001 (0.01%)
	DepthMultiplier    float64       // default 2
	ReferencePosition  float64       // reference size used for depth/slippage gating prior to admission sizing
	FundingCycles      float64       // horizon multiplier for funding cost estimate, default 1 (open question in spec §9)
	FeeBps             map[model.VenueId]float64
}

// DefaultConfig matches the defaults named in spec §4.3.
func DefaultConfig() Config {
	return Config{
		MinSpreadBps:      10,
		MinConfidence:     70,
		LatencyGateMax:    200 * time.Millisecond,
		FundingGateMin:    0.0001,
		DepthMultiplier:   2,
		ReferencePosition: 1000,
		FundingCycles:     1,
		FeeBps: map[model.VenueId]float64{
			model.VenueA: 5,
			model.VenueB: 5,
			model.VenueC: 4,
			model.VenueD: 3,
		},
	}
}

// Detector owns the market state store exclusively and consumes the ingress
// ring on a single thread.
type Detector struct {
	cfg      Config
	reg      *registry.Registry
	state    *market.Store
	ingress  *ring.SPSC[model.MarketUpdate]
	opps     *ring.SPMC[model.Opportunity]
	log      *zap.SugaredLogger
	malformed uint64
}

// New constructs a Detector. ingress and opps must already be allocated
// (pre-allocation per spec §9).
func New(cfg Config, reg *registry.Registry, state *market.Store, ingress *ring.SPSC[model.MarketUpdate], opps *ring.SPMC[model.Opportunity], log *zap.SugaredLogger) *Detector {
	return &Detector{cfg: cfg, reg: reg, state: state, ingress: ingress, opps: opps, log: log}
}

// Run polls the ingress ring until stop is closed. Busy-waits with a brief
// yield when empty, per spec §4.2 ("polling ... to avoid the latency tail
// of a condition variable").
func (d *Detector) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		u, ok := d.ingress.Pop()
		if !ok {
			time.Sleep(5 * time.Microsecond)
			continue
		}
		d.ProcessUpdate(&u)
	}
}

// ProcessUpdate applies one update to market state and emits every
// surviving opportunity touching its symbol. Exported so tests can drive
// the pipeline deterministically instead of through the ring + goroutine.
func (d *Detector) ProcessUpdate(u *model.MarketUpdate) {
	start := time.Now()
	if !d.state.Apply(u) {
		d.malformed++
		return
	}

	text, ok := d.reg.SymbolText(u.SymbolId)
	if !ok {
		return
	}
	venues := d.reg.VenuesForSymbol(text)
	if len(venues) < 2 {
		return
	}

	now := time.Now()
	for va, ida := range venues {
		for vb, idb := range venues {
			if va == vb {
				continue
			}
			if ida != u.SymbolId && idb != u.SymbolId {
				continue // only re-evaluate pairs touching the updated symbol
			}
			if opp, ok := d.evaluate(text, va, ida, vb, idb, now); ok {
				dropped := d.opps.Push(opp)
				telemetry.QueuePushed.WithLabelValues("opportunity").Inc()
				if dropped {
					telemetry.QueueDropped.WithLabelValues("opportunity").Inc()
				}
				telemetry.OpportunitiesEmitted.Inc()
			}
		}
	}
	telemetry.ObserveStage("detect", time.Since(start))
}

// evaluate computes the "long longVenue / short shortVenue" direction for a
// pair of venues quoting the same trading symbol id pair, applying the hard
// constraints and confidence/profit scoring of spec §4.3.
func (d *Detector) evaluate(symbolText string, longVenue model.VenueId, longId model.SymbolId, shortVenue model.VenueId, shortId model.SymbolId, now time.Time) (model.Opportunity, bool) {
	long := d.state.Get(longId)
	short := d.state.Get(shortId)
	if !long.Present() || !short.Present() {
		return model.Opportunity{}, false
	}
	// Stale venues are treated as not present (spec §4.3 tie-break).
	if long.Stale(now) || short.Stale(now) {
		return model.Opportunity{}, false
	}

	spreadBps := (short.Bid - long.Ask) / long.Ask * 10000
	if spreadBps <= d.cfg.MinSpreadBps {
		return model.Opportunity{}, false
	}

	if !d.passesHardGates(long, short, now) {
		return model.Opportunity{}, false
	}

	fundingDelta := long.FundingRate - short.FundingRate

	confidence := Confidence(spreadBps, fundingDelta, ConfidenceParams{})
	if confidence < d.cfg.MinConfidence {
		return model.Opportunity{}, false
	}

	longFee := d.cfg.FeeBps[longVenue]
	shortFee := d.cfg.FeeBps[shortVenue]
	depth := minF(long.DepthAsk, short.DepthBid)
	slippageBps := SlippageBps(d.cfg.ReferencePosition, depth)
	fundingCostBps := fundingCostBps(fundingDelta, d.cfg.FundingCycles)

	projected := spreadBps - longFee - shortFee - slippageBps - fundingCostBps
	if projected <= 0 {
		return model.Opportunity{}, false
	}

	return model.Opportunity{
		Symbol:             model.TradingSymbol(symbolText),
		LongVenue:          longVenue,
		ShortVenue:         shortVenue,
		LongAsk:            long.Ask,
		ShortBid:           short.Bid,
		SpreadBps:          spreadBps,
		FundingDelta8h:     fundingDelta,
		DepthLong:          long.DepthAsk,
		DepthShort:         short.DepthBid,
		Confidence:         confidence,
		ProjectedProfitBps: projected,
		TsMicros:           now.UnixMicro(),
	}, true
}

func (d *Detector) passesHardGates(long, short market.Quote, now time.Time) bool {
	if now.Sub(long.ReceivedAt) >= d.cfg.LatencyGateMax || now.Sub(short.ReceivedAt) >= d.cfg.LatencyGateMax {
		return false
	}
	minDepth := d.cfg.DepthMultiplier * d.cfg.ReferencePosition
	if long.HasDepth && long.DepthAsk < minDepth {
		return false
	}
	if short.HasDepth && short.DepthBid < minDepth {
		return false
	}
	if long.HasFunding && short.HasFunding {
		delta := long.FundingRate - short.FundingRate
		if delta < 0 {
			delta = -delta
		}
		if delta <= d.cfg.FundingGateMin {
			return false
		}
	}
	return true
}

func fundingCostBps(delta float64, cycles float64) float64 {
	if delta < 0 {
		delta = -delta
	}
	return delta * 10000 * cycles
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// MalformedCount returns the number of updates Apply rejected: those failing
// Valid() and those carrying an out-of-range symbol id.
func (d *Detector) MalformedCount() uint64 {
	return d.malformed
}
