// Package telemetry exposes the Prometheus counters and histograms named in
// spec §6 ("Counters for queue push/pop/drop, opportunity emission rate,
// admission/rejection reasons, and per-stage latency percentiles").
//
// Grounded on svyatogor45-abitrage's internal/bot/metrics.go: promauto
// construction, Record*/Update* helper functions, latency-tuned histogram
// buckets. Nothing here is called from inside a ring Push/Pop itself —
// callers increment after the hot-path operation returns, so the metrics
// registry's own locking never sits on the hot path.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueuePushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_queue_pushed_total",
		Help: "Items pushed onto a ring, by queue name.",
	}, []string{"queue"})

	QueueDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_queue_dropped_total",
		Help: "Drop-oldest events on a ring, by queue name.",
	}, []string{"queue"})

	OpportunitiesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_opportunities_emitted_total",
		Help: "Opportunities that passed all gates and were pushed to the opportunity queue.",
	})

	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_admission_rejections_total",
		Help: "Opportunities discarded at admission, by reason.",
	}, []string{"reason"})

	PositionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_positions_opened_total",
		Help: "Positions that reached Active.",
	})

	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_positions_closed_total",
		Help: "Positions that reached Closed, by exit reason.",
	}, []string{"reason"})

	LegOuts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_leg_outs_total",
		Help: "Transitions through Hedging.",
	})

	LegOutLoss = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_leg_out_loss_usd_total",
		Help: "Cumulative hedge-vs-limit price difference from leg-outs.",
	})

	HedgeRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_hedge_retries_total",
		Help: "Hedge-order retry attempts.",
	})

	HedgeStuck = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_hedge_stuck_total",
		Help: "Positions flagged stuck after hedge-retry exhaustion.",
	})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arb_stage_latency_seconds",
		Help:    "Per-stage pipeline latency.",
		Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
	}, []string{"stage"})

	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_invariant_violations_total",
		Help: "Capital-conservation invariant violations (fatal when nonzero).",
	})

	PersistenceDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_persistence_dropped_total",
		Help: "Events dropped because the persistence buffer was full.",
	})

	PersistenceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arb_persistence_errors_total",
		Help: "Event log insert failures.",
	})
)

// ObserveStage records how long a named pipeline stage took.
func ObserveStage(stage string, d time.Duration) {
	stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}
