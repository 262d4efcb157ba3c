// Command core is the reference entrypoint for the arbitrage engine: it
// wires the symbol registry, ingress/opportunity rings, detector, execution
// core, position monitor, and portfolio ledger into a running process, and
// serves the cold-path persistence/UI/metrics surface alongside it.
//
// Real venue connectors are out of scope (spec §1 Non-goals); this binary
// drives the core against the simulated venue capability in
// internal/venue/sim so the full pipeline can be exercised end to end.
//
// Grounded on svyatogor45-abitrage's cmd/server/main.go: config.Load at
// boot, a dependencies struct wiring services together, and the
// signal.Notify/Shutdown graceful-stop sequence.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbitrage/internal/apperr"
	"arbitrage/internal/config"
	"arbitrage/internal/detector"
	"arbitrage/internal/execution"
	"arbitrage/internal/market"
	"arbitrage/internal/model"
	"arbitrage/internal/persistence"
	"arbitrage/internal/portfolio"
	"arbitrage/internal/position"
	"arbitrage/internal/registry"
	"arbitrage/internal/ring"
	"arbitrage/internal/ui"
	"arbitrage/internal/venue"
	"arbitrage/internal/venue/sim"
	"arbitrage/pkg/utils"

	"go.uber.org/zap"
)

// noopSink discards events; used when PERSISTENCE_DSN is unset so the
// reference binary still runs without a database.
type noopSink struct{}

func (noopSink) Append(model.Event) {}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	sugar := logger.Sugar()

	reg := registry.New(registry.DefaultCapacity)
	state := market.NewStore(registry.DefaultCapacity)

	// Preload the known roster so early traffic sees stable ids (spec
	// §4.1). Registry overflow here is fatal (spec §7) and is checked
	// directly, before any goroutine starts, rather than routed through
	// fatalCh below.
	if err := reg.Preload(startupRoster, venueOf); err != nil {
		fatalExit(sugar, apperr.New(apperr.ExitRegistryOverflow, err))
	}

	ingress := ring.NewSPSC[model.MarketUpdate](cfg.Engine.IngressQueueCapacity)
	opps := ring.NewSPMC[model.Opportunity](cfg.Engine.OpportunityQueueCapacity)

	det := detector.New(detectorConfig(cfg), reg, state, ingress, opps, sugar)

	venues := venue.NewRegistry(
		sim.New(model.VenueA, sim.SteadyFill),
		sim.New(model.VenueB, sim.SteadyFill),
		sim.New(model.VenueC, sim.SteadyFill),
		sim.New(model.VenueD, sim.SteadyFill),
	)

	ledger := portfolio.New(cfg.Engine.StartingCapital)

	var sink execution.EventSink = noopSink{}
	var writer *persistence.Writer
	if cfg.Engine.PersistenceDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		w, err := persistence.Open(ctx, cfg.Engine.PersistenceDSN, sugar)
		cancel()
		if err != nil {
			sugar.Fatalw("persistence: failed to open", "err", err)
		}
		writer = w
		sink = writer
	}

	engine := execution.New(ledger, venues, reg, state, sink, sugar)
	monitor := position.New(state, reg, engine)

	hub := ui.NewHub(sugar)
	server := ui.NewServer(cfg.Engine.UIListenAddr, hub, sugar)

	stop := make(chan struct{})
	// fatalCh carries the first FatalError surfaced by either worker
	// goroutine back to main, which owns the single os.Exit call site and
	// the best-effort persistence flush (SPEC_FULL.md "Error handling").
	fatalCh := make(chan *apperr.FatalError, 2)

	go det.Run(stop)
	go runStrategyLoop(stop, opps, engine, ledger, hub, fatalCh)
	go runPositionMonitor(stop, monitor, ledger, fatalCh)
	go hub.Run(stop)

	serverCtx, cancelServer := context.WithCancel(context.Background())
	go func() {
		if err := server.Serve(serverCtx); err != nil {
			sugar.Warnw("ui server stopped", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		sugar.Info("shutting down")
		close(stop)
		fatal := closeOpenPositions(engine, ledger, sugar)
		cancelServer()
		flushPersistence(writer)
		if fatal != nil {
			fatalExit(sugar, fatal)
		}
	case fatal := <-fatalCh:
		close(stop)
		cancelServer()
		flushPersistence(writer)
		fatalExit(sugar, fatal)
	}
}

// startupRoster is the known venue/symbol universe preloaded at boot so the
// registry never has to intern on the hot path for these pairs.
var startupRoster = [][2]string{
	{"A", "BTC-PERP"}, {"B", "BTC-PERP"}, {"C", "BTC-PERP"}, {"D", "BTC-PERP"},
	{"A", "ETH-PERP"}, {"B", "ETH-PERP"}, {"C", "ETH-PERP"}, {"D", "ETH-PERP"},
}

func venueOf(s string) model.VenueId {
	switch s {
	case "A":
		return model.VenueA
	case "B":
		return model.VenueB
	case "C":
		return model.VenueC
	case "D":
		return model.VenueD
	default:
		return model.VenueUnknown
	}
}

// flushPersistence best-effort closes the persistence writer before the
// process exits; writer is nil when PERSISTENCE_DSN was never set.
func flushPersistence(writer *persistence.Writer) {
	if writer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	writer.Close(ctx)
}

// fatalExit logs a fatal condition and terminates the process with its exit
// code. Caught exactly once, here, per SPEC_FULL.md's error-handling section.
func fatalExit(sugar *zap.SugaredLogger, fatal *apperr.FatalError) {
	sugar.Errorw("fatal condition, exiting", "code", fatal.Code, "err", fatal.Original)
	os.Exit(int(fatal.Code))
}

func detectorConfig(cfg *config.Config) detector.Config {
	d := detector.DefaultConfig()
	d.MinSpreadBps = cfg.Engine.MinSpreadBps
	d.FundingGateMin = cfg.Engine.MinFundingDeltaBps / 10000
	d.MinConfidence = cfg.Engine.MinConfidence
	return d
}

func runStrategyLoop(stop <-chan struct{}, opps *ring.SPMC[model.Opportunity], engine *execution.Engine, ledger *portfolio.Ledger, hub *ui.Hub, fatalCh chan<- *apperr.FatalError) {
	cursor := opps.NewCursor()
	for {
		select {
		case <-stop:
			return
		default:
		}
		opp, ok := cursor.Pop()
		if !ok {
			time.Sleep(50 * time.Microsecond)
			continue
		}
		hub.BroadcastOpportunity(opp)
		pos, err := engine.Enter(opp)
		if err != nil {
			var fatal *apperr.FatalError
			if errors.As(err, &fatal) {
				fatalCh <- fatal
				return
			}
			continue
		}
		if pos == nil {
			continue
		}
		hub.BroadcastPosition(pos)
		hub.BroadcastPortfolio(ledger.Snapshot())
	}
}

func runPositionMonitor(stop <-chan struct{}, monitor *position.Monitor, ledger *portfolio.Ledger, fatalCh chan<- *apperr.FatalError) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if fatal := monitor.Tick(ledger.OpenPositions()); fatal != nil {
				fatalCh <- fatal
				return
			}
		}
	}
}

// closeOpenPositions winds down every open position on graceful shutdown.
// It returns the first FatalError encountered (e.g. a hedge that could not
// be recovered mid-shutdown); the caller decides the final exit code.
func closeOpenPositions(engine *execution.Engine, ledger *portfolio.Ledger, sugar *zap.SugaredLogger) *apperr.FatalError {
	var first *apperr.FatalError
	for _, pos := range ledger.OpenPositions() {
		if err := engine.Exit(pos, model.ExitManual); err != nil {
			sugar.Warnw("shutdown: failed to close position", "trade_id", pos.TradeId, "err", err)
			var fatal *apperr.FatalError
			if first == nil && errors.As(err, &fatal) {
				first = fatal
			}
		}
	}
	return first
}
