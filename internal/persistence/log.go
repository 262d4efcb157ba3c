// Package persistence is the cold-path event log of spec §6: every
// admitted/rejected/closed/leg-out event is appended asynchronously to
// Postgres so the strategy thread's Append call never blocks on I/O.
//
// Grounded on svyatogor45-abitrage's internal/repository/order_repository.go
// (database/sql + lib/pq query shape, RowsAffected-checked Exec calls) and
// internal/bot/engine.go's event-channel dispatch idiom, generalised from
// order-row CRUD into a buffered append-only writer for model.Event.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"arbitrage/internal/model"
	"arbitrage/internal/telemetry"
)

// BufferSize is the channel depth between Append and the writer goroutine.
// Sized generously since the event rate is orders of magnitude below the
// ingress rate (spec §6 "cold path, not timing critical").
const BufferSize = 4096

const createTableSQL = `
CREATE TABLE IF NOT EXISTS events (
	id         BIGSERIAL PRIMARY KEY,
	kind       SMALLINT NOT NULL,
	trade_id   TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	reason     TEXT NOT NULL,
	payload    JSONB,
	occurred_at TIMESTAMPTZ NOT NULL
)`

const insertSQL = `
INSERT INTO events (kind, trade_id, symbol, reason, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// Writer is an async, buffered implementation of execution.EventSink. Append
// never blocks the strategy thread beyond a channel send; a full buffer
// drops the event and increments a counter rather than applying backpressure
// to the hot path (spec §6/§9 "never block the strategy thread").
type Writer struct {
	db     *sql.DB
	log    *zap.SugaredLogger
	events chan model.Event
	done   chan struct{}
}

// Open connects to Postgres, ensures the events table exists, and starts the
// background flush goroutine.
func Open(ctx context.Context, dsn string, log *zap.SugaredLogger) (*Writer, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, err
	}

	w := &Writer{
		db:     db,
		log:    log,
		events: make(chan model.Event, BufferSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// NewWithDB wraps an already-open *sql.DB (used by tests against go-sqlmock).
func NewWithDB(db *sql.DB, log *zap.SugaredLogger) *Writer {
	w := &Writer{
		db:     db,
		log:    log,
		events: make(chan model.Event, BufferSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Append enqueues an event for async persistence. Satisfies
// execution.EventSink. Never blocks: a full buffer drops the event.
func (w *Writer) Append(e model.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case w.events <- e:
	default:
		telemetry.PersistenceDropped.Inc()
		w.log.Warnw("persistence buffer full, dropping event", "kind", e.Kind, "trade_id", e.TradeId)
	}
}

// Close drains the buffer (best-effort, bounded) and closes the database
// handle. Called during graceful shutdown (spec §6).
func (w *Writer) Close(ctx context.Context) error {
	close(w.events)
	select {
	case <-w.done:
	case <-ctx.Done():
	}
	return w.db.Close()
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.events {
		if err := w.insert(e); err != nil {
			telemetry.PersistenceErrors.Inc()
			w.log.Errorw("persistence insert failed", "err", err, "trade_id", e.TradeId)
		}
	}
}

func (w *Writer) insert(e model.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = w.db.ExecContext(ctx, insertSQL, int(e.Kind), e.TradeId, string(e.Symbol), e.Reason, payload, e.Timestamp)
	return err
}
