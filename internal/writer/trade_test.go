package writer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantfold/polystream/internal/model"
	"github.com/quantfold/polystream/internal/stream"
)

// fakeDB records each SendBatch call and the liveness of its context.
type fakeDB struct {
	mu      sync.Mutex
	batches []*pgx.Batch
	ctxErrs []error
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	f.batches = append(f.batches, b)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	return &fakeBatchResults{ctx: ctx}
}

type fakeBatchResults struct {
	ctx context.Context
}

func (r *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if err := r.ctx.Err(); err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeBatchResults) Query() (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeBatchResults) QueryRow() pgx.Row { return nil }
func (r *fakeBatchResults) Close() error      { return nil }

func testWriter(cfg Config) *TradeWriter {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTradeWriter(cfg, nil, logger)
}

func TestTransform(t *testing.T) {
	w := testWriter(DefaultConfig())

	tr := model.Trade{
		Ev:        model.EventTrade,
		Symbol:    "AAPL",
		TradeID:   "52983525029262",
		Exchange:  4,
		Price:     189.32,
		Size:      100,
		Timestamp: 1700000000123, // ms
		Tape:      3,
	}
	receivedAt := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)

	row := w.transform(tr, receivedAt)

	if row.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", row.Symbol)
	}
	if row.TradeID != "52983525029262" {
		t.Errorf("TradeID = %q", row.TradeID)
	}
	if row.Exchange != 4 {
		t.Errorf("Exchange = %d, want 4", row.Exchange)
	}
	if row.Price != 189.32 {
		t.Errorf("Price = %v, want 189.32", row.Price)
	}
	if row.Size != 100 {
		t.Errorf("Size = %v, want 100", row.Size)
	}
	if row.Tape != 3 {
		t.Errorf("Tape = %d, want 3", row.Tape)
	}
	if row.ExchangeTS != 1700000000123000 {
		t.Errorf("ExchangeTS = %d, want 1700000000123000 (µs)", row.ExchangeTS)
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
	if row.IngestID == uuid.Nil {
		t.Error("IngestID not assigned")
	}

	// Each row gets its own ingest id.
	if other := w.transform(tr, receivedAt); other.IngestID == row.IngestID {
		t.Error("transform reused an ingest id")
	}
}

func TestHandler_FiltersNonTradeEvents(t *testing.T) {
	w := testWriter(Config{BatchSize: 1000, FlushInterval: time.Hour})
	handler := w.Handler()

	handler(stream.Message{Ev: "Q", Raw: json.RawMessage(`{"ev":"Q","sym":"AAPL"}`)})
	handler(stream.Message{Ev: "AM", Raw: json.RawMessage(`{"ev":"AM","sym":"AAPL"}`)})
	handler(stream.Message{Ev: "status", Raw: json.RawMessage(`{"ev":"status"}`)})

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	if len(w.batch) != 0 {
		t.Errorf("batch holds %d rows, want 0 for non-trade events", len(w.batch))
	}
	if w.metrics.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0 (ignored, not dropped)", w.metrics.Dropped)
	}
}

func TestHandler_DropsUndecodableTrade(t *testing.T) {
	w := testWriter(Config{BatchSize: 1000, FlushInterval: time.Hour})
	handler := w.Handler()

	handler(stream.Message{Ev: "T", Raw: json.RawMessage(`{"ev":"T","p":"not a number"}`)})

	stats := w.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	if len(w.batch) != 0 {
		t.Errorf("batch holds %d rows, want 0", len(w.batch))
	}
}

func TestHandler_AccumulatesBelowThreshold(t *testing.T) {
	// BatchSize larger than the message count: nothing flushes, so a nil
	// database handle is never touched.
	w := testWriter(Config{BatchSize: 1000, FlushInterval: time.Hour})
	handler := w.Handler()

	for i := 0; i < 5; i++ {
		handler(stream.Message{
			Ev:  "T",
			Raw: json.RawMessage(`{"ev":"T","sym":"AAPL","i":"1","x":4,"p":189.32,"s":100,"t":1700000000123,"z":3}`),
		})
	}

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	if len(w.batch) != 5 {
		t.Fatalf("batch holds %d rows, want 5", len(w.batch))
	}
	if w.batch[0].Symbol != "AAPL" {
		t.Errorf("batch[0].Symbol = %q, want AAPL", w.batch[0].Symbol)
	}
	if w.metrics.Flushes != 0 {
		t.Errorf("Flushes = %d, want 0 below threshold", w.metrics.Flushes)
	}
}

func TestStop_FlushesRemainingRows(t *testing.T) {
	db := &fakeDB{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewTradeWriter(Config{BatchSize: 1000, FlushInterval: time.Hour}, db, logger)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	handler := w.Handler()
	for i := 0; i < 3; i++ {
		handler(stream.Message{
			Ev:  "T",
			Raw: json.RawMessage(`{"ev":"T","sym":"AAPL","i":"1","x":4,"p":189.32,"s":100,"t":1700000000123,"z":3}`),
		})
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.batches) != 1 {
		t.Fatalf("SendBatch called %d times, want 1", len(db.batches))
	}
	if got := db.batches[0].Len(); got != 3 {
		t.Errorf("final batch holds %d rows, want 3", got)
	}
	// The final flush must not run under the writer's own canceled context.
	if db.ctxErrs[0] != nil {
		t.Errorf("final flush context already dead: %v", db.ctxErrs[0])
	}

	stats := w.Stats()
	if stats.Inserts != 3 {
		t.Errorf("Inserts = %d, want 3", stats.Inserts)
	}
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}
	if stats.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", stats.Flushes)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", cfg.BatchSize)
	}
	if cfg.FlushInterval != time.Second {
		t.Errorf("FlushInterval = %v, want 1s", cfg.FlushInterval)
	}
}
