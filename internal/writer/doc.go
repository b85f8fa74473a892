// Package writer implements the batch trade writer, an optional sink
// that persists streamed trades to TimescaleDB.
//
// The writer registers as a stream handler, accumulates decoded trades
// and flushes them by batch size or interval. Inserts are append-only
// with ON CONFLICT DO NOTHING.
package writer
