package writer

import (
	"time"

	"github.com/google/uuid"
)

// Config contains configuration for the batch writer.
type Config struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: 1 * time.Second,
	}
}

// tradeRow represents a row to be inserted into the trades table.
type tradeRow struct {
	IngestID   uuid.UUID // locally assigned primary key
	Symbol     string
	TradeID    string // exchange-assigned trade ID
	Exchange   int
	Price      float64
	Size       float64
	Tape       int
	ExchangeTS int64 // Microseconds
	ReceivedAt int64 // Microseconds
}

// Metrics tracks writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64 // messages that failed to decode
}
