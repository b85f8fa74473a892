// Package database provides connection pool management for TimescaleDB,
// the optional sink for streamed trades.
package database
