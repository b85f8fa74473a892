// Package model defines typed Polygon stream events.
//
// Inbound data messages are a tagged union over the event-type field
// ("ev"): known kinds decode into concrete structs, everything else
// passes through as Unknown with the raw payload intact.
//
// Conventions:
//   - Prices: float64 dollars as sent on the wire
//   - Timestamps: int64 milliseconds since Unix epoch
package model
