// Package stream implements the streaming connection core.
//
// A Conn owns one WebSocket connection to one Polygon market endpoint:
//   - connect / authenticate / subscribe lifecycle
//   - background receive loop delivering data messages to handlers
//   - automatic reconnection with exponential backoff
//   - bounded buffer of recent data messages for introspection
//
// A Registry owns at most one Conn per market and manages their lifetime.
package stream
