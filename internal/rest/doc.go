// Package rest provides a minimal client for the Polygon REST API.
//
// The streamer uses it for preflight checks before opening WebSocket
// connections: verifying the API key and reporting whether the markets
// are currently in session.
package rest
