package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Polygon WebSocket endpoints per market.
const (
	realtimeEndpointBase = "wss://socket.polygon.io"
	delayedEndpointBase  = "wss://delayed.polygon.io"
)

// DefaultEndpoint returns the real-time endpoint for a market.
func DefaultEndpoint(market string) string {
	return realtimeEndpointBase + "/" + market
}

// DelayedEndpoint returns the 15-minute delayed endpoint for a market,
// for plans without real-time entitlement.
func DelayedEndpoint(market string) string {
	return delayedEndpointBase + "/" + market
}

// ConnOptions are per-market creation options for GetOrCreate. They are
// only consulted when a new Conn is created; an existing Conn keeps its
// original endpoint and credential.
type ConnOptions struct {
	Endpoint string // defaults to DefaultEndpoint(market)
	APIKey   string // required on first creation
}

// Registry maps each market to its single Conn. The remote authenticates
// and bills per physical connection, so at most one Conn exists per
// market; a second request returns the existing instance.
type Registry struct {
	base   ConnConfig
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewRegistry creates an empty registry. base supplies connection tuning
// (timeouts, buffer capacity, reconnect policy); its Market, Endpoint and
// APIKey fields are ignored.
func NewRegistry(base ConnConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		base:   base,
		logger: logger,
		conns:  make(map[string]*Conn),
	}
}

// GetOrCreate returns the market's connection, creating it on first use.
// Creation requires an API key and defaults the endpoint to the market's
// real-time address.
func (r *Registry) GetOrCreate(market string, opts ConnOptions) (*Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[market]; ok {
		return conn, nil
	}

	if opts.APIKey == "" {
		return nil, fmt.Errorf("create connection for %s: %w", market, ErrAPIKeyRequired)
	}

	cfg := r.base
	cfg.Market = market
	cfg.Endpoint = opts.Endpoint
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint(market)
	}
	cfg.APIKey = opts.APIKey

	conn := NewConn(cfg, r.logger)
	r.conns[market] = conn
	r.logger.Info("registered connection", "market", market, "endpoint", cfg.Endpoint)
	return conn, nil
}

// Get returns the market's connection if one is registered.
func (r *Registry) Get(market string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[market]
	return conn, ok
}

// CloseAll closes every registered connection and clears the registry.
// Connections are closed concurrently and every close is awaited.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, conn := range conns {
		g.Go(conn.Close)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("close connections: %w", err)
	}

	r.logger.Info("closed all connections", "count", len(conns))
	return nil
}

// AllStatuses returns a status snapshot of every registered connection,
// ordered by market.
func (r *Registry) AllStatuses() []Status {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	statuses := make([]Status, 0, len(conns))
	for _, conn := range conns {
		statuses = append(statuses, conn.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Market < statuses[j].Market
	})
	return statuses
}
