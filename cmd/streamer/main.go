// streamer connects to Polygon WebSocket feeds and streams market data.
// Usage: go run ./cmd/streamer --config configs/streamer.local.yaml
//
// The API key can be supplied via config interpolation:
//
//	api_key: ${POLYGON_API_KEY}
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantfold/polystream/internal/config"
	"github.com/quantfold/polystream/internal/database"
	"github.com/quantfold/polystream/internal/model"
	"github.com/quantfold/polystream/internal/rest"
	"github.com/quantfold/polystream/internal/stream"
	"github.com/quantfold/polystream/internal/version"
	"github.com/quantfold/polystream/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/streamer.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print every decoded message")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Preflight: verify the API key and report the session state before
	// dialing any stream.
	restClient := rest.NewClient(cfg.APIKey, rest.WithLogger(logger), rest.WithTimeout(10*time.Second))
	if status, err := restClient.MarketStatusNow(ctx); err != nil {
		var apiErr *rest.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 401 {
			logger.Error("api key rejected", "error", err)
			os.Exit(1)
		}
		logger.Warn("market status check failed", "error", err)
	} else {
		logger.Info("market status",
			"market", status.Market,
			"after_hours", status.AfterHours,
			"fx", status.Currencies.FX,
			"crypto", status.Currencies.Crypto,
		)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Optional TimescaleDB trade sink
	var tradeWriter *writer.TradeWriter
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.DB.Host,
			"port", cfg.Database.DB.Port,
			"database", cfg.Database.DB.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.DB)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		tradeWriter = writer.NewTradeWriter(writer.Config{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
		}, pool, logger)
		if err := tradeWriter.Start(ctx); err != nil {
			logger.Error("failed to start trade writer", "error", err)
			os.Exit(1)
		}
	}

	registry := stream.NewRegistry(stream.ConnConfig{
		DialTimeout:          cfg.Stream.DialTimeout,
		WriteTimeout:         cfg.Stream.WriteTimeout,
		BufferCapacity:       cfg.Stream.BufferCapacity,
		ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Stream.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
	}, logger)

	for _, m := range cfg.Markets {
		endpoint := m.Endpoint
		if m.Delayed {
			endpoint = stream.DelayedEndpoint(m.Name)
		}

		conn, err := registry.GetOrCreate(m.Name, stream.ConnOptions{
			Endpoint: endpoint,
			APIKey:   cfg.APIKey,
		})
		if err != nil {
			logger.Error("failed to create connection", "market", m.Name, "error", err)
			os.Exit(1)
		}

		if *verbose {
			conn.AddHandler(printHandler(logger, m.Name))
		}
		if tradeWriter != nil {
			conn.AddHandler(tradeWriter.Handler())
		}

		if err := conn.Connect(ctx); err != nil {
			// The connection keeps retrying in the background.
			logger.Warn("initial connect failed", "market", m.Name, "error", err)
			continue
		}
		if err := conn.Subscribe(m.Channels); err != nil {
			logger.Error("subscribe failed", "market", m.Name, "error", err)
		}
	}

	// Periodic status reporting until shutdown
	statusTicker := time.NewTicker(30 * time.Second)
	defer statusTicker.Stop()

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-statusTicker.C:
			for _, st := range registry.AllStatuses() {
				conn, ok := registry.Get(st.Market)
				if !ok {
					continue
				}
				stats := conn.MessageStats()
				logger.Info("stream status",
					"market", st.Market,
					"state", st.State,
					"subscriptions", st.SubscriptionCount,
					"total_received", stats.TotalReceived,
					"buffered", stats.Buffered,
					"last_error", st.LastError,
				)
			}
			if tradeWriter != nil {
				m := tradeWriter.Stats()
				logger.Info("writer status",
					"inserts", m.Inserts,
					"conflicts", m.Conflicts,
					"flushes", m.Flushes,
					"errors", m.Errors,
				)
			}
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := registry.CloseAll(shutdownCtx); err != nil {
		logger.Error("failed to close connections", "error", err)
	}
	if tradeWriter != nil {
		if err := tradeWriter.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop trade writer", "error", err)
		}
	}

	logger.Info("streamer stopped")
}

// printHandler decodes and logs every data message.
func printHandler(logger *slog.Logger, market string) stream.Handler {
	return func(msg stream.Message) {
		event, err := model.Decode(msg.Ev, msg.Raw)
		if err != nil {
			logger.Warn("undecodable message", "market", market, "ev", msg.Ev, "error", err)
			return
		}

		switch e := event.(type) {
		case model.Trade:
			logger.Info("trade", "market", market, "sym", e.Symbol,
				"price", fmt.Sprintf("%.4f", e.Price), "size", e.Size)
		case model.Quote:
			logger.Info("quote", "market", market, "sym", e.Symbol,
				"bid", fmt.Sprintf("%.4f", e.BidPrice), "ask", fmt.Sprintf("%.4f", e.AskPrice))
		case model.Aggregate:
			logger.Info("aggregate", "market", market, "kind", e.Ev, "sym", e.Symbol,
				"open", e.Open, "close", e.Close, "volume", e.Volume)
		case model.Unknown:
			logger.Info("event", "market", market, "ev", e.Ev, "raw", string(e.Raw))
		}
	}
}
