// streamtest connects to one Polygon WebSocket feed and prints decoded
// messages to the console. Useful for checking credentials and channel
// entitlements before running the full streamer.
//
// Usage:
//
//	go run ./cmd/streamtest --market stocks --channels T.AAPL,Q.AAPL --duration 30s
//
// The API key is read from POLYGON_API_KEY.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quantfold/polystream/internal/model"
	"github.com/quantfold/polystream/internal/stream"
)

func main() {
	market := flag.String("market", "stocks", "market to connect to (stocks, options, forex, crypto, ...)")
	channels := flag.String("channels", "T.AAPL", "comma-separated channels to subscribe")
	delayed := flag.Bool("delayed", false, "use the 15-minute delayed endpoint")
	duration := flag.Duration("duration", 30*time.Second, "how long to stream before exiting")
	verbose := flag.Bool("verbose", false, "print raw message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	apiKey := os.Getenv("POLYGON_API_KEY")
	if apiKey == "" {
		logger.Error("POLYGON_API_KEY is not set")
		os.Exit(1)
	}

	endpoint := stream.DefaultEndpoint(*market)
	if *delayed {
		endpoint = stream.DelayedEndpoint(*market)
	}

	conn := stream.NewConn(stream.ConnConfig{
		Market:   *market,
		Endpoint: endpoint,
		APIKey:   apiKey,
	}, logger)

	conn.AddHandler(func(msg stream.Message) {
		if *verbose {
			fmt.Printf("%s\n", msg.Raw)
			return
		}

		event, err := model.Decode(msg.Ev, msg.Raw)
		if err != nil {
			logger.Warn("undecodable message", "ev", msg.Ev, "error", err)
			return
		}

		switch e := event.(type) {
		case model.Trade:
			fmt.Printf("TRADE  %-8s price=%.4f size=%.0f\n", e.Symbol, e.Price, e.Size)
		case model.Quote:
			fmt.Printf("QUOTE  %-8s bid=%.4f ask=%.4f\n", e.Symbol, e.BidPrice, e.AskPrice)
		case model.Aggregate:
			fmt.Printf("AGG %-2s %-8s o=%.4f c=%.4f v=%.0f\n", e.Ev, e.Symbol, e.Open, e.Close, e.Volume)
		case model.Unknown:
			fmt.Printf("EVENT  %-8s %s\n", e.Ev, e.Raw)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info("connecting", "market", *market, "endpoint", endpoint)
	if err := conn.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	chs := strings.Split(*channels, ",")
	if err := conn.Subscribe(chs); err != nil {
		logger.Error("subscribe failed", "error", err)
		conn.Close()
		os.Exit(1)
	}
	logger.Info("subscribed", "channels", chs, "duration", *duration)

	<-ctx.Done()

	stats := conn.MessageStats()
	st := conn.Status()
	logger.Info("stream summary",
		"state", st.State,
		"total_received", stats.TotalReceived,
		"last_error", st.LastError,
	)

	if err := conn.Close(); err != nil {
		logger.Error("close failed", "error", err)
	}
}
