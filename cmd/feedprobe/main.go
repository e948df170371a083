// feedprobe subscribes to the configured series' live feeds and prints
// parsed records to the console, for diagnostics.
// Usage: go run ./cmd/feedprobe --config configs/updater.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfall/binance-data/internal/config"
	"github.com/quantfall/binance-data/internal/feed"
	"github.com/quantfall/binance-data/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/updater.example.yaml", "path to config file")
	transport := flag.String("transport", "", "override feed.transport (rest or websocket)")
	verbose := flag.Bool("verbose", false, "print full record payloads")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *transport != "" {
		if *transport != "rest" && *transport != "websocket" {
			logger.Error("invalid -transport", "transport", *transport)
			os.Exit(1)
		}
		cfg.Feed.Transport = *transport
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var fd feed.Feed
	switch cfg.Feed.Transport {
	case "websocket":
		fd = feed.NewStreamFeed(feed.StreamConfig{
			BaseURL:      cfg.Feed.WSURL,
			PingInterval: cfg.Feed.PingInterval,
			ReadTimeout:  cfg.Feed.ReadTimeout,
		}, logger)
	default:
		fd = feed.NewRestFeed(feed.RestConfig{
			BaseURL:      cfg.Feed.RestURL,
			APIKey:       cfg.Feed.APIKey,
			Timeout:      cfg.Feed.Timeout,
			PollInterval: cfg.Feed.PollInterval,
			PageLimit:    cfg.Feed.PageLimit,
		}, logger)
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)

	probes := 0
	for _, sc := range cfg.Series {
		series, err := sc.Series()
		if err != nil {
			logger.Error("invalid series", "error", err)
			os.Exit(1)
		}
		if !feed.Streamable(series) {
			logger.Warn("series has no live feed, skipping", "series", series.String())
			continue
		}
		probes++
		g.Go(func() error {
			return probe(gctx, fd, series, *verbose, &total)
		})
	}
	if probes == 0 {
		logger.Error("no streamable series configured")
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats", "records", total.Load())
			}
		}
	}()

	logger.Info("probing started - press Ctrl+C to stop",
		"series", probes,
		"transport", cfg.Feed.Transport,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("probe failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// probe streams one series from the live edge and prints each record.
func probe(ctx context.Context, fd feed.Feed, series model.Series, verbose bool, total *atomic.Int64) error {
	stream, err := fd.Subscribe(ctx, series, feed.StartNow())
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", series, err)
	}
	defer stream.Close()

	for {
		rec, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("next %s: %w", series, err)
		}
		total.Add(1)

		if verbose {
			fmt.Printf("[%s] time=%d id=%d payload=%s\n", series, rec.Time, rec.ID, rec.Payload)
		} else {
			fmt.Printf("[%s] %s id=%d\n",
				series, model.FromMicros(rec.Time).Format(time.RFC3339Nano), rec.ID)
		}
	}
}
