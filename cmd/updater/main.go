package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/quantfall/binance-data/internal/config"
	"github.com/quantfall/binance-data/internal/feed"
	"github.com/quantfall/binance-data/internal/metrics"
	"github.com/quantfall/binance-data/internal/model"
	"github.com/quantfall/binance-data/internal/store"
	"github.com/quantfall/binance-data/internal/updater"
	"github.com/quantfall/binance-data/internal/version"
)

const statsInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", "configs/updater.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting updater",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Canonical store: Postgres mirror when enabled, archive tree otherwise
	format, err := model.ParseFormat(cfg.Storage.Format)
	if err != nil {
		logger.Error("invalid storage format", "error", err)
		os.Exit(1)
	}

	var st store.Store
	var pool *pgxpool.Pool
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err = store.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := store.NewPGStore(pool, logger)
		if err := pg.Init(ctx); err != nil {
			logger.Error("failed to initialize database schema", "error", err)
			os.Exit(1)
		}
		st = pg
		logger.Info("database connected")
	} else {
		fs, err := store.NewFileStore(cfg.Storage.Root, format, logger)
		if err != nil {
			logger.Error("failed to open file store", "error", err)
			os.Exit(1)
		}
		st = fs
	}

	// Live feed
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

	// One updater per streamable series, all sharing the lock table
	locks := store.NewLocks()
	ucfg := updater.Config{
		BatchSize:          cfg.Updater.BatchSize,
		FlushInterval:      cfg.Updater.FlushInterval,
		DedupWindow:        cfg.Updater.DedupWindow,
		ReconnectBaseDelay: cfg.Updater.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Updater.ReconnectMaxDelay,
		MaxReconnects:      cfg.Updater.MaxReconnects,
	}

	updaters := make(map[string]*updater.Updater)
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
		updaters[series.String()] = updater.New(ucfg, series, fd, st, locks, logger)
	}
	if len(updaters) == 0 {
		logger.Error("no streamable series configured")
		os.Exit(1)
	}

	collector := metrics.NewCollector("")
	var states sync.Map

	// Metrics and health server
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, collector.Handler())
	mux.Handle("/health", healthHandler(pool, &states))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Run updaters; the first failure cancels the rest
	g, gctx := errgroup.WithContext(ctx)
	for name, u := range updaters {
		states.Store(name, model.UpdaterIdle)
		go watchEvents(name, u, &states, collector, logger)
		g.Go(func() error {
			return u.Run(gctx)
		})
	}

	go reportStats(ctx, updaters, collector, logger)

	logger.Info("updater running",
		"series", len(updaters),
		"transport", cfg.Feed.Transport,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	err = g.Wait()

	// Graceful shutdown of the metrics server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("updater failed", "error", err)
		os.Exit(1)
	}
	logger.Info("updater stopped")
}

// watchEvents mirrors one updater's state changes into the health map and
// the collector. Runs until the updater closes its event channel.
func watchEvents(name string, u *updater.Updater, states *sync.Map, collector *metrics.Collector, logger *slog.Logger) {
	for ev := range u.Events() {
		states.Store(name, ev.State)
		collector.SetUpdaterState(name, ev.State)
		if ev.Break != nil {
			collector.ContinuityBreak(name)
			logger.Error("continuity break detected",
				"series", name,
				"last_time", ev.Break.LastTime,
				"last_id", ev.Break.LastID,
				"next_time", ev.Break.NextTime,
				"next_id", ev.Break.NextID,
			)
		}
	}
}

// reportStats logs counter snapshots periodically and feeds the deltas to
// the collector.
func reportStats(ctx context.Context, updaters map[string]*updater.Updater, collector *metrics.Collector, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	prev := make(map[string]updater.Stats, len(updaters))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, u := range updaters {
				cur := u.Stats()
				last := prev[name]
				prev[name] = cur

				collector.FlushFinished(name, int(cur.Flushed-last.Flushed))
				collector.DuplicatesDropped(name, int(cur.Dropped-last.Dropped))
				collector.Reconnects(name, int(cur.Reconnects-last.Reconnects))

				logger.Info("updater stats",
					"series", name,
					"received", cur.Received,
					"flushed", cur.Flushed,
					"dropped", cur.Dropped,
					"reconnects", cur.Reconnects,
					"last_key", cur.LastFlushedKey,
				)
			}
		}
	}
}

// healthHandler reports per-series updater states and, when a pool is
// present, database reachability.
func healthHandler(pool *pgxpool.Pool, states *sync.Map) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status string            `json:"status"`
			Series map[string]string `json:"series"`
		}{
			Status: "healthy",
			Series: make(map[string]string),
		}

		states.Range(func(k, v any) bool {
			state := v.(model.UpdaterState)
			health.Series[k.(string)] = string(state)
			if state == model.UpdaterStopped {
				health.Status = "degraded"
			}
			return true
		})

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}
