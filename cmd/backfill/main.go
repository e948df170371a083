package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantfall/binance-data/internal/archive"
	"github.com/quantfall/binance-data/internal/backfill"
	"github.com/quantfall/binance-data/internal/catalog"
	"github.com/quantfall/binance-data/internal/config"
	"github.com/quantfall/binance-data/internal/merge"
	"github.com/quantfall/binance-data/internal/metrics"
	"github.com/quantfall/binance-data/internal/model"
	"github.com/quantfall/binance-data/internal/store"
	"github.com/quantfall/binance-data/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/backfill.example.yaml", "path to config file")
	startFlag := flag.String("start", "", "start date YYYY-MM-DD (default: earliest the archive serves)")
	endFlag := flag.String("end", "", "end date YYYY-MM-DD (default: now)")
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

	logger.Info("starting backfill",
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

	within, err := parseRange(*startFlag, *endFlag)
	if err != nil {
		logger.Error("invalid date range", "error", err)
		os.Exit(1)
	}

	series, err := seriesList(cfg)
	if err != nil {
		logger.Error("invalid series", "error", err)
		os.Exit(1)
	}

	format, err := model.ParseFormat(cfg.Storage.Format)
	if err != nil {
		logger.Error("invalid storage format", "error", err)
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

	// Archive client shared by the download and merge phases
	clientOpts := []archive.ClientOption{
		archive.WithLogger(logger),
		archive.WithTimeout(cfg.Archive.Timeout),
		archive.WithRetries(cfg.Archive.MaxRetries, cfg.Archive.RetryBackoff),
	}
	if cfg.Archive.VerifyChecksums {
		clientOpts = append(clientOpts, archive.WithChecksumVerification())
	}
	client := archive.NewClient(cfg.Archive.BaseURL, clientOpts...)

	collector := metrics.NewCollector("")

	// Serve metrics for the duration of the run; backfills can take hours
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metricsMux(cfg.Metrics.Path, collector),
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	// Phase 1: download missing partitions into the archive tree
	planner := backfill.NewPlanner(cfg.Storage.Root, format, client, logger)
	jobs, err := planner.Plan(ctx, series, within)
	if err != nil {
		logger.Error("planning failed", "error", err)
		os.Exit(1)
	}

	runner := backfill.NewRunner(client, format, cfg.Backfill.Concurrency, logger)
	rep, err := runner.Run(ctx, jobs)
	if err != nil {
		logger.Error("backfill aborted", "error", err)
		os.Exit(1)
	}
	collector.BackfillFinished(rep.Downloaded, rep.Missing, rep.Failed)

	// Phase 2: merge each series' partitions into its canonical dataset
	st, cleanup, err := openStore(ctx, cfg, format, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	cat := catalog.New(cfg.Storage.Root,
		catalog.WithFetcher(client),
		catalog.WithLogger(logger),
	)
	eng := merge.New(
		merge.WithLogger(logger),
		merge.WithWorkers(cfg.Merge.Workers),
	)
	locks := store.NewLocks()

	merged, failed := 0, 0
	for _, s := range series {
		err := mergeSeries(ctx, s, within, cat, eng, st, locks, collector, logger)
		switch {
		case err == nil:
			merged++
		case errors.Is(err, model.ErrNotFound):
			logger.Warn("nothing to merge", "series", s.String())
		case ctx.Err() != nil:
			logger.Info("merge phase cancelled")
			os.Exit(1)
		default:
			logger.Error("merge failed", "series", s.String(), "error", err)
			failed++
		}
	}

	logger.Info("backfill finished",
		"downloaded", rep.Downloaded,
		"missing", rep.Missing,
		"download_failures", rep.Failed,
		"merged", merged,
		"merge_failures", failed,
	)
	if failed > 0 {
		os.Exit(1)
	}
}

// mergeSeries rebuilds one series' canonical dataset under its lock.
func mergeSeries(
	ctx context.Context,
	series model.Series,
	within model.TimeRange,
	cat *catalog.Catalog,
	eng *merge.Engine,
	st store.Store,
	locks *store.Locks,
	collector *metrics.Collector,
	logger *slog.Logger,
) error {
	release, err := locks.Acquire(series)
	if err != nil {
		return err
	}
	defer release()

	partitions, resolved, err := cat.List(ctx, series, within)
	if err != nil {
		return err
	}

	existing, err := st.Load(ctx, series)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}

	ds, rep, err := eng.Merge(ctx, merge.Job{
		Series:     series,
		Requested:  resolved,
		Partitions: partitions,
		Existing:   existing,
	})
	if err != nil {
		return err
	}

	if err := st.Replace(ctx, ds); err != nil {
		return err
	}

	collector.MergeFinished(series.String(),
		rep.RecordsRetained, rep.DuplicatesDropped,
		len(rep.UnreadablePartitions), len(rep.Gaps), rep.Elapsed)

	logger.Info("series merged",
		"job_id", rep.JobID,
		"series", series.String(),
		"records", rep.RecordsRetained,
		"duplicates", rep.DuplicatesDropped,
		"out_of_range", rep.RecordsOutOfRange,
		"unreadable", len(rep.UnreadablePartitions),
		"gaps", len(rep.Gaps),
		"elapsed", rep.Elapsed,
	)
	for _, gap := range rep.Gaps {
		logger.Warn("coverage gap", "series", series.String(), "range", gap.Range.String())
	}
	return nil
}

// openStore selects the Postgres mirror when enabled, the archive tree
// otherwise. cleanup closes the pool when one was opened.
func openStore(ctx context.Context, cfg *config.Config, format model.Format, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Database.Enabled {
		pool, err := store.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPGStore(pool, logger)
		if err := pg.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil
	}

	fs, err := store.NewFileStore(cfg.Storage.Root, format, logger)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func metricsMux(path string, collector *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, collector.Handler())
	return mux
}

// parseRange turns optional date flags into a range. Zero bounds are
// resolved downstream against the archive's earliest date and the clock.
func parseRange(start, end string) (model.TimeRange, error) {
	var r model.TimeRange
	if start != "" {
		t, err := time.Parse(time.DateOnly, start)
		if err != nil {
			return r, fmt.Errorf("invalid -start: %w", err)
		}
		r.Start = model.Micros(t)
	}
	if end != "" {
		t, err := time.Parse(time.DateOnly, end)
		if err != nil {
			return r, fmt.Errorf("invalid -end: %w", err)
		}
		r.End = model.Micros(t)
	}
	if r.Start != 0 && r.End != 0 && !r.Valid() {
		return r, fmt.Errorf("start %s is after end %s", start, end)
	}
	return r, nil
}

func seriesList(cfg *config.Config) ([]model.Series, error) {
	out := make([]model.Series, 0, len(cfg.Series))
	for i, sc := range cfg.Series {
		s, err := sc.Series()
		if err != nil {
			return nil, fmt.Errorf("series[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}
