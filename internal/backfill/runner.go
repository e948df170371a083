package backfill

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfall/binance-data/internal/catalog"
	"github.com/quantfall/binance-data/internal/codec"
	"github.com/quantfall/binance-data/internal/model"
)

// Report summarizes one backfill run.
type Report struct {
	Planned    int
	Downloaded int // converted and written
	Missing    int // never published remotely, skipped
	Failed     int // download or conversion failures
	Elapsed    time.Duration
}

// Runner downloads planned partitions and writes them into the local
// archive tree in the configured storage format.
type Runner struct {
	fetcher     catalog.Fetcher
	format      model.Format
	concurrency int
	logger      *slog.Logger
}

// NewRunner creates a runner converting downloaded zips to format.
func NewRunner(fetcher catalog.Fetcher, format model.Format, concurrency int, logger *slog.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		fetcher:     fetcher,
		format:      format,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run executes jobs with bounded concurrency. Remote holes and per-job
// failures are tallied and logged, not fatal; only cancellation aborts
// the run.
func (r *Runner) Run(ctx context.Context, jobs []Job) (*Report, error) {
	start := time.Now()
	var downloaded, missing, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			switch err := r.materialize(gctx, job); {
			case err == nil:
				downloaded.Add(1)
			case errors.Is(err, model.ErrNotFound):
				r.logger.Warn("partition not published",
					"series", job.Descriptor.Series.String(),
					"granularity", string(job.Descriptor.Granularity),
					"date", job.Descriptor.Date.Format(time.DateOnly),
				)
				missing.Add(1)
			default:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Error("backfill job failed",
					"target", job.TargetPath,
					"error", err,
				)
				failed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{
		Planned:    len(jobs),
		Downloaded: int(downloaded.Load()),
		Missing:    int(missing.Load()),
		Failed:     int(failed.Load()),
		Elapsed:    time.Since(start),
	}
	r.logger.Info("backfill run finished",
		"planned", rep.Planned,
		"downloaded", rep.Downloaded,
		"missing", rep.Missing,
		"failed", rep.Failed,
		"elapsed", rep.Elapsed,
	)
	return rep, nil
}

// materialize downloads one partition and publishes it at the job
// target, converting the archive's zip container to the storage format.
func (r *Runner) materialize(ctx context.Context, job Job) error {
	data, err := r.fetcher.Download(ctx, job.Descriptor)
	if err != nil {
		return err
	}

	if r.format != model.FormatZip {
		converted, err := r.convert(data, job.Descriptor.Series)
		if err != nil {
			return fmt.Errorf("convert %s: %w", filepath.Base(job.TargetPath), err)
		}
		data = converted
	}

	if err := os.MkdirAll(filepath.Dir(job.TargetPath), 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}
	return writeAtomic(job.TargetPath, data)
}

// convert re-encodes a downloaded zip container in the storage format,
// preserving record order.
func (r *Runner) convert(data []byte, series model.Series) ([]byte, error) {
	records, err := decodeZip(data, series)
	if err != nil {
		return nil, err
	}

	out, err := codec.ForFormat(r.format)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := out.Encode(&buf, series, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeZip drains the zip container's records in file order.
func decodeZip(data []byte, series model.Series) ([]model.Record, error) {
	zc, err := codec.ForFormat(model.FormatZip)
	if err != nil {
		return nil, err
	}
	reader, err := zc.Decode(data, series)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var records []model.Record
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

// writeAtomic publishes data at path via a temp file and rename so
// concurrent catalog scans never see a partial partition.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partition-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write partition: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close partition: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish partition: %w", err)
	}
	return nil
}
