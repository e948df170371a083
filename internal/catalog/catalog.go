package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/quantfall/binance-data/internal/model"
)

// Descriptor identifies one partition file a remote archive can serve.
type Descriptor struct {
	Series      model.Series
	Granularity model.Granularity
	Date        time.Time // covering day, or first of the covering month
}

// Range returns the inclusive time range the described partition claims.
func (d Descriptor) Range() model.TimeRange {
	return model.PartitionRange(d.Granularity, d.Date)
}

// Fetcher is the remote archive as the engine consumes it.
type Fetcher interface {
	// EarliestAvailable returns the first date the archive serves for the
	// series' market.
	EarliestAvailable(series model.Series) (time.Time, error)

	// ListAvailable enumerates the partitions the archive can serve whose
	// ranges intersect within.
	ListAvailable(ctx context.Context, series model.Series, within model.TimeRange) ([]Descriptor, error)

	// Download fetches one partition's raw bytes. Fails with
	// model.ErrNotFound when the archive has no such file and
	// model.ErrUnavailable on transient remote failures.
	Download(ctx context.Context, d Descriptor) ([]byte, error)
}

// Catalog lists partitions from a local archive tree laid out the way the
// public archive publishes them.
type Catalog struct {
	root    string
	fetcher Fetcher
	logger  *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithFetcher lets the catalog resolve open start bounds against the remote
// archive's earliest availability.
func WithFetcher(f Fetcher) Option {
	return func(c *Catalog) { c.fetcher = f }
}

// WithLogger sets the catalog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// New creates a catalog over the archive tree rooted at root.
func New(root string, opts ...Option) *Catalog {
	c := &Catalog{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns the partitions for series whose ranges intersect requested,
// sorted by range start (monthly before daily at equal start, then path),
// together with the resolved request bounds.
//
// A zero requested.Start resolves to the earliest range the fetcher reports
// available, a zero requested.End resolves to now. Fails with
// model.ErrNotFound when no partition intersects the resolved range.
func (c *Catalog) List(ctx context.Context, series model.Series, requested model.TimeRange) ([]model.Partition, model.TimeRange, error) {
	if err := series.Validate(); err != nil {
		return nil, model.TimeRange{}, fmt.Errorf("list partitions: %w", err)
	}

	resolved, err := c.resolve(series, requested)
	if err != nil {
		return nil, model.TimeRange{}, fmt.Errorf("list partitions: %w", err)
	}

	type key struct {
		granularity model.Granularity
		start       int64
	}
	best := make(map[key]model.Partition)

	for _, g := range series.Granularities() {
		dir := filepath.Join(c.root, filepath.FromSlash(series.ArchivePath(g)))
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, model.TimeRange{}, fmt.Errorf("list partitions: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			date, granularity, format, err := model.ParsePartitionFilename(series, e.Name())
			if err != nil {
				c.logger.Debug("skipping foreign file", "dir", dir, "name", e.Name())
				continue
			}
			p := model.Partition{
				Series:      series,
				Range:       model.PartitionRange(granularity, date),
				Granularity: granularity,
				Origin:      model.OriginArchive,
				Format:      format,
				Path:        filepath.Join(dir, e.Name()),
			}
			if !p.Range.Intersects(resolved) {
				continue
			}
			k := key{granularity: granularity, start: p.Range.Start}
			if cur, ok := best[k]; !ok || formatRank(p.Format) > formatRank(cur.Format) {
				best[k] = p
			}
		}
	}

	if len(best) == 0 {
		return nil, resolved, fmt.Errorf("list partitions: %s within %s: %w", series, resolved, model.ErrNotFound)
	}

	partitions := make([]model.Partition, 0, len(best))
	for _, p := range best {
		partitions = append(partitions, p)
	}
	slices.SortFunc(partitions, comparePartitions)
	return partitions, resolved, nil
}

// resolve fills open request bounds and validates them.
func (c *Catalog) resolve(series model.Series, requested model.TimeRange) (model.TimeRange, error) {
	resolved := requested
	if resolved.Start == 0 && c.fetcher != nil {
		earliest, err := c.fetcher.EarliestAvailable(series)
		if err != nil {
			return model.TimeRange{}, fmt.Errorf("resolve start: %w", err)
		}
		resolved.Start = model.Micros(model.Day(earliest))
	}
	if resolved.End == 0 {
		resolved.End = model.Micros(time.Now())
	}
	if !resolved.Valid() {
		return model.TimeRange{}, fmt.Errorf("invalid range %s", resolved)
	}
	return resolved, nil
}

// formatRank orders co-located encodings of the same partition: converted
// artifacts win over the raw archive container.
func formatRank(f model.Format) int {
	switch f {
	case model.FormatParquet:
		return 3
	case model.FormatCSV:
		return 2
	case model.FormatZip:
		return 1
	}
	return 0
}

// comparePartitions orders by range start, monthly before daily at equal
// start, then path for determinism.
func comparePartitions(a, b model.Partition) int {
	switch {
	case a.Range.Start < b.Range.Start:
		return -1
	case a.Range.Start > b.Range.Start:
		return 1
	}
	if a.Granularity != b.Granularity {
		if a.Granularity == model.GranularityMonthly {
			return -1
		}
		return 1
	}
	switch {
	case a.Path < b.Path:
		return -1
	case a.Path > b.Path:
		return 1
	}
	return 0
}
