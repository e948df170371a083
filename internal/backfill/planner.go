package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/quantfall/binance-data/internal/catalog"
	"github.com/quantfall/binance-data/internal/model"
)

// Job is one remote partition to materialize in the local archive tree.
type Job struct {
	Descriptor catalog.Descriptor
	TargetPath string
}

// Planner turns series and a time range into the download jobs the local
// archive tree is missing.
type Planner struct {
	root    string
	format  model.Format
	fetcher catalog.Fetcher
	logger  *slog.Logger
}

// NewPlanner creates a planner targeting format-encoded partitions under
// root.
func NewPlanner(root string, format model.Format, fetcher catalog.Fetcher, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		root:    root,
		format:  format,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Plan lists the partitions the archive serves for every series within
// the range and returns jobs for those whose target file does not exist
// yet. Jobs are shuffled so concurrent downloads spread across series
// and months instead of hammering one prefix.
func (p *Planner) Plan(ctx context.Context, series []model.Series, within model.TimeRange) ([]Job, error) {
	var jobs []Job
	for _, s := range series {
		resolved, err := p.resolve(s, within)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", s, err)
		}

		descriptors, err := p.fetcher.ListAvailable(ctx, s, resolved)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", s, err)
		}

		planned, existing := 0, 0
		for _, d := range descriptors {
			target := p.targetPath(d)
			if _, err := os.Stat(target); err == nil {
				existing++
				continue
			}
			jobs = append(jobs, Job{Descriptor: d, TargetPath: target})
			planned++
		}

		p.logger.Debug("planned series",
			"series", s.String(),
			"range", resolved.String(),
			"jobs", planned,
			"existing", existing,
		)
	}

	rand.Shuffle(len(jobs), func(i, j int) {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	})
	return jobs, nil
}

// resolve fills open request bounds: a zero start becomes the archive's
// earliest availability for the series, a zero end becomes now.
func (p *Planner) resolve(series model.Series, within model.TimeRange) (model.TimeRange, error) {
	resolved := within
	if resolved.Start == 0 {
		earliest, err := p.fetcher.EarliestAvailable(series)
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

// targetPath is where the converted partition lands, mirroring the
// remote archive's directory layout.
func (p *Planner) targetPath(d catalog.Descriptor) string {
	name := d.Series.PartitionBasename(d.Granularity, d.Date) + p.format.Ext()
	return filepath.Join(p.root, filepath.FromSlash(d.Series.ArchivePath(d.Granularity)), name)
}
