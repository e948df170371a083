package merge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quantfall/binance-data/internal/codec"
	"github.com/quantfall/binance-data/internal/continuity"
	"github.com/quantfall/binance-data/internal/model"
)

// Job is one merge request: the partitions discovered for a series plus an
// optional previously materialized dataset to merge into.
type Job struct {
	Series     model.Series
	Requested  model.TimeRange
	Partitions []model.Partition // catalog order, discovery index = position
	Existing   *model.Dataset
}

// Engine merges partition contents into canonical datasets.
type Engine struct {
	opener  codec.Opener
	logger  *slog.Logger
	workers int
}

// Option configures an Engine.
type Option func(*Engine)

// WithOpener sets the partition opener. Defaults to reading local files.
func WithOpener(o codec.Opener) Option {
	return func(e *Engine) { e.opener = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithWorkers sets the number of concurrent partition decoders.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New creates a merge engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		opener:  codec.Files{},
		logger:  slog.Default(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// bucket holds one source's decoded records together with the attributes
// that decide dedup precedence.
type bucket struct {
	granularity model.Granularity
	origin      model.Origin
	discovery   int
	records     []model.Record
}

// Merge decodes the job's partitions, unions them with the existing dataset,
// deduplicates, sorts, and validates coverage against the requested range.
//
// A partition that cannot be read is excluded and reported, not fatal.
// Records outside the requested range are dropped; the existing dataset's
// records are always carried in full.
func (e *Engine) Merge(ctx context.Context, job Job) (*model.Dataset, *Report, error) {
	start := time.Now()

	if err := job.Series.Validate(); err != nil {
		return nil, nil, fmt.Errorf("merge: %w", err)
	}
	if !job.Requested.Valid() {
		return nil, nil, fmt.Errorf("merge %s: invalid requested range %s", job.Series, job.Requested)
	}
	if len(job.Partitions) == 0 && (job.Existing == nil || len(job.Existing.Records) == 0) {
		return nil, nil, fmt.Errorf("merge %s: nothing to merge: %w", job.Series, model.ErrNotFound)
	}

	rep := &Report{
		JobID:     uuid.New(),
		Series:    job.Series,
		Requested: job.Requested,
	}

	e.logger.Info("merge started",
		"job_id", rep.JobID,
		"series", job.Series.String(),
		"requested", job.Requested.String(),
		"partitions", len(job.Partitions),
	)

	buckets, decodeErrs, err := e.decodePartitions(ctx, job, rep)
	if err != nil {
		return nil, nil, err
	}
	for i, derr := range decodeErrs {
		if derr == nil {
			continue
		}
		e.logger.Warn("partition unreadable",
			"job_id", rep.JobID,
			"path", job.Partitions[i].Path,
			"error", derr,
		)
		rep.UnreadablePartitions = append(rep.UnreadablePartitions, UnreadablePartition{
			Partition: job.Partitions[i],
			Err:       derr,
		})
	}

	if job.Existing != nil && len(job.Existing.Records) > 0 {
		// The existing dataset ranks as the finest archive source discovered
		// before every partition, so republished partitions of equal
		// granularity act as corrections while monthly files cannot clobber
		// already-resolved fine data.
		buckets = append(buckets, bucket{
			granularity: model.GranularityDaily,
			origin:      model.OriginArchive,
			discovery:   -1,
			records:     job.Existing.Records,
		})
		rep.RecordsRead += len(job.Existing.Records)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	records, dups := dedup(buckets)
	rep.DuplicatesDropped = dups
	rep.RecordsRetained = len(records)

	slices.SortStableFunc(records, model.Record.Compare)

	coverage := e.validateCoverage(job, decodeErrs, rep)

	rep.Elapsed = time.Since(start)
	e.logger.Info("merge finished",
		"job_id", rep.JobID,
		"read", rep.RecordsRead,
		"retained", rep.RecordsRetained,
		"duplicates", rep.DuplicatesDropped,
		"out_of_range", rep.RecordsOutOfRange,
		"gaps", len(rep.Gaps),
		"unreadable", len(rep.UnreadablePartitions),
		"elapsed", rep.Elapsed,
	)

	return &model.Dataset{
		Series:   job.Series,
		Coverage: coverage,
		Records:  records,
	}, rep, nil
}

// decodePartitions reads every partition concurrently. The returned error
// slice is parallel to job.Partitions; a non-nil entry marks a partition
// whose contents were discarded.
func (e *Engine) decodePartitions(ctx context.Context, job Job, rep *Report) ([]bucket, []error, error) {
	n := len(job.Partitions)
	buckets := make([]bucket, 0, n+1)
	decoded := make([][]model.Record, n)
	decodeErrs := make([]error, n)
	reads := make([]int, n)
	drops := make([]int, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, p := range job.Partitions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records, read, dropped, err := e.readPartition(p, job.Requested)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				decodeErrs[i] = err
				return nil
			}
			decoded[i] = records
			reads[i] = read
			drops[i] = dropped
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for i, p := range job.Partitions {
		rep.RecordsRead += reads[i]
		rep.RecordsOutOfRange += drops[i]
		if decodeErrs[i] != nil {
			continue
		}
		buckets = append(buckets, bucket{
			granularity: p.Granularity,
			origin:      p.Origin,
			discovery:   i,
			records:     decoded[i],
		})
	}
	return buckets, decodeErrs, nil
}

// readPartition drains one partition, keeping records inside the requested
// range. A decode error discards the whole partition: a half-read file
// cannot back its claimed coverage.
func (e *Engine) readPartition(p model.Partition, requested model.TimeRange) ([]model.Record, int, int, error) {
	r, err := e.opener.Open(p)
	if err != nil {
		return nil, 0, 0, err
	}
	defer r.Close()

	var records []model.Record
	read, dropped := 0, 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, read, dropped, nil
		}
		if err != nil {
			return nil, 0, 0, err
		}
		read++
		if !requested.Contains(rec.Time) {
			dropped++
			continue
		}
		records = append(records, rec)
	}
}

// dedup keeps one record per identity across all buckets. Precedence: finer
// granularity, then archive over live, then later discovery. Records with an
// identity key dedup on it; keyless records dedup on the ordering key, so
// equal-time trades survive while equal-time candles collapse.
func dedup(buckets []bucket) ([]model.Record, int) {
	slices.SortFunc(buckets, func(a, b bucket) int {
		if a.granularity != b.granularity {
			if a.granularity.Finer(b.granularity) {
				return -1
			}
			return 1
		}
		if a.origin != b.origin {
			if a.origin == model.OriginArchive {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.discovery, a.discovery)
	})

	total := 0
	for _, b := range buckets {
		total += len(b.records)
	}

	seenIDs := make(map[int64]struct{}, total)
	var seenTimes map[int64]struct{}
	out := make([]model.Record, 0, total)
	dups := 0

	for _, b := range buckets {
		for _, r := range b.records {
			if r.HasID() {
				if _, ok := seenIDs[r.ID]; ok {
					dups++
					continue
				}
				seenIDs[r.ID] = struct{}{}
			} else {
				if seenTimes == nil {
					seenTimes = make(map[int64]struct{}, total)
				}
				if _, ok := seenTimes[r.Time]; ok {
					dups++
					continue
				}
				seenTimes[r.Time] = struct{}{}
			}
			out = append(out, r)
		}
	}
	return out, dups
}

// validateCoverage runs the continuity sweep over the readable partitions'
// claimed ranges plus the existing dataset's coverage, fills the report, and
// returns the dataset's contiguous coverage: the earliest covered run.
func (e *Engine) validateCoverage(job Job, decodeErrs []error, rep *Report) model.TimeRange {
	hull := job.Requested
	claims := make([]model.Partition, 0, len(job.Partitions)+1)
	for i, p := range job.Partitions {
		if decodeErrs[i] != nil {
			continue
		}
		clipped := p.Range.Intersect(job.Requested)
		if !clipped.Valid() {
			continue
		}
		claims = append(claims, model.Partition{Range: clipped})
	}
	if job.Existing != nil && len(job.Existing.Records) > 0 && job.Existing.Coverage.Valid() {
		claims = append(claims, model.Partition{Range: job.Existing.Coverage})
		if job.Existing.Coverage.Start < hull.Start {
			hull.Start = job.Existing.Coverage.Start
		}
		if job.Existing.Coverage.End > hull.End {
			hull.End = job.Existing.Coverage.End
		}
	}

	crep := continuity.Validate(claims, hull, job.Series.Unit())
	rep.Covered = crep.Covered
	rep.Gaps = crep.Gaps
	if len(crep.Covered) > 0 {
		return crep.Covered[0]
	}
	return model.TimeRange{}
}
