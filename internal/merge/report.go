package merge

import (
	"time"

	"github.com/google/uuid"

	"github.com/quantfall/binance-data/internal/model"
)

// UnreadablePartition records one partition excluded from a merge because
// its contents could not be read.
type UnreadablePartition struct {
	Partition model.Partition
	Err       error
}

// Report summarizes one merge operation.
type Report struct {
	JobID     uuid.UUID
	Series    model.Series
	Requested model.TimeRange

	RecordsRead       int // decoded from readable partitions plus the existing dataset
	DuplicatesDropped int // identity or ordering-key collisions resolved away
	RecordsOutOfRange int // decoded records outside the requested range
	RecordsRetained   int

	Covered              []model.TimeRange
	Gaps                 []model.Gap
	UnreadablePartitions []UnreadablePartition

	Elapsed time.Duration
}

// Clean reports whether the merge produced full, readable coverage.
func (r *Report) Clean() bool {
	return len(r.Gaps) == 0 && len(r.UnreadablePartitions) == 0
}
