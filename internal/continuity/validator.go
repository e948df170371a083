package continuity

import (
	"slices"

	"github.com/quantfall/binance-data/internal/model"
)

// Report is the outcome of a validation sweep.
type Report struct {
	Covered []model.TimeRange // maximal contiguous ranges, clamped to the request
	Gaps    []model.Gap       // uncovered sub-ranges of the request, in order
}

// Contiguous reports whether the request is covered by a single unbroken
// range.
func (r Report) Contiguous() bool { return len(r.Gaps) == 0 && len(r.Covered) == 1 }

// Validate sweeps the partitions left to right, merging overlapping and
// adjacent ranges, and emits every uncovered sub-range of requested as a
// gap with explicit bounds.
//
// Two ranges are adjacent when the start of the next lies within one unit
// of the end of the previous; this lets daily files stitch without exact
// end-to-end touching. unit handles calendar months, so monthly partitions
// stitch across uneven month lengths.
func Validate(partitions []model.Partition, requested model.TimeRange, unit model.Interval) Report {
	var report Report

	ranges := make([]model.TimeRange, 0, len(partitions))
	for _, p := range partitions {
		if p.Range.Intersects(requested) {
			ranges = append(ranges, p.Range)
		}
	}
	if len(ranges) == 0 {
		if requested.Valid() {
			report.Gaps = append(report.Gaps, model.Gap{Range: requested})
		}
		return report
	}
	slices.SortFunc(ranges, func(a, b model.TimeRange) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	cur := ranges[0]
	if gap, ok := gapBetween(requested.Start-1, cur.Start, unit); ok {
		report.Gaps = append(report.Gaps, gap)
	}

	for _, r := range ranges[1:] {
		if r.Start <= cur.End {
			if r.End > cur.End {
				cur.End = r.End
			}
			continue
		}
		gap, ok := gapBetween(cur.End, r.Start, unit)
		if !ok {
			// Within one unit: contiguous.
			if r.End > cur.End {
				cur.End = r.End
			}
			continue
		}
		report.Gaps = append(report.Gaps, gap)
		report.Covered = append(report.Covered, cur.Intersect(requested))
		cur = r
	}

	if gap, ok := gapBetween(cur.End, requested.End+1, unit); ok {
		report.Gaps = append(report.Gaps, gap)
	}
	report.Covered = append(report.Covered, cur.Intersect(requested))
	return report
}

// gapBetween reports whether the uncovered span (end, start) holds at least
// one full interval unit, and returns it with inclusive bounds when it does.
func gapBetween(end, start int64, unit model.Interval) (model.Gap, bool) {
	gapStart := end + 1
	gapEnd := start - 1
	if gapStart > gapEnd {
		return model.Gap{}, false
	}
	if unit.Advance(gapStart)-1 > gapEnd {
		return model.Gap{}, false
	}
	return model.Gap{Range: model.TimeRange{Start: gapStart, End: gapEnd}}, true
}
