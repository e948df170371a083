package model

import (
	"fmt"
	"time"
)

// Interval is a kline aggregation interval as named by the archive.
type Interval string

const (
	Interval1s  Interval = "1s"
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
	Interval1mo Interval = "1mo"
)

// Intervals lists every interval the archive publishes, finest first.
var Intervals = []Interval{
	Interval1s, Interval1m, Interval3m, Interval5m, Interval15m, Interval30m,
	Interval1h, Interval2h, Interval4h, Interval6h, Interval8h, Interval12h,
	Interval1d, Interval3d, Interval1w, Interval1mo,
}

// intervalMicros holds the fixed length of one unit. 1mo is calendar-based
// and handled separately in Advance.
var intervalMicros = map[Interval]int64{
	Interval1s:  time.Second.Microseconds(),
	Interval1m:  time.Minute.Microseconds(),
	Interval3m:  (3 * time.Minute).Microseconds(),
	Interval5m:  (5 * time.Minute).Microseconds(),
	Interval15m: (15 * time.Minute).Microseconds(),
	Interval30m: (30 * time.Minute).Microseconds(),
	Interval1h:  time.Hour.Microseconds(),
	Interval2h:  (2 * time.Hour).Microseconds(),
	Interval4h:  (4 * time.Hour).Microseconds(),
	Interval6h:  (6 * time.Hour).Microseconds(),
	Interval8h:  (8 * time.Hour).Microseconds(),
	Interval12h: (12 * time.Hour).Microseconds(),
	Interval1d:  (24 * time.Hour).Microseconds(),
	Interval3d:  (72 * time.Hour).Microseconds(),
	Interval1w:  (168 * time.Hour).Microseconds(),
}

// ParseInterval validates and returns the interval named by s.
func ParseInterval(s string) (Interval, error) {
	i := Interval(s)
	if !i.Valid() {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return i, nil
}

// Valid reports whether i is an interval the archive publishes.
func (i Interval) Valid() bool {
	if i == Interval1mo {
		return true
	}
	_, ok := intervalMicros[i]
	return ok
}

// Micros returns the fixed length of one unit in microseconds, or 0 for the
// calendar-length 1mo interval.
func (i Interval) Micros() int64 { return intervalMicros[i] }

// Advance moves ts forward by exactly one interval unit. 1mo advances by a
// calendar month in UTC.
func (i Interval) Advance(ts int64) int64 {
	if i == Interval1mo {
		return Micros(FromMicros(ts).AddDate(0, 1, 0))
	}
	return ts + intervalMicros[i]
}

// DailyArchived reports whether the archive publishes daily partition files
// for this interval. Intervals spanning multiple days appear only in monthly
// partitions.
func (i Interval) DailyArchived() bool {
	switch i {
	case Interval3d, Interval1w, Interval1mo:
		return false
	}
	return i.Valid()
}

// -----------------------------------------------------------------------------
// Time helpers
// -----------------------------------------------------------------------------

// Micros converts a time to microseconds since epoch.
func Micros(t time.Time) int64 { return t.UnixMicro() }

// FromMicros converts microseconds since epoch to a UTC time.
func FromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

// NormalizeMicros widens a raw archive timestamp to microseconds. The
// archive published milliseconds until early 2025 and microseconds after;
// millisecond values stay below 1e14 for the next three millennia.
func NormalizeMicros(raw int64) int64 {
	if raw > 0 && raw < 1e14 {
		return raw * 1000
	}
	return raw
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayRange returns the inclusive microsecond range of the UTC day containing t.
func DayRange(t time.Time) TimeRange {
	start := Day(t)
	return TimeRange{Start: Micros(start), End: Micros(start.AddDate(0, 0, 1)) - 1}
}

// MonthRange returns the inclusive microsecond range of the UTC month
// containing t.
func MonthRange(t time.Time) TimeRange {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return TimeRange{Start: Micros(start), End: Micros(start.AddDate(0, 1, 0)) - 1}
}
