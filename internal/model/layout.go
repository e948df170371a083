package model

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Archive layout helpers. Historical partitions live under
//
//	data/<spot|futures/um|futures/cm>/<daily|monthly>/<dataType>/<SYMBOL>/[<interval>/]
//
// with filenames <SYMBOL>-<dataType|interval>-<YYYY-MM[-DD]>.<ext>. Monthly
// filenames truncate the date to the month.

// ArchivePath returns the relative directory for the series at granularity g,
// with a trailing slash, matching the public archive layout.
func (s Series) ArchivePath(g Granularity) string {
	segment := "data/spot"
	if s.Market == MarketUM || s.Market == MarketCM {
		segment = "data/futures/" + string(s.Market)
	}
	p := fmt.Sprintf("%s/%s/%s/%s/", segment, g, s.DataType, strings.ToUpper(s.Symbol))
	if s.DataType.IsKlines() {
		p += string(s.Interval) + "/"
	}
	return p
}

// PartitionBasename returns the filename stem for the partition of s at
// granularity g covering date, without extension.
func (s Series) PartitionBasename(g Granularity, date time.Time) string {
	layout := "2006-01-02"
	if g == GranularityMonthly {
		layout = "2006-01"
	}
	token := string(s.DataType)
	if s.DataType.IsKlines() {
		token = string(s.Interval)
	}
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(s.Symbol), token, date.UTC().Format(layout))
}

// PartitionRange returns the inclusive time range a partition at granularity
// g covering date claims.
func PartitionRange(g Granularity, date time.Time) TimeRange {
	if g == GranularityMonthly {
		return MonthRange(date)
	}
	return DayRange(date)
}

// ParsePartitionFilename extracts the covering date, granularity and format
// from an archive filename for series s. Filenames that do not belong to the
// series layout yield an error and are skipped by callers.
func ParsePartitionFilename(s Series, name string) (time.Time, Granularity, Format, error) {
	ext := path.Ext(name)
	format, err := ParseFormat(ext)
	if err != nil {
		return time.Time{}, "", "", fmt.Errorf("partition %q: %w", name, err)
	}
	stem := strings.TrimSuffix(name, ext)

	token := string(s.DataType)
	if s.DataType.IsKlines() {
		token = string(s.Interval)
	}
	prefix := strings.ToUpper(s.Symbol) + "-" + token + "-"
	if !strings.HasPrefix(stem, prefix) {
		return time.Time{}, "", "", fmt.Errorf("partition %q: not a %s file", name, s)
	}
	datePart := strings.TrimPrefix(stem, prefix)

	switch strings.Count(datePart, "-") {
	case 1:
		d, err := time.ParseInLocation("2006-01", datePart, time.UTC)
		if err != nil {
			return time.Time{}, "", "", fmt.Errorf("partition %q: %w", name, err)
		}
		return d, GranularityMonthly, format, nil
	case 2:
		d, err := time.ParseInLocation("2006-01-02", datePart, time.UTC)
		if err != nil {
			return time.Time{}, "", "", fmt.Errorf("partition %q: %w", name, err)
		}
		return d, GranularityDaily, format, nil
	}
	return time.Time{}, "", "", fmt.Errorf("partition %q: unrecognized date %q", name, datePart)
}
