package model

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Series Identity
// -----------------------------------------------------------------------------

// Market identifies a Binance product segment.
type Market string

const (
	MarketSpot Market = "spot" // Spot exchange
	MarketUM   Market = "um"   // USD(S)-margined futures
	MarketCM   Market = "cm"   // Coin-margined futures
)

// Valid reports whether m is a known market segment.
func (m Market) Valid() bool {
	switch m {
	case MarketSpot, MarketUM, MarketCM:
		return true
	}
	return false
}

// DataType identifies the kind of records a series carries.
type DataType string

const (
	DataTypeTrades    DataType = "trades"
	DataTypeAggTrades DataType = "aggTrades"
	DataTypeKlines    DataType = "klines"

	// Futures-only data types (um, cm).
	DataTypeBookTicker         DataType = "bookTicker"
	DataTypeFundingRate        DataType = "fundingRate"
	DataTypeIndexPriceKlines   DataType = "indexPriceKlines"
	DataTypeMarkPriceKlines    DataType = "markPriceKlines"
	DataTypePremiumIndexKlines DataType = "premiumIndexKlines"
)

// IsKlines reports whether the data type is kline-style (candles keyed by an
// interval boundary, one record per boundary, no per-record identity).
func (d DataType) IsKlines() bool {
	return strings.Contains(strings.ToLower(string(d)), "klines")
}

// ValidFor reports whether the archive publishes this data type for market m.
func (d DataType) ValidFor(m Market) bool {
	switch d {
	case DataTypeTrades, DataTypeAggTrades, DataTypeKlines:
		return m.Valid()
	case DataTypeBookTicker, DataTypeFundingRate, DataTypeIndexPriceKlines,
		DataTypeMarkPriceKlines, DataTypePremiumIndexKlines:
		return m == MarketUM || m == MarketCM
	}
	return false
}

// Series identifies one logical time-ordered dataset: one symbol, data type
// and market segment, plus the interval for kline-style types.
type Series struct {
	Market   Market   // spot, um, cm
	DataType DataType // trades, aggTrades, klines, ...
	Symbol   string   // e.g. "BTCUSDT"
	Interval Interval // set only for kline-style data types
}

// String renders the series in archive path order, e.g.
// "spot/klines/BTCUSDT/1m" or "um/aggTrades/BTCUSDT".
func (s Series) String() string {
	if s.DataType.IsKlines() {
		return fmt.Sprintf("%s/%s/%s/%s", s.Market, s.DataType, strings.ToUpper(s.Symbol), s.Interval)
	}
	return fmt.Sprintf("%s/%s/%s", s.Market, s.DataType, strings.ToUpper(s.Symbol))
}

// Validate checks the series identity against the archive's published
// combinations.
func (s Series) Validate() error {
	if !s.Market.Valid() {
		return fmt.Errorf("invalid market %q", s.Market)
	}
	if !s.DataType.ValidFor(s.Market) {
		return fmt.Errorf("data type %q not published for market %q", s.DataType, s.Market)
	}
	if s.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if s.DataType.IsKlines() {
		if !s.Interval.Valid() {
			return fmt.Errorf("invalid interval %q", s.Interval)
		}
		if s.Interval == Interval1s && s.Market != MarketSpot {
			return fmt.Errorf("interval 1s is spot-only")
		}
	} else if s.Interval != "" {
		return fmt.Errorf("interval %q set on non-kline data type %q", s.Interval, s.DataType)
	}
	return nil
}

// Unit returns the interval granularity used for continuity arithmetic:
// the series interval for kline-style types, one second otherwise.
func (s Series) Unit() Interval {
	if s.DataType.IsKlines() {
		return s.Interval
	}
	return Interval1s
}

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// NoID marks a record whose data type carries no exchange-assigned identity
// (klines, fundingRate). Such records are identified by Time and the series
// interval boundary instead.
const NoID int64 = -1

// Record is one observation in a series.
type Record struct {
	Time    int64  // ordering key (µs since epoch)
	ID      int64  // identity key (exchange-assigned), NoID when absent
	Payload []byte // encoded source row, opaque to the engine, carried through unmodified
}

// HasID reports whether the record carries an exchange-assigned identity.
func (r Record) HasID() bool { return r.ID != NoID }

// Compare orders records by (Time, ID). Payload never participates.
func (r Record) Compare(o Record) int {
	switch {
	case r.Time < o.Time:
		return -1
	case r.Time > o.Time:
		return 1
	case r.ID < o.ID:
		return -1
	case r.ID > o.ID:
		return 1
	}
	return 0
}

// -----------------------------------------------------------------------------
// Partitions
// -----------------------------------------------------------------------------

// Granularity is the time span one partition file covers.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	return g == GranularityDaily || g == GranularityMonthly
}

// Finer reports whether g is finer than o. Daily is finer than monthly.
func (g Granularity) Finer(o Granularity) bool {
	return g == GranularityDaily && o == GranularityMonthly
}

// Origin tags a partition's provenance. It participates in merge
// tie-breaking only, never in filtering.
type Origin string

const (
	OriginArchive Origin = "archive" // downloaded archive snapshot
	OriginLive    Origin = "live"    // derived from a live feed
)

// Format is a partition's on-disk encoding.
type Format string

const (
	FormatZip     Format = "zip"     // single headerless CSV inside a zip container
	FormatCSV     Format = "csv"     // plain CSV, with or without a header line
	FormatParquet Format = "parquet" // parquet, zstd-compressed payload column
)

// ParseFormat maps a file extension (with or without the leading dot) to a
// Format.
func ParseFormat(ext string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "zip":
		return FormatZip, nil
	case "csv":
		return FormatCSV, nil
	case "parquet":
		return FormatParquet, nil
	}
	return "", fmt.Errorf("unknown format %q", ext)
}

// Ext returns the file extension for the format, including the leading dot.
func (f Format) Ext() string { return "." + string(f) }

// Partition is one source file covering a contiguous time range for a
// series. Partitions are immutable once read: merging produces a new
// canonical artifact, source files are never rewritten in place.
type Partition struct {
	Series      Series
	Range       TimeRange   // inclusive bounds the file claims to cover
	Granularity Granularity // daily or monthly
	Origin      Origin      // archive snapshot or live-derived
	Format      Format      // zip, csv, parquet
	Path        string      // location in the local archive tree
}

// -----------------------------------------------------------------------------
// Ranges, Gaps, Datasets
// -----------------------------------------------------------------------------

// TimeRange is an inclusive [Start, End] span of ordering keys.
type TimeRange struct {
	Start int64 // µs since epoch, inclusive
	End   int64 // µs since epoch, inclusive
}

// IsZero reports whether the range is unset.
func (r TimeRange) IsZero() bool { return r.Start == 0 && r.End == 0 }

// Valid reports whether Start <= End.
func (r TimeRange) Valid() bool { return r.Start <= r.End }

// Contains reports whether ts falls inside the range.
func (r TimeRange) Contains(ts int64) bool { return ts >= r.Start && ts <= r.End }

// Intersects reports whether the two ranges share at least one microsecond.
func (r TimeRange) Intersects(o TimeRange) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Intersect returns the overlap of two ranges. The result is invalid
// (Start > End) when they do not intersect.
func (r TimeRange) Intersect(o TimeRange) TimeRange {
	out := TimeRange{Start: r.Start, End: r.End}
	if o.Start > out.Start {
		out.Start = o.Start
	}
	if o.End < out.End {
		out.End = o.End
	}
	return out
}

// String renders the range with second precision for logs.
func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s]",
		FromMicros(r.Start).Format("2006-01-02T15:04:05Z"),
		FromMicros(r.End).Format("2006-01-02T15:04:05Z"))
}

// Gap is a sub-range of a requested span with no valid covering partition.
type Gap struct {
	Range TimeRange
}

// Dataset is the canonical ordered, deduplicated output for a series.
type Dataset struct {
	Series   Series
	Coverage TimeRange // contiguous ordering-key range backed by validated records
	Records  []Record  // non-decreasing Time, unique IDs
}

// Tail returns the last record, the continuation point for a live feed.
func (d *Dataset) Tail() (Record, bool) {
	if d == nil || len(d.Records) == 0 {
		return Record{}, false
	}
	return d.Records[len(d.Records)-1], true
}

// UpdaterState names a live updater lifecycle phase.
type UpdaterState string

const (
	UpdaterIdle      UpdaterState = "idle"
	UpdaterStreaming UpdaterState = "streaming"
	UpdaterFlushing  UpdaterState = "flushing"
	UpdaterStopped   UpdaterState = "stopped"
)
