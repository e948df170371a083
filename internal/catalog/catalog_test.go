package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfall/binance-data/internal/model"
)

var testSeries = model.Series{
	Market:   model.MarketSpot,
	DataType: model.DataTypeAggTrades,
	Symbol:   "BTCUSDT",
}

// writeArchiveFile places an empty partition file in the archive layout under
// root.
func writeArchiveFile(t *testing.T, root string, s model.Series, g model.Granularity, date time.Time, format model.Format) string {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(s.ArchivePath(g)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	name := s.PartitionBasename(g, date) + format.Ext()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("stub"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fakeFetcher struct {
	earliest time.Time
	err      error
}

func (f *fakeFetcher) EarliestAvailable(model.Series) (time.Time, error) {
	return f.earliest, f.err
}

func (f *fakeFetcher) ListAvailable(context.Context, model.Series, model.TimeRange) ([]Descriptor, error) {
	return nil, nil
}

func (f *fakeFetcher) Download(context.Context, Descriptor) ([]byte, error) {
	return nil, model.ErrNotFound
}

func TestListOrdersPartitions(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, testSeries, model.GranularityDaily, day(2023, time.February, 1), model.FormatZip)
	writeArchiveFile(t, root, testSeries, model.GranularityMonthly, day(2023, time.February, 1), model.FormatZip)
	writeArchiveFile(t, root, testSeries, model.GranularityMonthly, day(2023, time.January, 1), model.FormatZip)
	writeArchiveFile(t, root, testSeries, model.GranularityDaily, day(2023, time.March, 5), model.FormatZip)

	c := New(root)
	requested := model.TimeRange{
		Start: model.Micros(day(2023, time.January, 1)),
		End:   model.Micros(day(2023, time.April, 1)) - 1,
	}
	partitions, resolved, err := c.List(context.Background(), testSeries, requested)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if resolved != requested {
		t.Errorf("resolved = %s, want %s", resolved, requested)
	}
	if len(partitions) != 4 {
		t.Fatalf("len(partitions) = %d, want 4", len(partitions))
	}

	wantStarts := []int64{
		model.Micros(day(2023, time.January, 1)),
		model.Micros(day(2023, time.February, 1)),
		model.Micros(day(2023, time.February, 1)),
		model.Micros(day(2023, time.March, 5)),
	}
	for i, p := range partitions {
		if p.Range.Start != wantStarts[i] {
			t.Errorf("partitions[%d].Range.Start = %d, want %d", i, p.Range.Start, wantStarts[i])
		}
	}
	if partitions[1].Granularity != model.GranularityMonthly {
		t.Errorf("partitions[1].Granularity = %s, want monthly before daily at equal start", partitions[1].Granularity)
	}
	if partitions[2].Granularity != model.GranularityDaily {
		t.Errorf("partitions[2].Granularity = %s, want daily", partitions[2].Granularity)
	}
}

func TestListFiltersToRequestedRange(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, testSeries, model.GranularityDaily, day(2023, time.January, 10), model.FormatZip)
	writeArchiveFile(t, root, testSeries, model.GranularityDaily, day(2023, time.June, 1), model.FormatZip)

	c := New(root)
	requested := model.DayRange(day(2023, time.January, 10))
	partitions, _, err := c.List(context.Background(), testSeries, requested)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(partitions) != 1 {
		t.Fatalf("len(partitions) = %d, want 1", len(partitions))
	}
	if got, want := partitions[0].Range, requested; got != want {
		t.Errorf("partitions[0].Range = %s, want %s", got, want)
	}
}

func TestListNotFound(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, testSeries, model.GranularityDaily, day(2023, time.January, 10), model.FormatZip)

	c := New(root)
	requested := model.DayRange(day(2024, time.January, 10))
	_, _, err := c.List(context.Background(), testSeries, requested)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("List() error = %v, want ErrNotFound", err)
	}
}

func TestListEmptyTreeNotFound(t *testing.T) {
	c := New(t.TempDir())
	_, _, err := c.List(context.Background(), testSeries, model.DayRange(day(2023, time.January, 10)))
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("List() error = %v, want ErrNotFound", err)
	}
}

func TestListResolvesOpenBounds(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, testSeries, model.GranularityDaily, day(2023, time.March, 5), model.FormatZip)

	earliest := day(2017, time.August, 15)
	c := New(root, WithFetcher(&fakeFetcher{earliest: earliest}))

	partitions, resolved, err := c.List(context.Background(), testSeries, model.TimeRange{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got, want := resolved.Start, model.Micros(earliest); got != want {
		t.Errorf("resolved.Start = %d, want %d", got, want)
	}
	now := model.Micros(time.Now())
	if resolved.End <= resolved.Start || resolved.End > now {
		t.Errorf("resolved.End = %d, want within (%d, %d]", resolved.End, resolved.Start, now)
	}
	if len(partitions) != 1 {
		t.Errorf("len(partitions) = %d, want 1", len(partitions))
	}
}

func TestListFetcherErrorPropagates(t *testing.T) {
	c := New(t.TempDir(), WithFetcher(&fakeFetcher{err: model.ErrUnavailable}))
	_, _, err := c.List(context.Background(), testSeries, model.TimeRange{End: model.Micros(day(2023, time.April, 1))})
	if !errors.Is(err, model.ErrUnavailable) {
		t.Errorf("List() error = %v, want ErrUnavailable", err)
	}
}

func TestListPrefersConvertedFormats(t *testing.T) {
	root := t.TempDir()
	d := day(2023, time.January, 10)
	writeArchiveFile(t, root, testSeries, model.GranularityDaily, d, model.FormatZip)
	writeArchiveFile(t, root, testSeries, model.GranularityDaily, d, model.FormatCSV)
	writeArchiveFile(t, root, testSeries, model.GranularityDaily, d, model.FormatParquet)

	c := New(root)
	partitions, _, err := c.List(context.Background(), testSeries, model.DayRange(d))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(partitions) != 1 {
		t.Fatalf("len(partitions) = %d, want 1", len(partitions))
	}
	if got, want := partitions[0].Format, model.FormatParquet; got != want {
		t.Errorf("partitions[0].Format = %s, want %s", got, want)
	}
}

func TestListSkipsForeignFiles(t *testing.T) {
	root := t.TempDir()
	d := day(2023, time.January, 10)
	writeArchiveFile(t, root, testSeries, model.GranularityDaily, d, model.FormatZip)

	dir := filepath.Join(root, filepath.FromSlash(testSeries.ArchivePath(model.GranularityDaily)))
	for _, name := range []string{"CHECKSUM", "ETHUSDT-aggTrades-2023-01-10.zip", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	c := New(root)
	partitions, _, err := c.List(context.Background(), testSeries, model.DayRange(d))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(partitions) != 1 {
		t.Fatalf("len(partitions) = %d, want 1", len(partitions))
	}
}

func TestListRejectsInvalidSeries(t *testing.T) {
	c := New(t.TempDir())
	bad := model.Series{Market: "nasdaq", DataType: model.DataTypeTrades, Symbol: "BTCUSDT"}
	if _, _, err := c.List(context.Background(), bad, model.DayRange(day(2023, time.January, 10))); err == nil {
		t.Error("List() error = nil, want series validation error")
	}
}

func TestDescriptorRange(t *testing.T) {
	d := Descriptor{Series: testSeries, Granularity: model.GranularityMonthly, Date: day(2023, time.February, 1)}
	want := model.MonthRange(day(2023, time.February, 1))
	if got := d.Range(); got != want {
		t.Errorf("Range() = %s, want %s", got, want)
	}
}
