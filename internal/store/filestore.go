package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantfall/binance-data/internal/codec"
	"github.com/quantfall/binance-data/internal/model"
)

// FileStore keeps one canonical artifact per series under root:
//
//	<root>/canonical/<spot|futures/um|futures/cm>/<dataType>/<SYMBOL>/[<interval>/]canonical.<ext>
//
// plus a canonical.json sidecar carrying the validated coverage and the
// tail key. Replace writes a temp file and renames it over the artifact.
type FileStore struct {
	root   string
	format model.Format
	codec  codec.Codec
	logger *slog.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file store writing artifacts in the given format.
func NewFileStore(root string, format model.Format, logger *slog.Logger) (*FileStore, error) {
	if format == model.FormatZip {
		return nil, fmt.Errorf("file store: zip is not a canonical artifact format")
	}
	c, err := codec.ForFormat(format)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{root: root, format: format, codec: c, logger: logger}, nil
}

// artifactMeta is the canonical.json sidecar.
type artifactMeta struct {
	CoverageStartUS int64  `json:"coverage_start_us"`
	CoverageEndUS   int64  `json:"coverage_end_us"`
	Records         int    `json:"records"`
	LastTimeUS      int64  `json:"last_time_us"`
	LastID          int64  `json:"last_id"`
	UpdatedAt       string `json:"updated_at"`
}

func (s *FileStore) seriesDir(series model.Series) string {
	segment := "canonical/spot"
	if series.Market == model.MarketUM || series.Market == model.MarketCM {
		segment = "canonical/futures/" + string(series.Market)
	}
	rel := fmt.Sprintf("%s/%s/%s", segment, series.DataType, strings.ToUpper(series.Symbol))
	if series.DataType.IsKlines() {
		rel += "/" + string(series.Interval)
	}
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *FileStore) artifactPath(series model.Series) string {
	return filepath.Join(s.seriesDir(series), "canonical"+s.format.Ext())
}

func (s *FileStore) metaPath(series model.Series) string {
	return filepath.Join(s.seriesDir(series), "canonical.json")
}

// Load reads the canonical dataset for a series.
func (s *FileStore) Load(ctx context.Context, series model.Series) (*model.Dataset, error) {
	if err := series.Validate(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.artifactPath(series))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", series, model.ErrNotFound)
		}
		return nil, fmt.Errorf("load %s: %w", series, err)
	}

	r, err := s.codec.Decode(data, series)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", series, err)
	}
	defer r.Close()

	var records []model.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", series, err)
		}
		records = append(records, rec)
	}

	ds := &model.Dataset{Series: series, Records: records}
	meta, metaErr := s.readMeta(series)
	switch {
	case metaErr == nil && (meta.CoverageStartUS != 0 || meta.CoverageEndUS != 0):
		ds.Coverage = model.TimeRange{Start: meta.CoverageStartUS, End: meta.CoverageEndUS}
	case len(records) > 0:
		ds.Coverage = model.TimeRange{Start: records[0].Time, End: records[len(records)-1].Time}
	}
	return ds, nil
}

// Replace atomically swaps in a new canonical dataset.
func (s *FileStore) Replace(ctx context.Context, ds *model.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ds.Series.Validate(); err != nil {
		return err
	}

	if err := s.writeArtifact(ds.Series, ds.Records); err != nil {
		return fmt.Errorf("replace %s: %w", ds.Series, err)
	}

	meta := artifactMeta{
		CoverageStartUS: ds.Coverage.Start,
		CoverageEndUS:   ds.Coverage.End,
		Records:         len(ds.Records),
	}
	if tail, ok := ds.Tail(); ok {
		meta.LastTimeUS = tail.Time
		meta.LastID = tail.ID
	}
	if err := s.writeMeta(ds.Series, meta); err != nil {
		return err
	}

	s.logger.Debug("replaced canonical dataset",
		"series", ds.Series.String(),
		"records", len(ds.Records),
		"coverage", ds.Coverage.String(),
	)
	return nil
}

// Append extends the canonical artifact's tail. CSV artifacts take new
// rows in place; parquet artifacts are rewritten whole.
func (s *FileStore) Append(ctx context.Context, series model.Series, records []model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := series.Validate(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	meta, err := s.readMeta(series)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("append %s: %w", series, err)
		}
		// No sidecar. Derive the tail from the artifact itself when one
		// exists; otherwise create the artifact from scratch.
		ds, loadErr := s.Load(ctx, series)
		if errors.Is(loadErr, model.ErrNotFound) {
			return s.Replace(ctx, &model.Dataset{
				Series:   series,
				Coverage: model.TimeRange{Start: records[0].Time, End: records[len(records)-1].Time},
				Records:  records,
			})
		}
		if loadErr != nil {
			return loadErr
		}
		meta = artifactMeta{
			CoverageStartUS: ds.Coverage.Start,
			CoverageEndUS:   ds.Coverage.End,
			Records:         len(ds.Records),
		}
		if tail, ok := ds.Tail(); ok {
			meta.LastTimeUS = tail.Time
			meta.LastID = tail.ID
		}
	}

	if meta.Records > 0 && records[0].Time < meta.LastTimeUS {
		return fmt.Errorf("append %s: record time %d precedes stored tail %d",
			series, records[0].Time, meta.LastTimeUS)
	}

	switch s.format {
	case model.FormatCSV:
		if err := s.appendCSV(series, records); err != nil {
			return err
		}
	default:
		ds, err := s.Load(ctx, series)
		if errors.Is(err, model.ErrNotFound) {
			ds = &model.Dataset{Series: series}
		} else if err != nil {
			return err
		}
		ds.Records = append(ds.Records, records...)
		if err := s.writeArtifact(series, ds.Records); err != nil {
			return fmt.Errorf("append %s: %w", series, err)
		}
	}

	last := records[len(records)-1]
	if meta.Records == 0 {
		meta.CoverageStartUS = records[0].Time
	}
	if last.Time > meta.CoverageEndUS {
		meta.CoverageEndUS = last.Time
	}
	meta.Records += len(records)
	meta.LastTimeUS = last.Time
	meta.LastID = last.ID
	if err := s.writeMeta(series, meta); err != nil {
		return err
	}

	s.logger.Debug("appended records",
		"series", series.String(),
		"count", len(records),
		"last_time", last.Time,
	)
	return nil
}

// Tail returns the last persisted record.
func (s *FileStore) Tail(ctx context.Context, series model.Series) (model.Record, bool, error) {
	ds, err := s.Load(ctx, series)
	if errors.Is(err, model.ErrNotFound) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, err
	}
	rec, ok := ds.Tail()
	return rec, ok, nil
}

func (s *FileStore) appendCSV(series model.Series, records []model.Record) error {
	f, err := os.OpenFile(s.artifactPath(series), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("append %s: %w", series, err)
	}
	w := bufio.NewWriter(f)
	for i := range records {
		w.Write(records[i].Payload)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", series, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("append %s: %w", series, err)
	}
	return nil
}

// writeArtifact encodes records to a temp file and renames it over the
// artifact.
func (s *FileStore) writeArtifact(series model.Series, records []model.Record) error {
	dir := s.seriesDir(series)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "canonical-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := s.codec.Encode(tmp, series, records); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.artifactPath(series)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *FileStore) readMeta(series model.Series) (artifactMeta, error) {
	data, err := os.ReadFile(s.metaPath(series))
	if err != nil {
		return artifactMeta{}, err
	}
	var meta artifactMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return artifactMeta{}, fmt.Errorf("meta %s: %w", series, err)
	}
	return meta, nil
}

func (s *FileStore) writeMeta(series model.Series, meta artifactMeta) error {
	meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("meta %s: %w", series, err)
	}
	dir := s.seriesDir(series)
	tmp, err := os.CreateTemp(dir, "meta-*.tmp")
	if err != nil {
		return fmt.Errorf("meta %s: %w", series, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("meta %s: %w", series, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("meta %s: %w", series, err)
	}
	if err := os.Rename(tmpName, s.metaPath(series)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("meta %s: %w", series, err)
	}
	return nil
}
