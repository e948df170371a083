package codec

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/quantfall/binance-data/internal/model"
)

// csvCodec handles plain CSV rows in the archive's column order. Archive
// zips ship headerless; engine-written artifacts carry a header line, so
// decoding sniffs the first line and skips it when its key column is not
// numeric.
type csvCodec struct{}

func (csvCodec) Decode(data []byte, series model.Series) (RecordReader, error) {
	timeCol := series.TimeColumn()
	if timeCol < 0 {
		return nil, fmt.Errorf("csv: series %s has no time column", series)
	}
	r := &csvReader{
		data:    data,
		timeCol: timeCol,
		idCol:   series.IDColumn(),
	}
	r.skipHeader()
	return r, nil
}

func (csvCodec) Encode(w io.Writer, series model.Series, records []model.Record) error {
	if _, err := io.WriteString(w, strings.Join(series.Columns(), ",")+"\n"); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for i := range records {
		if _, err := w.Write(records[i].Payload); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	return nil
}

// csvReader walks the buffer line by line. Payloads alias the underlying
// buffer, which stays alive as long as the decoded records do.
type csvReader struct {
	data    []byte
	offset  int
	line    int
	timeCol int
	idCol   int
}

func (r *csvReader) skipHeader() {
	raw, next := r.peekLine()
	if raw == nil {
		return
	}
	fields := strings.Split(string(raw), ",")
	if r.timeCol >= len(fields) {
		return
	}
	if _, err := strconv.ParseInt(strings.TrimSpace(fields[r.timeCol]), 10, 64); err != nil {
		r.offset = next
		r.line++
	}
}

// peekLine returns the next non-empty line without consuming it, plus the
// offset just past it.
func (r *csvReader) peekLine() ([]byte, int) {
	off := r.offset
	for off < len(r.data) {
		end := bytes.IndexByte(r.data[off:], '\n')
		var raw []byte
		var next int
		if end < 0 {
			raw = r.data[off:]
			next = len(r.data)
		} else {
			raw = r.data[off : off+end]
			next = off + end + 1
		}
		raw = bytes.TrimSuffix(raw, []byte{'\r'})
		if len(raw) > 0 {
			return raw, next
		}
		off = next
	}
	return nil, len(r.data)
}

func (r *csvReader) Next() (model.Record, error) {
	raw, next := r.peekLine()
	if raw == nil {
		return model.Record{}, io.EOF
	}
	r.offset = next
	r.line++

	rec := model.Record{ID: model.NoID, Payload: raw}

	fields := strings.Split(string(raw), ",")
	if r.timeCol >= len(fields) {
		return model.Record{}, fmt.Errorf("csv: line %d: %d fields, time column is %d: %w",
			r.line, len(fields), r.timeCol, model.ErrDecodeFailure)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(fields[r.timeCol]), 10, 64)
	if err != nil {
		return model.Record{}, fmt.Errorf("csv: line %d: bad timestamp %q: %w",
			r.line, fields[r.timeCol], model.ErrDecodeFailure)
	}
	rec.Time = model.NormalizeMicros(ts)

	if r.idCol >= 0 {
		if r.idCol >= len(fields) {
			return model.Record{}, fmt.Errorf("csv: line %d: %d fields, id column is %d: %w",
				r.line, len(fields), r.idCol, model.ErrDecodeFailure)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(fields[r.idCol]), 10, 64)
		if err != nil {
			return model.Record{}, fmt.Errorf("csv: line %d: bad id %q: %w",
				r.line, fields[r.idCol], model.ErrDecodeFailure)
		}
		rec.ID = id
	}
	return rec, nil
}

func (r *csvReader) Close() error { return nil }
