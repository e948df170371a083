package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/quantfall/binance-data/internal/model"
)

// recordRow is the parquet layout of a canonical record. The payload column
// carries the verbatim source row and compresses well under zstd since the
// key columns repeat inside it.
type recordRow struct {
	Time    int64  `parquet:"timestamp"`
	ID      int64  `parquet:"id"`
	Payload []byte `parquet:"payload,zstd"`
}

const parquetChunk = 8192

// parquetCodec reads and writes engine-written parquet artifacts.
type parquetCodec struct{}

func (parquetCodec) Decode(data []byte, series model.Series) (RecordReader, error) {
	pr := parquet.NewGenericReader[recordRow](bytes.NewReader(data))
	return &parquetReader{reader: pr}, nil
}

func (parquetCodec) Encode(w io.Writer, series model.Series, records []model.Record) error {
	pw := parquet.NewGenericWriter[recordRow](w, parquet.Compression(&parquet.Zstd))
	rows := make([]recordRow, 0, parquetChunk)
	for i := 0; i < len(records); i += parquetChunk {
		end := i + parquetChunk
		if end > len(records) {
			end = len(records)
		}
		rows = rows[:0]
		for _, rec := range records[i:end] {
			rows = append(rows, recordRow{Time: rec.Time, ID: rec.ID, Payload: rec.Payload})
		}
		if _, err := pw.Write(rows); err != nil {
			return fmt.Errorf("parquet: write rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("parquet: close writer: %w", err)
	}
	return nil
}

// parquetReader surfaces rows one at a time from chunked reads.
type parquetReader struct {
	reader *parquet.GenericReader[recordRow]
	buf    []recordRow
	idx    int
	eof    bool
}

func (r *parquetReader) Next() (model.Record, error) {
	if r.idx >= len(r.buf) {
		if r.eof {
			return model.Record{}, io.EOF
		}
		rows := make([]recordRow, parquetChunk)
		n, err := r.reader.Read(rows)
		if err != nil && !errors.Is(err, io.EOF) {
			return model.Record{}, fmt.Errorf("parquet: read rows: %w", model.ErrDecodeFailure)
		}
		if errors.Is(err, io.EOF) {
			r.eof = true
		}
		if n == 0 {
			return model.Record{}, io.EOF
		}
		r.buf = rows[:n]
		r.idx = 0
	}
	row := r.buf[r.idx]
	r.idx++
	return model.Record{Time: row.Time, ID: row.ID, Payload: row.Payload}, nil
}

func (r *parquetReader) Close() error { return r.reader.Close() }
