package codec

import (
	"fmt"
	"io"
	"os"

	"github.com/quantfall/binance-data/internal/model"
)

// RecordReader is a lazy sequence of decoded records. Next returns io.EOF
// after the last record.
type RecordReader interface {
	Next() (model.Record, error)
	Close() error
}

// Codec decodes raw partition bytes into records and encodes record
// sequences into complete artifacts. Implementations must round-trip
// Record.Time and Record.ID exactly.
type Codec interface {
	Decode(data []byte, series model.Series) (RecordReader, error)
	Encode(w io.Writer, series model.Series, records []model.Record) error
}

// ForFormat returns the codec for an on-disk format.
func ForFormat(f model.Format) (Codec, error) {
	switch f {
	case model.FormatZip:
		return zipCodec{}, nil
	case model.FormatCSV:
		return csvCodec{}, nil
	case model.FormatParquet:
		return parquetCodec{}, nil
	}
	return nil, fmt.Errorf("no codec for format %q", f)
}

// Opener opens a partition's record stream.
type Opener interface {
	Open(p model.Partition) (RecordReader, error)
}

// Files opens partitions from the local filesystem, dispatching on the
// partition's format.
type Files struct{}

// Open reads the partition file and returns its lazy record stream.
func (Files) Open(p model.Partition) (RecordReader, error) {
	c, err := ForFormat(p.Format)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("read partition: %w", err)
	}
	return c.Decode(data, p.Series)
}
