package codec

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/quantfall/binance-data/internal/model"
)

// zipCodec unwraps the archive's publication format: a zip container with a
// single headerless CSV entry. The engine never writes zips; archives are
// the only producer.
type zipCodec struct{}

func (zipCodec) Decode(data []byte, series model.Series) (RecordReader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("zip: %w", model.ErrDecodeFailure)
	}
	var entry *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			entry = f
			break
		}
	}
	if entry == nil && len(zr.File) > 0 {
		entry = zr.File[0]
	}
	if entry == nil {
		return nil, fmt.Errorf("zip: empty container: %w", model.ErrDecodeFailure)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("zip: open %s: %w", entry.Name, model.ErrDecodeFailure)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("zip: read %s: %w", entry.Name, model.ErrDecodeFailure)
	}
	return csvCodec{}.Decode(raw, series)
}

func (zipCodec) Encode(w io.Writer, series model.Series, records []model.Record) error {
	return fmt.Errorf("zip: encode not supported, archives are read-only inputs")
}
