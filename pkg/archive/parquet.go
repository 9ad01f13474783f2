package archive

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/lynex-ai/lynex/pkg/analytics"
)

// encodeParquet serializes rows into a Snappy-compressed Parquet file.
func encodeParquet(rows []analytics.StoredEvent) ([]byte, error) {
	var buf bytes.Buffer

	w := parquet.NewGenericWriter[analytics.StoredEvent](&buf,
		parquet.Compression(&parquet.Snappy))
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
