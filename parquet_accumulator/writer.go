package parquet_accumulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

var (
	ErrColumnCount    = errors.New("row does not match the column count")
	ErrNonFiniteFloat = errors.New("non finite float values cannot be stored")
)

// PartWriter writes rows holding physical values (see SelectList) as one parquet file.
type PartWriter struct {
	pw      *writer.JSONWriter
	names   []string
	numRows int64
}

func (pa *ParquetSchemaAccumulator) NewPartWriter(w io.Writer) (*PartWriter, error) {
	schema, err := pa.GetSchemaString()
	if err != nil {
		return nil, fmt.Errorf("error in GetSchemaString: %w", err)
	}
	pw, err := writer.NewJSONWriterFromWriter(schema, w, 4)
	if err != nil {
		return nil, fmt.Errorf("error in NewJSONWriterFromWriter: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	names := make([]string, len(pa.mapping))
	for i, m := range pa.mapping {
		names[i] = m.Physical
	}
	return &PartWriter{pw: pw, names: names}, nil
}

func (w *PartWriter) Write(vals []any) error {
	if len(vals) != len(w.names) {
		return fmt.Errorf("%w: got %d values for %d columns", ErrColumnCount, len(vals), len(w.names))
	}
	row := make(map[string]any, len(vals))
	for i, v := range vals {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return fmt.Errorf("%w: column %d", ErrNonFiniteFloat, i)
		}
		row[w.names[i]] = v
	}
	rowBytes, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("error in json.Marshal of row: %w", err)
	}
	if err := w.pw.Write(string(rowBytes)); err != nil {
		return fmt.Errorf("error in pw.Write for row %s: %w", string(rowBytes), err)
	}
	w.numRows++
	return nil
}

func (w *PartWriter) NumRows() int64 {
	return w.numRows
}

// Close flushes the footer. The underlying io.Writer is not closed.
func (w *PartWriter) Close() error {
	if err := w.pw.WriteStop(); err != nil {
		return fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return nil
}
