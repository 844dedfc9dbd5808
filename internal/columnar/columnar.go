// Package columnar reads and writes Parquet files through Apache Arrow.
//
// Nested columns are addressed by dotted paths ("categories.main"), matching
// the leaf paths of the Parquet schema.
package columnar

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/rotisserie/eris"
)

// DefaultBatchSize is the number of rows decoded per record batch.
const DefaultBatchSize = 64 * 1024

// ScanFunc receives each record batch. The record is released after the
// function returns, so values must be copied out.
type ScanFunc func(rec arrow.Record) error

// Scan reads the leaf columns named by paths from the Parquet file at path
// and calls fn for every record batch. A nil paths reads every column.
func Scan(ctx context.Context, path string, paths []string, fn ScanFunc) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "columnar: scan cancelled")
	}
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return eris.Wrapf(err, "columnar: open %s", path)
	}
	defer pf.Close() //nolint:errcheck

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: DefaultBatchSize}, memory.DefaultAllocator)
	if err != nil {
		return eris.Wrapf(err, "columnar: reader %s", path)
	}

	var leaves []int
	if paths != nil {
		sc := pf.MetaData().Schema
		for _, p := range paths {
			idx := sc.ColumnIndexByName(p)
			if idx < 0 {
				return eris.Errorf("columnar: column %q not found in %s", p, path)
			}
			leaves = append(leaves, idx)
		}
	}

	rr, err := fr.GetRecordReader(ctx, leaves, nil)
	if err != nil {
		return eris.Wrapf(err, "columnar: record reader %s", path)
	}
	defer rr.Release()

	for rr.Next() {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "columnar: scan cancelled")
		}
		if err := fn(rr.Record()); err != nil {
			return err
		}
	}
	// The reader reports io.EOF once every row group has been consumed.
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return eris.Wrapf(err, "columnar: read %s", path)
	}
	return nil
}

// Column resolves a dotted path against a record, descending into struct
// columns. The returned array has the record's length. valid reports, per
// row, whether every struct on the path is non-null.
func Column(rec arrow.Record, path string) (arrow.Array, func(i int) bool, error) {
	parts := strings.Split(path, ".")

	idx := rec.Schema().FieldIndices(parts[0])
	if len(idx) == 0 {
		return nil, nil, eris.Errorf("columnar: column %q not in record", parts[0])
	}
	arr := rec.Column(idx[0])
	parents := []arrow.Array{}

	for _, name := range parts[1:] {
		st, ok := arr.(*array.Struct)
		if !ok {
			return nil, nil, eris.Errorf("columnar: %q is not a struct column", path)
		}
		fi, ok := st.DataType().(*arrow.StructType).FieldIdx(name)
		if !ok {
			return nil, nil, eris.Errorf("columnar: struct field %q not found in %q", name, path)
		}
		parents = append(parents, st)
		arr = st.Field(fi)
	}

	valid := func(i int) bool {
		for _, p := range parents {
			if p.IsNull(i) {
				return false
			}
		}
		return arr.IsValid(i)
	}
	return arr, valid, nil
}

// StringAt returns a copy of the string at row i of a String or LargeString array.
func StringAt(arr arrow.Array, i int) (string, error) {
	switch a := arr.(type) {
	case *array.String:
		return strings.Clone(a.Value(i)), nil
	case *array.LargeString:
		return strings.Clone(a.Value(i)), nil
	case *array.Binary:
		return string(a.Value(i)), nil
	default:
		return "", eris.Errorf("columnar: expected string column, got %s", arr.DataType())
	}
}

// BytesAt returns a copy of the bytes at row i of a Binary or LargeBinary array.
func BytesAt(arr arrow.Array, i int) ([]byte, error) {
	switch a := arr.(type) {
	case *array.Binary:
		return bytes.Clone(a.Value(i)), nil
	case *array.LargeBinary:
		return bytes.Clone(a.Value(i)), nil
	default:
		return nil, eris.Errorf("columnar: expected binary column, got %s", arr.DataType())
	}
}

// WriteFile writes a single record to path as a Snappy-compressed Parquet
// file, replacing any existing file. Schema metadata is stored as file
// key/value metadata.
func WriteFile(path string, rec arrow.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "columnar: create %s", path)
	}

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(rec.Schema(), f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		_ = f.Close()
		return eris.Wrap(err, "columnar: new writer")
	}

	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return eris.Wrapf(err, "columnar: write %s", path)
	}

	// Close flushes the footer and closes f.
	if err := fw.Close(); err != nil {
		return eris.Wrapf(err, "columnar: close %s", path)
	}
	return nil
}

// FileMetadata returns the key/value metadata entry named key, if present.
func FileMetadata(path, key string) (string, bool, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return "", false, eris.Wrapf(err, "columnar: open %s", path)
	}
	defer pf.Close() //nolint:errcheck

	v := pf.MetaData().KeyValueMetadata().FindValue(key)
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}
