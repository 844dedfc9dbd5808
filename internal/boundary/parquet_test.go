package boundary

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coffee-density/internal/columnar"
)

func TestWriteParquet_RoundTrip(t *testing.T) {
	g1, err := EncodeWKB(polygon(cwSquare(0, 0, 1, 1)))
	require.NoError(t, err)
	g2, err := EncodeWKB(polygon(cwSquare(-122.5, 37.7, -122.3, 37.8), ccwSquare(-122.45, 37.72, -122.4, 37.75)))
	require.NoError(t, err)

	in := []County{
		{FIPS: "06001", Geometry: g1},
		{FIPS: "06075", Geometry: g2},
	}

	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, WriteParquet(path, in))

	out, err := ReadParquet(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// Vertex sequence survives the file.
	before := decodeMultiPolygon(t, g2).FlatCoords()
	after := decodeMultiPolygon(t, out[1].Geometry).FlatCoords()
	assert.Equal(t, before, after)
}

func TestWriteParquet_GeoMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, WriteParquet(path, []County{{FIPS: "01001", Geometry: []byte{1}}}))

	raw, ok, err := columnar.FileMetadata(path, "geo")
	require.NoError(t, err)
	require.True(t, ok)

	var md geoMetadata
	require.NoError(t, json.Unmarshal([]byte(raw), &md))
	assert.Equal(t, geometryColumn, md.PrimaryColumn)
	assert.Equal(t, "WKB", md.Columns[geometryColumn].Encoding)
}

func TestWriteParquet_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, WriteParquet(path, []County{{FIPS: "01001", Geometry: []byte{1}}, {FIPS: "01003", Geometry: []byte{2}}}))
	require.NoError(t, WriteParquet(path, []County{{FIPS: "06001", Geometry: []byte{3}}}))

	out, err := ReadParquet(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "06001", out[0].FIPS)
}

func TestWriteParquet_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, WriteParquet(path, nil))

	out, err := ReadParquet(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReadParquet_NotParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.parquet")
	require.NoError(t, os.WriteFile(path, []byte("not parquet"), 0o644))

	_, err := ReadParquet(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boundary: read parquet")
}

func writeWithGeo(t *testing.T, path, geo string) {
	t.Helper()
	md := arrow.NewMetadata([]string{"geo"}, []string{geo})
	sc := arrow.NewSchema([]arrow.Field{
		{Name: fipsColumn, Type: arrow.BinaryTypes.String},
		{Name: geometryColumn, Type: arrow.BinaryTypes.Binary},
	}, &md)

	b := array.NewRecordBuilder(memory.DefaultAllocator, sc)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).Append("06001")
	b.Field(1).(*array.BinaryBuilder).Append([]byte("POLYGON ((0 0, 1 0, 1 1, 0 0))"))
	rec := b.NewRecord()
	defer rec.Release()

	require.NoError(t, columnar.WriteFile(path, rec))
}

func TestReadParquet_RejectsNonWKBEncoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	writeWithGeo(t, path, `{"version":"1.0.0","primary_column":"geometry","columns":{"geometry":{"encoding":"WKT"}}}`)

	_, err := ReadParquet(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported geometry encoding "WKT"`)
}

func TestReadParquet_RejectsOtherPrimaryColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	writeWithGeo(t, path, `{"version":"1.0.0","primary_column":"geom","columns":{"geom":{"encoding":"WKB"}}}`)

	_, err := ReadParquet(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `primary geometry column is "geom"`)
}

func TestReadParquet_BadGeoMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	writeWithGeo(t, path, `{not json`)

	_, err := ReadParquet(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode geo metadata")
}
