package boundary

import (
	"context"
	"encoding/json"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rotisserie/eris"

	"github.com/sells-group/coffee-density/internal/columnar"
)

const (
	fipsColumn     = "fips"
	geometryColumn = "geometry"
)

// geoMetadata is the GeoParquet file metadata describing the geometry column.
type geoMetadata struct {
	Version       string                       `json:"version"`
	PrimaryColumn string                       `json:"primary_column"`
	Columns       map[string]geoColumnMetadata `json:"columns"`
}

type geoColumnMetadata struct {
	Encoding      string   `json:"encoding"`
	GeometryTypes []string `json:"geometry_types"`
}

func schema() (*arrow.Schema, error) {
	geo, err := json.Marshal(geoMetadata{
		Version:       "1.0.0",
		PrimaryColumn: geometryColumn,
		Columns: map[string]geoColumnMetadata{
			geometryColumn: {Encoding: "WKB", GeometryTypes: []string{"MultiPolygon"}},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "boundary: encode geo metadata")
	}
	md := arrow.NewMetadata([]string{"geo"}, []string{string(geo)})
	return arrow.NewSchema([]arrow.Field{
		{Name: fipsColumn, Type: arrow.BinaryTypes.String},
		{Name: geometryColumn, Type: arrow.BinaryTypes.Binary},
	}, &md), nil
}

// WriteParquet writes counties to path as {fips: string, geometry: binary},
// replacing any existing file.
func WriteParquet(path string, counties []County) error {
	sc, err := schema()
	if err != nil {
		return err
	}

	b := array.NewRecordBuilder(memory.DefaultAllocator, sc)
	defer b.Release()

	fb := b.Field(0).(*array.StringBuilder)
	gb := b.Field(1).(*array.BinaryBuilder)
	for _, c := range counties {
		fb.Append(c.FIPS)
		gb.Append(c.Geometry)
	}

	rec := b.NewRecord()
	defer rec.Release()

	if err := columnar.WriteFile(path, rec); err != nil {
		return eris.Wrap(err, "boundary: write parquet")
	}
	return nil
}

// checkGeoMetadata rejects files whose geo metadata declares a geometry
// encoding other than WKB. Files without geo metadata are accepted.
func checkGeoMetadata(path string) error {
	raw, ok, err := columnar.FileMetadata(path, "geo")
	if err != nil || !ok {
		return err
	}
	var md geoMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return eris.Wrap(err, "boundary: decode geo metadata")
	}
	primary := md.PrimaryColumn
	if primary == "" {
		primary = geometryColumn
	}
	if primary != geometryColumn {
		return eris.Errorf("boundary: primary geometry column is %q, want %q", primary, geometryColumn)
	}
	if enc := md.Columns[primary].Encoding; enc != "" && enc != "WKB" {
		return eris.Errorf("boundary: unsupported geometry encoding %q", enc)
	}
	return nil
}

// ReadParquet reads a file written by WriteParquet.
func ReadParquet(ctx context.Context, path string) ([]County, error) {
	if err := checkGeoMetadata(path); err != nil {
		return nil, eris.Wrap(err, "boundary: read parquet")
	}

	var counties []County
	err := columnar.Scan(ctx, path, []string{fipsColumn, geometryColumn}, func(rec arrow.Record) error {
		fc, _, err := columnar.Column(rec, fipsColumn)
		if err != nil {
			return err
		}
		gc, _, err := columnar.Column(rec, geometryColumn)
		if err != nil {
			return err
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			code, err := columnar.StringAt(fc, i)
			if err != nil {
				return err
			}
			g, err := columnar.BytesAt(gc, i)
			if err != nil {
				return err
			}
			counties = append(counties, County{FIPS: code, Geometry: g})
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "boundary: read parquet")
	}
	return counties, nil
}
