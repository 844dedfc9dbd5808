// Package output writes the merged county table to a GIS container file.
//
// Two containers are supported, chosen by file extension: GeoPackage
// (.gpkg, the default) and GeoJSON (.geojson or .json). Both replace any
// existing file. Rates that are not finite numbers are written as null.
package output

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/sells-group/coffee-density/internal/merge"
)

const (
	// DefaultPath is the output written when no path is configured.
	DefaultPath = "./coffee_shops_per_capita.gpkg"
	// LayerName is the feature table / collection name.
	LayerName = "coffee_shops_per_capita"
	// SRSID is the EPSG code of the boundary coordinates (WGS 84 lon/lat).
	SRSID = 4326
)

// Attribute column names, in output order.
const (
	ColFIPS        = "fips"
	ColState       = "state"
	ColCounty      = "county"
	ColPopulation  = "population_2022"
	ColCoffeeShops = "n_coffee_shops"
	ColPerHundredK = "coffee_shops_per_100k"
)

// Format identifies an output container.
type Format string

const (
	FormatGeoPackage Format = "gpkg"
	FormatGeoJSON    Format = "geojson"
)

// FormatFor returns the container implied by the extension of path.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gpkg", "":
		return FormatGeoPackage, nil
	case ".geojson", ".json":
		return FormatGeoJSON, nil
	default:
		return "", eris.Errorf("output: unsupported file extension %q", filepath.Ext(path))
	}
}

// Write serializes rows to path in the container chosen by FormatFor.
func Write(ctx context.Context, path string, rows []merge.Row) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	switch format {
	case FormatGeoJSON:
		err = WriteGeoJSON(path, rows)
	default:
		err = WriteGeoPackage(ctx, path, rows)
	}
	if err != nil {
		return err
	}

	zap.L().Info("wrote output",
		zap.String("component", "output.write"),
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("rows", len(rows)),
	)
	return nil
}

// decode parses a WKB geometry. Empty input decodes to nil.
func decode(fips string, data []byte) (geom.T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrapf(err, "output: decode geometry of %s", fips)
	}
	return g, nil
}

// finiteRate returns the rate when it is present and finite, nil otherwise.
func finiteRate(r merge.Row) *float64 {
	if r.PerHundredK == nil || !merge.IsFinite(*r.PerHundredK) {
		return nil
	}
	return r.PerHundredK
}
