package output

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/coffee-density/internal/merge"
)

// WriteGeoJSON writes rows to path as a FeatureCollection with the FIPS code
// as feature id. Missing attributes are JSON null.
func WriteGeoJSON(path string, rows []merge.Row) error {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(rows))}
	for _, r := range rows {
		g, err := decode(r.FIPS, r.Geometry)
		if err != nil {
			return err
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       r.FIPS,
			Geometry: g,
			Properties: map[string]interface{}{
				ColFIPS:        r.FIPS,
				ColState:       r.State,
				ColCounty:      r.County,
				ColPopulation:  r.Population,
				ColCoffeeShops: r.CoffeeShops,
				ColPerHundredK: finiteRate(r),
			},
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "geojson: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := bufio.NewWriter(f)
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		return eris.Wrap(err, "geojson: encode")
	}
	if err := w.Flush(); err != nil {
		return eris.Wrap(err, "geojson: flush")
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "geojson: close %s", path)
	}
	return nil
}
