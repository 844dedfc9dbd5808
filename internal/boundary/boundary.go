// Package boundary prepares county polygons keyed by FIPS code.
//
// It downloads the Natural Earth admin-2 county shapefile, keeps the
// features of one country, encodes each polygon as WKB and persists the
// result as a two-column Parquet file that later stages read back.
package boundary

const (
	// DefaultURL is the Natural Earth 1:10m admin-2 counties archive.
	DefaultURL = "https://naciscdn.org/naturalearth/10m/cultural/ne_10m_admin_2_counties.zip"
	// DefaultCountry is the ADMIN attribute value kept by the loader.
	DefaultCountry = "United States of America"
	// DefaultFileName is the intermediate Parquet file written in the data directory.
	DefaultFileName = "usa_counties.parquet"

	countryField = "ADMIN"
	codeField    = "CODE_LOCAL"
)

// County is one boundary record: a FIPS code and its polygon as WKB.
type County struct {
	FIPS     string
	Geometry []byte
}

// Options configures Load.
type Options struct {
	URL     string // archive URL; DefaultURL when empty
	Country string // ADMIN value to keep; DefaultCountry when empty
	WorkDir string // scratch directory for the archive and extracted files
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.Country == "" {
		o.Country = DefaultCountry
	}
	return o
}
