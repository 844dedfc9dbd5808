package output

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	_ "modernc.org/sqlite"

	"github.com/sells-group/coffee-density/internal/merge"
)

const (
	// gpkgApplicationID is "GPKG" as a big-endian 32-bit integer.
	gpkgApplicationID = 0x47504B47
	// gpkgUserVersion is GeoPackage 1.3.0.
	gpkgUserVersion = 10300

	wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`
)

const gpkgSchema = `
CREATE TABLE gpkg_spatial_ref_sys (
	srs_name                 TEXT NOT NULL,
	srs_id                   INTEGER NOT NULL PRIMARY KEY,
	organization             TEXT NOT NULL,
	organization_coordsys_id INTEGER NOT NULL,
	definition               TEXT NOT NULL,
	description              TEXT
);

CREATE TABLE gpkg_contents (
	table_name  TEXT NOT NULL PRIMARY KEY,
	data_type   TEXT NOT NULL,
	identifier  TEXT UNIQUE,
	description TEXT DEFAULT '',
	last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	min_x       DOUBLE,
	min_y       DOUBLE,
	max_x       DOUBLE,
	max_y       DOUBLE,
	srs_id      INTEGER,
	CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);

CREATE TABLE gpkg_geometry_columns (
	table_name         TEXT NOT NULL,
	column_name        TEXT NOT NULL,
	geometry_type_name TEXT NOT NULL,
	srs_id             INTEGER NOT NULL,
	z                  TINYINT NOT NULL,
	m                  TINYINT NOT NULL,
	CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
	CONSTRAINT uk_gc_table_name UNIQUE (table_name),
	CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
	CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
);

INSERT INTO gpkg_spatial_ref_sys VALUES
	('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system'),
	('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic coordinate reference system');
`

// featureTableSQL creates the feature table; the geometry column's declared
// type is filled in from the rows.
const featureTableSQL = `
CREATE TABLE %s (
	fid                   INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	geom                  %s,
	fips                  TEXT,
	state                 TEXT,
	county                TEXT,
	population_2022       INTEGER,
	n_coffee_shops        INTEGER,
	coffee_shops_per_100k REAL
);
`

// WriteGeoPackage writes rows to a new GeoPackage at path, removing any
// existing file first. Geometries are stored as GeoPackage binary blobs
// (header with envelope followed by the WKB).
func WriteGeoPackage(ctx context.Context, path string, rows []merge.Row) error {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return eris.Wrapf(err, "gpkg: remove %s", p)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return eris.Wrap(err, "gpkg: open")
	}
	defer db.Close() //nolint:errcheck
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA application_id=%d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version=%d", gpkgUserVersion),
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return eris.Wrapf(err, "gpkg: exec %s", pragma)
		}
	}

	geoms := make([]geom.T, len(rows))
	extent := geom.NewBounds(geom.XY)
	typeName := ""
	for i, r := range rows {
		g, err := decode(r.FIPS, r.Geometry)
		if err != nil {
			return err
		}
		if g == nil {
			continue
		}
		geoms[i] = g
		if !g.Empty() {
			extent.Extend(g)
		}
		typeName = mergeTypeName(typeName, geometryTypeName(g))
	}
	if typeName == "" {
		typeName = "MULTIPOLYGON"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "gpkg: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, gpkgSchema); err != nil {
		return eris.Wrap(err, "gpkg: create schema")
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(featureTableSQL, LayerName, typeName)); err != nil {
		return eris.Wrap(err, "gpkg: create feature table")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, ?, ?, ?, ?)`,
		"WGS 84 geodetic", SRSID, "EPSG", SRSID, wgs84WKT,
		"longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid",
	); err != nil {
		return eris.Wrap(err, "gpkg: insert srs")
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(geom, fips, state, county, population_2022, n_coffee_shops, coffee_shops_per_100k)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, LayerName))
	if err != nil {
		return eris.Wrap(err, "gpkg: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, r := range rows {
		var blob any
		if geoms[i] != nil {
			blob = geoPackageBinary(geoms[i], r.Geometry)
		}
		if _, err := stmt.ExecContext(ctx,
			blob, r.FIPS, r.State, r.County, r.Population, r.CoffeeShops, finiteRate(r),
		); err != nil {
			return eris.Wrapf(err, "gpkg: insert %s", r.FIPS)
		}
	}

	var minX, minY, maxX, maxY any
	if !extent.IsEmpty() {
		minX, minY, maxX, maxY = extent.Min(0), extent.Min(1), extent.Max(0), extent.Max(1)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id)
		VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		LayerName, LayerName, minX, minY, maxX, maxY, SRSID,
	); err != nil {
		return eris.Wrap(err, "gpkg: insert contents")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', ?, ?, 0, 0)`,
		LayerName, typeName, SRSID,
	); err != nil {
		return eris.Wrap(err, "gpkg: insert geometry column")
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "gpkg: commit")
	}
	return nil
}

// geoPackageBinary prefixes data with a little-endian GeoPackage header: magic
// "GP", version 0, flags, srs_id and, for non-empty geometries, the
// [minx, maxx, miny, maxy] envelope.
func geoPackageBinary(g geom.T, data []byte) []byte {
	const (
		flagLittleEndian = 0x01
		flagEnvelopeXY   = 0x02 // envelope indicator 1 in bits 1-3
		flagEmpty        = 0x10
	)

	header := make([]byte, 8, 8+32+len(data))
	header[0], header[1] = 'G', 'P'
	header[2] = 0
	binary.LittleEndian.PutUint32(header[4:], uint32(int32(SRSID)))

	if g.Empty() {
		header[3] = flagLittleEndian | flagEmpty
		return append(header, data...)
	}

	header[3] = flagLittleEndian | flagEnvelopeXY
	b := g.Bounds()
	for _, v := range []float64{b.Min(0), b.Max(0), b.Min(1), b.Max(1)} {
		header = binary.LittleEndian.AppendUint64(header, math.Float64bits(v))
	}
	return append(header, data...)
}

func geometryTypeName(g geom.T) string {
	switch g.(type) {
	case *geom.Point:
		return "POINT"
	case *geom.LineString:
		return "LINESTRING"
	case *geom.Polygon:
		return "POLYGON"
	case *geom.MultiPoint:
		return "MULTIPOINT"
	case *geom.MultiLineString:
		return "MULTILINESTRING"
	case *geom.MultiPolygon:
		return "MULTIPOLYGON"
	default:
		return "GEOMETRY"
	}
}

// mergeTypeName widens the column type to GEOMETRY once rows disagree.
func mergeTypeName(current, next string) string {
	if current == "" || current == next {
		return next
	}
	return "GEOMETRY"
}
