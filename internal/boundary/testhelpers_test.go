package boundary

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/require"
)

type feature struct {
	admin string
	code  string
	rings [][]shp.Point
}

// cwSquare returns a closed clockwise ring, the shapefile outer ring order.
func cwSquare(x0, y0, x1, y1 float64) []shp.Point {
	return []shp.Point{{X: x0, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0}}
}

// ccwSquare returns a closed counter-clockwise ring, the shapefile hole order.
func ccwSquare(x0, y0, x1, y1 float64) []shp.Point {
	return []shp.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0}}
}

func polygon(rings ...[]shp.Point) *shp.Polygon {
	p := shp.Polygon(*shp.NewPolyLine(rings))
	return &p
}

// writeShapefile writes features to dir/name.{shp,shx,dbf} and returns the
// .shp path.
func writeShapefile(t *testing.T, dir, name string, features []feature) string {
	t.Helper()
	base := filepath.Join(dir, name)

	w, err := shp.Create(base+".shp", shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField(countryField, 40),
		shp.StringField(codeField, 10),
	}))

	for _, f := range features {
		idx := int(w.Write(polygon(f.rings...)))
		require.NoError(t, w.WriteAttribute(idx, 0, f.admin))
		require.NoError(t, w.WriteAttribute(idx, 1, f.code))
	}
	w.Close()

	// The writer names the attribute table "<base>dbf"; readers expect "<base>.dbf".
	if _, err := os.Stat(base + "dbf"); err == nil {
		require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	}
	return base + ".shp"
}

// zipFiles packs the given files (by base name) into a ZIP archive in memory.
func zipFiles(t *testing.T, paths ...string) []byte {
	t.Helper()
	out := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(out)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for _, p := range paths {
		src, err := os.Open(p)
		require.NoError(t, err)
		dst, err := zw.Create(filepath.Base(p))
		require.NoError(t, err)
		_, err = io.Copy(dst, src)
		require.NoError(t, err)
		require.NoError(t, src.Close())
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	return data
}

func fixtureFeatures() []feature {
	return []feature{
		{admin: DefaultCountry, code: "06001", rings: [][]shp.Point{cwSquare(0, 0, 1, 1)}},
		{admin: DefaultCountry, code: "6075", rings: [][]shp.Point{cwSquare(1, 0, 2, 1)}},
		{admin: "Canada", code: "35001", rings: [][]shp.Point{cwSquare(5, 5, 6, 6)}},
		{admin: DefaultCountry, code: "", rings: [][]shp.Point{cwSquare(3, 3, 4, 4)}},
	}
}
