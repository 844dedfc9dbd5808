package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/sells-group/coffee-density/internal/boundary"
	"github.com/sells-group/coffee-density/internal/columnar"
	"github.com/sells-group/coffee-density/internal/config"
	"github.com/sells-group/coffee-density/internal/fetcher"
)

const censusCSV = "SUMLEV,STATE,COUNTY,STNAME,CTYNAME,POPESTIMATE2022\n" +
	"040,06,000,California,California,39029342\n" +
	"050,06,001,California,Alameda County,100000\n" +
	"050,06,075,California,San Francisco County,50000\n" +
	"050,48,301,Texas,Loving County,64\n"

type county struct {
	code           string
	x0, y0, x1, y1 float64
}

var fixtureCounties = []county{
	{"06001", 0, 0, 1, 1},
	{"06075", 1, 0, 2, 1},
	{"72001", 10, 10, 11, 11},
}

type place struct {
	category string
	x, y     float64
}

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func squareWKB(t *testing.T, c county) []byte {
	t.Helper()
	mp, err := geom.NewMultiPolygon(geom.XY).SetCoords([][][]geom.Coord{{{
		{c.x0, c.y0}, {c.x0, c.y1}, {c.x1, c.y1}, {c.x1, c.y0}, {c.x0, c.y0},
	}}})
	require.NoError(t, err)
	data, err := wkb.Marshal(mp, wkb.NDR)
	require.NoError(t, err)
	return data
}

// writeBoundaryFile writes the fixture counties as a boundary file.
func writeBoundaryFile(t *testing.T, path string) {
	t.Helper()
	counties := make([]boundary.County, 0, len(fixtureCounties))
	for _, c := range fixtureCounties {
		counties = append(counties, boundary.County{FIPS: c.code, Geometry: squareWKB(t, c)})
	}
	require.NoError(t, boundary.WriteParquet(path, counties))
}

// boundaryArchive returns a zipped shapefile of the fixture counties.
func boundaryArchive(t *testing.T) []byte {
	t.Helper()
	base := filepath.Join(t.TempDir(), "counties")

	w, err := shp.Create(base+".shp", shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("ADMIN", 40),
		shp.StringField("CODE_LOCAL", 10),
	}))
	for _, c := range fixtureCounties {
		ring := []shp.Point{{X: c.x0, Y: c.y0}, {X: c.x0, Y: c.y1}, {X: c.x1, Y: c.y1}, {X: c.x1, Y: c.y0}, {X: c.x0, Y: c.y0}}
		poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{ring}))
		idx := int(w.Write(&poly))
		require.NoError(t, w.WriteAttribute(idx, 0, boundary.DefaultCountry))
		require.NoError(t, w.WriteAttribute(idx, 1, c.code))
	}
	w.Close()
	if _, err := os.Stat(base + "dbf"); err == nil {
		require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		data, err := os.ReadFile(base + ext)
		require.NoError(t, err)
		f, err := zw.Create("counties" + ext)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// writePlaces writes one places file with a categories.main leaf and a WKB
// point geometry column.
func writePlaces(t *testing.T, path string, ps []place) {
	t.Helper()
	catType := arrow.StructOf(arrow.Field{Name: "main", Type: arrow.BinaryTypes.String, Nullable: true})
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "categories", Type: catType, Nullable: true},
		{Name: "geometry", Type: arrow.BinaryTypes.Binary, Nullable: true},
	}, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	cats := b.Field(0).(*array.StructBuilder)
	geoms := b.Field(1).(*array.BinaryBuilder)
	for _, p := range ps {
		cats.Append(true)
		cats.FieldBuilder(0).(*array.StringBuilder).Append(p.category)
		data, err := wkb.Marshal(geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{p.x, p.y}), wkb.NDR)
		require.NoError(t, err)
		geoms.Append(data)
	}

	rec := b.NewRecord()
	defer rec.Release()
	require.NoError(t, columnar.WriteFile(path, rec))
}

type fixture struct {
	cfg       *config.Config
	censusErr bool

	mu       sync.Mutex
	requests map[string]int
}

func (fx *fixture) hits(path string) int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.requests[path]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	placesDir := filepath.Join(dataDir, "places")
	require.NoError(t, os.MkdirAll(placesDir, 0o755))

	writePlaces(t, filepath.Join(placesDir, "part-00000"), []place{
		{"coffee_shop", 0.5, 0.5},
		{"bakery", 0.5, 0.5},
		{"coffee_shop", 10.5, 10.5},
	})
	writePlaces(t, filepath.Join(placesDir, "part-00001"), []place{
		{"coffee_shop", 0.2, 0.2},
		{"coffee_shop", 50, 50},
	})

	fx := &fixture{requests: map[string]int{}}
	archive := boundaryArchive(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.mu.Lock()
		fx.requests[r.URL.Path]++
		fx.mu.Unlock()
		switch r.URL.Path {
		case "/counties.zip":
			_, _ = w.Write(archive)
		case "/census.csv":
			if fx.censusErr {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(censusCSV))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{DataDir: dataDir}
	cfg.Boundary.URL = srv.URL + "/counties.zip"
	cfg.Boundary.Country = boundary.DefaultCountry
	cfg.Boundary.File = boundary.DefaultFileName
	cfg.Places.Category = "coffee_shop"
	cfg.Places.CategoryColumn = "categories.main"
	cfg.Places.Workers = 2
	cfg.Census.URL = srv.URL + "/census.csv"
	cfg.Census.PopulationColumn = "POPESTIMATE2022"
	cfg.Output.Path = filepath.Join(t.TempDir(), "coffee_shops_per_capita.gpkg")
	fx.cfg = cfg
	return fx
}

func (fx *fixture) pipeline() *Pipeline {
	return New(fx.cfg, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second}))
}

func phaseNames(r *Result) []string {
	names := make([]string, 0, len(r.Phases))
	for _, p := range r.Phases {
		names = append(names, p.Name)
	}
	return names
}

func TestRun(t *testing.T) {
	fx := newFixture(t)

	result, err := fx.pipeline().Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []string{PhaseBoundaries, PhasePlaces, PhasePopulation, PhaseMerge, PhaseWrite}, phaseNames(result))
	for _, p := range result.Phases {
		assert.Equal(t, PhaseStatusComplete, p.Status, p.Name)
	}

	assert.Equal(t, int64(2), result.Counts["06001"])
	assert.Equal(t, int64(1), result.Counts["72001"])
	assert.Equal(t, int64(3), result.Counts.Total())

	// 72001 has a count but no population, so its count is dropped.
	assert.Equal(t, 3, result.Summary.Rows)
	assert.Equal(t, 2, result.Summary.WithPopulation)
	assert.Equal(t, 1, result.Summary.WithCounts)
	assert.Equal(t, int64(2), result.Summary.CoffeeShops)

	_, err = os.Stat(fx.cfg.BoundaryPath())
	require.NoError(t, err, "boundary file should be written")
	assert.Equal(t, 1, fx.hits("/counties.zip"))
	assert.Equal(t, 1, fx.hits("/census.csv"))

	db, err := sql.Open("sqlite", fx.cfg.Output.Path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	rs, err := db.Query(`SELECT fips, population_2022, n_coffee_shops, coffee_shops_per_100k
		FROM coffee_shops_per_capita ORDER BY fid`)
	require.NoError(t, err)
	defer rs.Close() //nolint:errcheck

	type rec struct {
		fips  string
		pop   sql.NullInt64
		count sql.NullInt64
		rate  sql.NullFloat64
	}
	var got []rec
	for rs.Next() {
		var r rec
		require.NoError(t, rs.Scan(&r.fips, &r.pop, &r.count, &r.rate))
		got = append(got, r)
	}
	require.NoError(t, rs.Err())
	require.Len(t, got, 3)

	assert.Equal(t, "06001", got[0].fips)
	assert.Equal(t, int64(100000), got[0].pop.Int64)
	assert.Equal(t, int64(2), got[0].count.Int64)
	assert.InDelta(t, 2.0, got[0].rate.Float64, 1e-12)

	assert.Equal(t, "06075", got[1].fips)
	assert.True(t, got[1].pop.Valid)
	assert.False(t, got[1].count.Valid)
	assert.False(t, got[1].rate.Valid)

	assert.Equal(t, "72001", got[2].fips)
	assert.False(t, got[2].pop.Valid)
	assert.False(t, got[2].count.Valid)
}

func TestRun_SkipBoundaries(t *testing.T) {
	fx := newFixture(t)
	writeBoundaryFile(t, fx.cfg.BoundaryPath())
	fx.cfg.Output.Path = filepath.Join(t.TempDir(), "out.geojson")

	result, err := fx.pipeline().Run(context.Background(), RunOptions{SkipBoundaries: true})
	require.NoError(t, err)

	assert.Equal(t, 0, fx.hits("/counties.zip"))
	assert.Equal(t, true, result.Phases[0].Metadata["reused"])
	assert.Equal(t, 3, result.Summary.Rows)

	data, err := os.ReadFile(fx.cfg.Output.Path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"FeatureCollection"`))
}

func TestRun_SkipBoundariesMissingFile(t *testing.T) {
	fx := newFixture(t)

	result, err := fx.pipeline().Run(context.Background(), RunOptions{SkipBoundaries: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: read boundaries")

	require.Len(t, result.Phases, 1)
	assert.Equal(t, PhaseStatusFailed, result.Phases[0].Status)
	assert.NotEmpty(t, result.Phases[0].Error)
	_, statErr := os.Stat(fx.cfg.Output.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_CensusFailureAborts(t *testing.T) {
	fx := newFixture(t)
	fx.censusErr = true

	result, err := fx.pipeline().Run(context.Background(), RunOptions{})
	require.Error(t, err)

	assert.Equal(t, []string{PhaseBoundaries, PhasePlaces, PhasePopulation}, phaseNames(result))
	assert.Equal(t, PhaseStatusFailed, result.Phases[2].Status)
	_, statErr := os.Stat(fx.cfg.Output.Path)
	assert.True(t, os.IsNotExist(statErr), "no output after a failed stage")
}

func TestRun_EmptyPlacesDir(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.Places.Dir = t.TempDir()

	result, err := fx.pipeline().Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data files")
	assert.Equal(t, []string{PhaseBoundaries, PhasePlaces}, phaseNames(result))
}

func TestRun_Cancelled(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := fx.pipeline().Run(ctx, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, result.Phases)
	assert.Equal(t, 0, fx.hits("/counties.zip"))
}

func TestCounts(t *testing.T) {
	fx := newFixture(t)
	writeBoundaryFile(t, fx.cfg.BoundaryPath())
	p := fx.pipeline()

	counties, err := p.ReadBoundaries(context.Background())
	require.NoError(t, err)
	require.Len(t, counties, 3)

	counts, err := p.Counts(context.Background(), counties)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"06001": 2, "72001": 1}, map[string]int64(counts))
}

func TestBoundaries(t *testing.T) {
	fx := newFixture(t)

	counties, err := fx.pipeline().Boundaries(context.Background())
	require.NoError(t, err)
	require.Len(t, counties, 3)
	assert.Equal(t, "06001", counties[0].FIPS)

	reread, err := boundary.ReadParquet(context.Background(), fx.cfg.BoundaryPath())
	require.NoError(t, err)
	assert.Equal(t, counties, reread)
}

func TestPopulation(t *testing.T) {
	fx := newFixture(t)

	rows, err := fx.pipeline().Population(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "48301", rows[2].FIPS)
	assert.Equal(t, int64(64), rows[2].Population)
}
