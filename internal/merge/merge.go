// Package merge joins county boundaries, population estimates and place
// counts into the output table and derives the per-capita rate.
package merge

import (
	"math"

	"github.com/sells-group/coffee-density/internal/boundary"
	"github.com/sells-group/coffee-density/internal/census"
	"github.com/sells-group/coffee-density/internal/spatial"
)

// PerCapitaBase is the population unit of the derived rate.
const PerCapitaBase = 100000

// Row is one output feature. Nil fields are missing values: a boundary county
// with no population row has nil State, County, Population, CoffeeShops and
// PerHundredK; a county with population but no places has nil CoffeeShops
// and PerHundredK.
type Row struct {
	FIPS        string
	Geometry    []byte
	State       *string
	County      *string
	Population  *int64
	CoffeeShops *int64
	PerHundredK *float64
}

// Rate returns count / (population / 100000). A zero population yields +Inf
// or NaN per IEEE 754.
func Rate(count, population int64) float64 {
	return float64(count) / (float64(population) / PerCapitaBase)
}

// Merge builds one row per boundary county, in boundary order. Population
// rows whose FIPS has no boundary are dropped. Counts are attached through
// the population table, so a count for a county absent from the population
// table is not carried.
func Merge(counties []boundary.County, population []census.Population, counts spatial.Counts) []Row {
	byFIPS := make(map[string]Row, len(population))
	for _, p := range population {
		r := Row{
			FIPS:       p.FIPS,
			State:      ptr(p.State),
			County:     ptr(p.County),
			Population: ptr(p.Population),
		}
		if n, ok := counts[p.FIPS]; ok {
			r.CoffeeShops = ptr(n)
			r.PerHundredK = ptr(Rate(n, p.Population))
		}
		byFIPS[p.FIPS] = r
	}

	out := make([]Row, 0, len(counties))
	for _, c := range counties {
		r, ok := byFIPS[c.FIPS]
		if !ok {
			r = Row{FIPS: c.FIPS}
		}
		r.Geometry = c.Geometry
		out = append(out, r)
	}
	return out
}

// Summary describes a merged table for logging.
type Summary struct {
	Rows           int
	WithPopulation int
	WithCounts     int
	NonFinite      int
	CoffeeShops    int64
}

// Summarize tallies rows.
func Summarize(rows []Row) Summary {
	s := Summary{Rows: len(rows)}
	for _, r := range rows {
		if r.Population != nil {
			s.WithPopulation++
		}
		if r.CoffeeShops != nil {
			s.WithCounts++
			s.CoffeeShops += *r.CoffeeShops
		}
		if r.PerHundredK != nil && !IsFinite(*r.PerHundredK) {
			s.NonFinite++
		}
	}
	return s
}

// IsFinite reports whether f is neither NaN nor infinite.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func ptr[T any](v T) *T { return &v }
