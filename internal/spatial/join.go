package spatial

import (
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/sells-group/coffee-density/internal/places"
)

// Match pairs a place with a county that contains it.
type Match struct {
	FIPS     string
	Category string
}

// Counts maps a county FIPS code to the number of places inside it. Counties
// with no places are absent, never zero.
type Counts map[string]int64

// CountyCount is one entry of Counts in ranked form.
type CountyCount struct {
	FIPS  string
	Count int64
}

// Total returns the sum of all counts.
func (c Counts) Total() int64 {
	var n int64
	for _, v := range c {
		n += v
	}
	return n
}

// Top returns the n counties with the highest counts, ties broken by FIPS.
// A non-positive n returns every county.
func (c Counts) Top(n int) []CountyCount {
	out := make([]CountyCount, 0, len(c))
	for k, v := range c {
		out = append(out, CountyCount{FIPS: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].FIPS < out[j].FIPS
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Join emits one Match per (place, covering county) pair. Places outside every
// county produce no match; a place on a shared border matches each county.
// Geometry that does not decode to a point aborts the join.
func Join(idx *Index, ps []places.Place) ([]Match, error) {
	matches := make([]Match, 0, len(ps))
	var outside int
	for i, p := range ps {
		c, err := pointCoord(p.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "spatial: place %d", i)
		}
		fipsCodes := idx.Locate(c)
		if len(fipsCodes) == 0 {
			outside++
			continue
		}
		for _, code := range fipsCodes {
			matches = append(matches, Match{FIPS: code, Category: p.Category})
		}
	}

	zap.L().Debug("spatial: joined places",
		zap.Int("places", len(ps)),
		zap.Int("matches", len(matches)),
		zap.Int("outside", outside),
	)
	return matches, nil
}

// Count groups matches by FIPS code.
func Count(matches []Match) Counts {
	counts := make(Counts)
	for _, m := range matches {
		counts[m.FIPS]++
	}
	return counts
}

// CountWithin joins ps against idx and groups the result by county.
func CountWithin(idx *Index, ps []places.Place) (Counts, error) {
	matches, err := Join(idx, ps)
	if err != nil {
		return nil, err
	}
	counts := Count(matches)

	zap.L().Info("counted places per county",
		zap.String("component", "spatial.count"),
		zap.String("places", humanize.Comma(int64(len(ps)))),
		zap.Int("counties", len(counts)),
		zap.String("matched", humanize.Comma(counts.Total())),
	)
	return counts, nil
}

func pointCoord(data []byte) (geom.Coord, error) {
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "decode WKB")
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return nil, eris.Errorf("expected point geometry, got %T", g)
	}
	if pt.Empty() {
		return nil, eris.New("empty point")
	}
	return pt.Coords(), nil
}
