// Package spatial assigns points to the county polygons that contain them.
//
// County bounding boxes are held in an R-tree; candidate counties returned by
// the tree are confirmed with an exact point-in-polygon test. A point on a
// polygon edge is inside, so a point on a shared border belongs to both
// counties. A point strictly inside a hole is outside.
package spatial

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"

	"github.com/sells-group/coffee-density/internal/boundary"
)

// pointTolerance pads query points into a box; rtreego treats touching
// rectangles as disjoint.
const pointTolerance = 1e-9

// region is one county in the tree.
type region struct {
	fips  string
	bbox  rtreego.Rect
	polys []*geom.Polygon
}

func (r *region) Bounds() rtreego.Rect { return r.bbox }

// contains reports whether c lies in any polygon of the region, edges included.
func (r *region) contains(c geom.Coord) bool {
	for _, p := range r.polys {
		if polygonCovers(p, c) {
			return true
		}
	}
	return false
}

func polygonCovers(p *geom.Polygon, c geom.Coord) bool {
	n := p.NumLinearRings()
	if n == 0 {
		return false
	}
	switch xy.LocatePointInRing(p.Layout(), c, p.LinearRing(0).FlatCoords()) {
	case location.Exterior:
		return false
	case location.Boundary:
		return true
	}
	for i := 1; i < n; i++ {
		if xy.LocatePointInRing(p.Layout(), c, p.LinearRing(i).FlatCoords()) == location.Interior {
			return false
		}
	}
	return true
}

// Index is a read-only spatial index over county polygons. It is safe for
// concurrent use.
type Index struct {
	tree *rtreego.Rtree
	size int
}

// NewIndex decodes every county geometry and builds the index. Polygon and
// MultiPolygon WKB are accepted; anything else is an error.
func NewIndex(counties []boundary.County) (*Index, error) {
	objs := make([]rtreego.Spatial, 0, len(counties))
	for _, c := range counties {
		r, err := newRegion(c)
		if err != nil {
			return nil, err
		}
		if r == nil {
			continue
		}
		objs = append(objs, r)
	}
	return &Index{
		tree: rtreego.NewTree(2, 25, 50, objs...),
		size: len(objs),
	}, nil
}

func newRegion(c boundary.County) (*region, error) {
	g, err := wkb.Unmarshal(c.Geometry)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: decode county %s", c.FIPS)
	}

	var polys []*geom.Polygon
	switch t := g.(type) {
	case *geom.Polygon:
		polys = []*geom.Polygon{t}
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			polys = append(polys, t.Polygon(i))
		}
	default:
		return nil, eris.Errorf("spatial: county %s has unsupported geometry %T", c.FIPS, g)
	}

	b := g.Bounds()
	if b.IsEmpty() {
		return nil, nil
	}
	rect, err := rtreego.NewRectFromPoints(
		rtreego.Point{b.Min(0), b.Min(1)},
		rtreego.Point{b.Max(0), b.Max(1)},
	)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: bounds of county %s", c.FIPS)
	}
	return &region{fips: c.FIPS, bbox: rect, polys: polys}, nil
}

// Len returns the number of indexed counties.
func (idx *Index) Len() int { return idx.size }

// Locate returns the FIPS codes of every county covering c, sorted.
func (idx *Index) Locate(c geom.Coord) []string {
	if idx.size == 0 {
		return nil
	}
	q := rtreego.Point{c.X(), c.Y()}.ToRect(pointTolerance)

	var out []string
	for _, s := range idx.tree.SearchIntersect(q) {
		r := s.(*region)
		if r.contains(c) {
			out = append(out, r.fips)
		}
	}
	sort.Strings(out)
	return out
}
