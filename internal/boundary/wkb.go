package boundary

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
	"go.uber.org/zap"
)

// EncodeWKB converts a shapefile polygon to little-endian ISO WKB.
// The result is always a MultiPolygon. Returns nil, nil for unsupported or
// empty shapes.
func EncodeWKB(shape shp.Shape) ([]byte, error) {
	var g geom.T

	switch s := shape.(type) {
	case *shp.Polygon:
		if mp := polygonToMultiPolygon(s); mp != nil {
			g = mp
		}
	default:
		return nil, nil
	}

	if g == nil {
		return nil, nil
	}

	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: encode WKB")
	}
	return data, nil
}

type ring struct {
	coords []geom.Coord
	flat   []float64
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Shapefiles store outer rings clockwise and holes counter-clockwise, all in
// one flat part list. Each hole joins the last shell that contains it; a hole
// inside no shell is kept as a polygon of its own.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var shells, holes []ring
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 4 {
			zap.L().Debug("boundary: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		r := ring{
			coords: make([]geom.Coord, 0, end-start),
			flat:   make([]float64, 0, 2*(end-start)),
		}
		for j := start; j < end; j++ {
			r.coords = append(r.coords, geom.Coord{p.Points[j].X, p.Points[j].Y})
			r.flat = append(r.flat, p.Points[j].X, p.Points[j].Y)
		}

		if xy.IsRingCounterClockwise(geom.XY, r.flat) {
			holes = append(holes, r)
		} else {
			shells = append(shells, r)
		}
	}

	polys := make([][][]geom.Coord, 0, len(shells))
	for _, sh := range shells {
		polys = append(polys, [][]geom.Coord{sh.coords})
	}
	for _, h := range holes {
		if i := containingShell(shells, h); i >= 0 {
			polys[i] = append(polys[i], h.coords)
			continue
		}
		polys = append(polys, [][]geom.Coord{h.coords})
	}

	if len(polys) == 0 {
		return nil
	}

	mp, err := geom.NewMultiPolygon(geom.XY).SetCoords(polys)
	if err != nil {
		zap.L().Debug("boundary: malformed polygon", zap.Error(err))
		return nil
	}
	return mp
}

// containingShell returns the index of the last shell containing hole, or -1.
// Hole vertices on a shell's boundary are skipped, since valid holes may touch
// their shell; a hole lying entirely on the boundary is taken as contained.
func containingShell(shells []ring, hole ring) int {
	for i := len(shells) - 1; i >= 0; i-- {
		inside := true
		for _, c := range hole.coords {
			loc := xy.LocatePointInRing(geom.XY, c, shells[i].flat)
			if loc == location.Boundary {
				continue
			}
			inside = loc == location.Interior
			break
		}
		if inside {
			return i
		}
	}
	return -1
}
