package boundary

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coffee-density/internal/fips"
)

// maxBadSamples caps the rejected codes reported in the drop warning.
const maxBadSamples = 5

// ShapeReader is the subset of *shp.Reader used to parse counties.
type ShapeReader interface {
	Next() bool
	Shape() (int, shp.Shape)
	Attribute(n int) string
	Fields() []shp.Field
	Err() error
}

// ParseCounties reads every feature from r and returns those whose ADMIN
// attribute equals country, with CODE_LOCAL projected into a FIPS code and
// the polygon encoded as WKB. Features without a usable geometry are skipped.
// Features whose code is not a 5-digit FIPS code are dropped with a warning,
// since they cannot join the population table.
func ParseCounties(r ShapeReader, country string) ([]County, error) {
	fieldIdx := make(map[string]int)
	for i, f := range r.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToUpper(strings.TrimSpace(name))] = i
	}

	adminIdx, ok := fieldIdx[countryField]
	if !ok {
		return nil, eris.Errorf("boundary: shapefile has no %s field", countryField)
	}
	codeIdx, ok := fieldIdx[codeField]
	if !ok {
		return nil, eris.Errorf("boundary: shapefile has no %s field", codeField)
	}

	var (
		counties   []County
		badCode    int
		badSamples []string
		badGeom    int
		otherAdmin int
	)

	for r.Next() {
		if attr(r, adminIdx) != country {
			otherAdmin++
			continue
		}

		code := normalizeCode(attr(r, codeIdx))
		if !fips.Valid(code) {
			badCode++
			if len(badSamples) < maxBadSamples {
				badSamples = append(badSamples, code)
			}
			continue
		}

		_, shape := r.Shape()
		data, err := EncodeWKB(shape)
		if err != nil {
			return nil, eris.Wrapf(err, "boundary: county %s", code)
		}
		if data == nil {
			badGeom++
			continue
		}

		counties = append(counties, County{FIPS: code, Geometry: data})
	}
	if err := r.Err(); err != nil {
		return nil, eris.Wrap(err, "boundary: read shapefile")
	}

	// Rows without a 5-digit code cannot join the population table.
	if badCode > 0 {
		zap.L().Warn("boundary: dropped features without a county FIPS code",
			zap.Int("count", badCode),
			zap.Strings("examples", badSamples),
		)
	}

	zap.L().Debug("boundary: parsed shapefile",
		zap.Int("kept", len(counties)),
		zap.Int("other_country", otherAdmin),
		zap.Int("bad_code", badCode),
		zap.Int("bad_geometry", badGeom),
	)

	return counties, nil
}

func attr(r ShapeReader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(r.Attribute(idx), "\x00"))
}

// normalizeCode restores leading zeros that spreadsheet round trips drop
// ("6001" -> "06001").
func normalizeCode(code string) string {
	if code == "" || len(code) >= fips.Width {
		return code
	}
	return strings.Repeat("0", fips.Width-len(code)) + code
}
