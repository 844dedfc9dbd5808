// Package census loads county population estimates from the Census Bureau
// county totals file (co-est2022-alldata.csv).
package census

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/coffee-density/internal/fetcher"
	"github.com/sells-group/coffee-density/internal/fips"
)

const (
	// DefaultURL is the Vintage 2022 county population totals file.
	DefaultURL = "https://www2.census.gov/programs-surveys/popest/datasets/2020-2022/counties/totals/co-est2022-alldata.csv"
	// DefaultPopulationColumn is the estimate column carried into the output.
	DefaultPopulationColumn = "POPESTIMATE2022"

	stateColumn      = "STATE"
	countyColumn     = "COUNTY"
	stateNameColumn  = "STNAME"
	countyNameColumn = "CTYNAME"
)

// ErrMissingColumn is returned when a required column is absent from the header.
var ErrMissingColumn = eris.New("census: missing column")

// Population is one county row of the estimates file.
type Population struct {
	FIPS       string
	State      string // state name
	County     string // county name
	Population int64
}

// Options configures Parse and Load.
type Options struct {
	URL              string // DefaultURL when empty
	PopulationColumn string // DefaultPopulationColumn when empty
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.PopulationColumn == "" {
		o.PopulationColumn = DefaultPopulationColumn
	}
	return o
}

// Load downloads the estimates file and parses it.
func Load(ctx context.Context, f fetcher.Fetcher, opts Options) ([]Population, error) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "census.load"), zap.String("url", opts.URL))

	log.Info("downloading population estimates")
	body, err := f.Download(ctx, opts.URL)
	if err != nil {
		return nil, eris.Wrap(err, "census: download")
	}
	defer body.Close() //nolint:errcheck

	rows, err := Parse(ctx, body, opts)
	if err != nil {
		return nil, err
	}
	log.Info("parsed population estimates", zap.Int("counties", len(rows)))
	return rows, nil
}

// Parse reads an ISO-8859-1 encoded estimates CSV. Columns are looked up by
// header name. State total rows (COUNTY == 0) are dropped.
func Parse(ctx context.Context, r io.Reader, opts Options) ([]Population, error) {
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headerCh := make(chan []string, 1)
	decoded := charmap.ISO8859_1.NewDecoder().Reader(r)
	rowCh, errCh := fetcher.StreamCSV(ctx, decoded, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	required := []string{stateColumn, countyColumn, stateNameColumn, countyNameColumn, opts.PopulationColumn}
	var (
		header      []string
		cols        map[string]int
		out         []Population
		line        = 1
		stateTotals int
		err         error
	)
	for row := range rowCh {
		if cols == nil {
			header = <-headerCh
			if cols, err = columnIndex(header, required...); err != nil {
				return nil, err
			}
		}
		line++
		if len(row) < len(header) {
			return nil, eris.Errorf("census: line %d has %d fields, want %d", line, len(row), len(header))
		}

		county := row[cols[countyColumn]]
		if fips.IsStateTotal(county) {
			stateTotals++
			continue
		}

		code := fips.Combine(row[cols[stateColumn]], county)
		if !fips.Valid(code) {
			return nil, eris.Errorf("census: line %d: invalid FIPS %q", line, code)
		}

		pop, err := strconv.ParseInt(row[cols[opts.PopulationColumn]], 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "census: line %d: parse %s", line, opts.PopulationColumn)
		}

		out = append(out, Population{
			FIPS:       code,
			State:      row[cols[stateNameColumn]],
			County:     row[cols[countyNameColumn]],
			Population: pop,
		})
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "census: stream csv")
	}
	if cols == nil {
		// No data rows. A header alone must still carry every column.
		select {
		case header = <-headerCh:
			if _, err := columnIndex(header, required...); err != nil {
				return nil, err
			}
		default:
			return nil, eris.New("census: empty file")
		}
	}

	zap.L().Debug("census: parsed file",
		zap.Int("counties", len(out)),
		zap.Int("state_totals", stateTotals),
	)
	return out, nil
}

func columnIndex(header []string, names ...string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToUpper(h)] = i
	}

	out := make(map[string]int, len(names))
	for _, n := range names {
		i, ok := idx[strings.ToUpper(n)]
		if !ok {
			return nil, eris.Wrapf(ErrMissingColumn, "census: column %s", n)
		}
		out[n] = i
	}
	return out, nil
}
