// Package places reads point-of-interest records from a directory of Overture
// Maps places Parquet files and keeps those of one category.
package places

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/coffee-density/internal/columnar"
)

const (
	// DefaultCategory is the main category label of coffee shops.
	DefaultCategory = "coffee_shop"
	// DefaultCategoryColumn is the category leaf column of the 2023-07 release.
	// Later releases name it "categories.primary".
	DefaultCategoryColumn = "categories.main"
	// GeometryColumn holds the WKB point of each place.
	GeometryColumn = "geometry"
)

// Place is one point of interest that matched the target category.
type Place struct {
	Category string
	Geometry []byte // WKB point
}

// Options configures ReadDir and ReadFile.
type Options struct {
	Category       string // DefaultCategory when empty
	CategoryColumn string // DefaultCategoryColumn when empty
	Workers        int    // concurrent files; GOMAXPROCS when <= 0
	Progress       bool   // draw a progress bar on stderr
}

func (o Options) withDefaults() Options {
	if o.Category == "" {
		o.Category = DefaultCategory
	}
	if o.CategoryColumn == "" {
		o.CategoryColumn = DefaultCategoryColumn
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// ListFiles returns the data files of dir in name order. Overture releases
// ship part files with and without a .parquet suffix, so every regular,
// non-hidden file is included.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "places: read dir %s", dir)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// ReadDir reads every file of dir concurrently and returns the matching
// places. The result is ordered by file name, then by row within a file.
func ReadDir(ctx context.Context, dir string, opts Options) ([]Place, error) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "places.read"), zap.String("dir", dir))

	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, eris.Errorf("places: no data files in %s", dir)
	}

	log.Info("reading place files",
		zap.Int("files", len(files)),
		zap.Int("workers", opts.Workers),
		zap.String("category", opts.Category),
	)

	var bar *pb.ProgressBar
	if opts.Progress {
		bar = pb.Full.Start(len(files))
		bar.Set("prefix", "places ")
		bar.Set(pb.CleanOnFinish, true)
		defer bar.Finish()
	}

	results := make([][]Place, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for i, path := range files {
		g.Go(func() error {
			found, err := ReadFile(gctx, path, opts)
			if err != nil {
				return err
			}
			results[i] = found
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "places: read dir")
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	out := make([]Place, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}

	log.Info("read place files", zap.String("matched", humanize.Comma(int64(total))))
	return out, nil
}

// ReadFile reads one Parquet file, projecting only the category and geometry
// columns, and returns the rows whose category equals opts.Category. Rows
// with a null category or geometry are skipped.
func ReadFile(ctx context.Context, path string, opts Options) ([]Place, error) {
	opts = opts.withDefaults()

	var (
		out     []Place
		scanned int64
	)
	err := columnar.Scan(ctx, path, []string{opts.CategoryColumn, GeometryColumn}, func(rec arrow.Record) error {
		cats, catValid, err := columnar.Column(rec, opts.CategoryColumn)
		if err != nil {
			return err
		}
		geoms, geomValid, err := columnar.Column(rec, GeometryColumn)
		if err != nil {
			return err
		}

		n := int(rec.NumRows())
		scanned += int64(n)
		for i := 0; i < n; i++ {
			if !catValid(i) || !geomValid(i) {
				continue
			}
			cat, err := columnar.StringAt(cats, i)
			if err != nil {
				return err
			}
			if cat != opts.Category {
				continue
			}
			g, err := columnar.BytesAt(geoms, i)
			if err != nil {
				return err
			}
			out = append(out, Place{Category: cat, Geometry: g})
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "places: read %s", filepath.Base(path))
	}

	zap.L().Debug("places: scanned file",
		zap.String("file", filepath.Base(path)),
		zap.Int64("rows", scanned),
		zap.Int("matched", len(out)),
	)
	return out, nil
}
