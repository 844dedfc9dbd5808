package boundary

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coffee-density/internal/fetcher"
)

// Load downloads the boundary archive, extracts it into opts.WorkDir and
// parses the county features of opts.Country. Every call fetches the archive
// again.
func Load(ctx context.Context, f fetcher.Fetcher, opts Options) ([]County, error) {
	opts = opts.withDefaults()
	log := zap.L().With(
		zap.String("component", "boundary.load"),
		zap.String("url", opts.URL),
	)

	if opts.WorkDir == "" {
		dir, err := os.MkdirTemp("", "boundary-*")
		if err != nil {
			return nil, eris.Wrap(err, "boundary: create work dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck
		opts.WorkDir = dir
	}

	zipName := path.Base(opts.URL)
	if i := strings.IndexAny(zipName, "?#"); i >= 0 {
		zipName = zipName[:i]
	}
	if zipName == "" || zipName == "." || zipName == "/" {
		zipName = "boundaries.zip"
	}
	zipPath := filepath.Join(opts.WorkDir, zipName)

	log.Info("downloading boundary archive")
	if _, err := f.DownloadToFile(ctx, opts.URL, zipPath); err != nil {
		return nil, eris.Wrap(err, "boundary: download archive")
	}

	extractDir := filepath.Join(opts.WorkDir, strings.TrimSuffix(zipName, filepath.Ext(zipName)))
	extracted, err := fetcher.ExtractZIP(zipPath, extractDir)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: extract archive")
	}

	shpPath, err := fetcher.FindFileByExt(extracted, ".shp")
	if err != nil {
		return nil, eris.Wrap(err, "boundary: find .shp file")
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	counties, err := ParseCounties(reader, opts.Country)
	if err != nil {
		return nil, err
	}

	log.Info("parsed county boundaries",
		zap.String("country", opts.Country),
		zap.Int("counties", len(counties)),
	)
	return counties, nil
}

// Prepare runs Load and writes the result to outPath.
func Prepare(ctx context.Context, f fetcher.Fetcher, opts Options, outPath string) ([]County, error) {
	counties, err := Load(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, eris.Wrap(err, "boundary: create output dir")
	}
	if err := WriteParquet(outPath, counties); err != nil {
		return nil, err
	}
	zap.L().Info("wrote boundary file",
		zap.String("component", "boundary.prepare"),
		zap.String("path", outPath),
		zap.Int("counties", len(counties)),
	)
	return counties, nil
}
