// Package pipeline runs the coffee shop density stages in order: county
// boundaries, place aggregation, population, merge and output.
package pipeline

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coffee-density/internal/boundary"
	"github.com/sells-group/coffee-density/internal/census"
	"github.com/sells-group/coffee-density/internal/config"
	"github.com/sells-group/coffee-density/internal/fetcher"
	"github.com/sells-group/coffee-density/internal/merge"
	"github.com/sells-group/coffee-density/internal/output"
	"github.com/sells-group/coffee-density/internal/places"
	"github.com/sells-group/coffee-density/internal/spatial"
)

// Phase names, in run order.
const (
	PhaseBoundaries = "1_boundaries"
	PhasePlaces     = "2_places"
	PhasePopulation = "3_population"
	PhaseMerge      = "4_merge"
	PhaseWrite      = "5_write"
)

// PhaseStatus is the outcome of a phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult records one phase of a run.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is the outcome of Run.
type Result struct {
	RunID      string         `json:"run_id"`
	OutputPath string         `json:"output_path"`
	Phases     []PhaseResult  `json:"phases"`
	Summary    merge.Summary  `json:"summary"`
	Counts     spatial.Counts `json:"-"`
}

// RunOptions configures a single Run.
type RunOptions struct {
	// SkipBoundaries reads the existing boundary file instead of downloading
	// the archive again.
	SkipBoundaries bool
}

// Pipeline wires configuration and the fetcher into the stages.
type Pipeline struct {
	cfg     *config.Config
	fetcher fetcher.Fetcher
}

// New creates a Pipeline.
func New(cfg *config.Config, f fetcher.Fetcher) *Pipeline {
	return &Pipeline{cfg: cfg, fetcher: f}
}

// Run executes every stage in order and writes the output file. The first
// failing stage aborts the run; the returned Result still lists the phases
// that ran.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	result := &Result{
		RunID:      uuid.New().String(),
		OutputPath: p.cfg.Output.Path,
	}
	log := zap.L().With(zap.String("run_id", result.RunID))
	log.Info("pipeline: starting",
		zap.String("output", result.OutputPath),
		zap.Bool("skip_boundaries", opts.SkipBoundaries),
	)
	start := time.Now()

	trackPhase := func(name string, fn func() (map[string]any, error)) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		phaseStart := time.Now()
		meta, fnErr := fn()
		pr := PhaseResult{
			Name:     name,
			Duration: time.Since(phaseStart).Milliseconds(),
			Metadata: meta,
		}

		if fnErr != nil {
			pr.Status = PhaseStatusFailed
			pr.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", pr.Duration),
				zap.Error(fnErr),
			)
		} else {
			pr.Status = PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", pr.Duration),
			)
		}
		result.Phases = append(result.Phases, pr)
		return fnErr
	}

	// Phase 1: County boundaries
	var counties []boundary.County
	if err := trackPhase(PhaseBoundaries, func() (map[string]any, error) {
		var err error
		if opts.SkipBoundaries {
			counties, err = p.ReadBoundaries(ctx)
		} else {
			counties, err = p.Boundaries(ctx)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"counties": len(counties),
			"path":     p.cfg.BoundaryPath(),
			"reused":   opts.SkipBoundaries,
		}, nil
	}); err != nil {
		return result, err
	}

	// Phase 2: Places per county
	if err := trackPhase(PhasePlaces, func() (map[string]any, error) {
		counts, err := p.Counts(ctx, counties)
		if err != nil {
			return nil, err
		}
		result.Counts = counts
		return map[string]any{
			"counties_with_places": len(counts),
			"places":               counts.Total(),
		}, nil
	}); err != nil {
		return result, err
	}

	// Phase 3: Population
	var population []census.Population
	if err := trackPhase(PhasePopulation, func() (map[string]any, error) {
		var err error
		population, err = p.Population(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"counties": len(population)}, nil
	}); err != nil {
		return result, err
	}

	// Phase 4: Merge
	var rows []merge.Row
	if err := trackPhase(PhaseMerge, func() (map[string]any, error) {
		rows = merge.Merge(counties, population, result.Counts)
		result.Summary = merge.Summarize(rows)
		return map[string]any{
			"rows":            result.Summary.Rows,
			"with_population": result.Summary.WithPopulation,
			"with_counts":     result.Summary.WithCounts,
			"non_finite":      result.Summary.NonFinite,
		}, nil
	}); err != nil {
		return result, err
	}

	// Phase 5: Output
	if err := trackPhase(PhaseWrite, func() (map[string]any, error) {
		if err := output.Write(ctx, p.cfg.Output.Path, rows); err != nil {
			return nil, err
		}
		return map[string]any{"path": p.cfg.Output.Path, "rows": len(rows)}, nil
	}); err != nil {
		return result, err
	}

	log.Info("pipeline: complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.String("rows", humanize.Comma(int64(result.Summary.Rows))),
		zap.String("coffee_shops", humanize.Comma(result.Summary.CoffeeShops)),
		zap.Int("counties_without_population", result.Summary.Rows-result.Summary.WithPopulation),
	)
	return result, nil
}

// Boundaries downloads the county archive and writes the boundary file.
func (p *Pipeline) Boundaries(ctx context.Context) ([]boundary.County, error) {
	return boundary.Prepare(ctx, p.fetcher, boundary.Options{
		URL:     p.cfg.Boundary.URL,
		Country: p.cfg.Boundary.Country,
	}, p.cfg.BoundaryPath())
}

// ReadBoundaries reads a boundary file written by an earlier run.
func (p *Pipeline) ReadBoundaries(ctx context.Context) ([]boundary.County, error) {
	counties, err := boundary.ReadParquet(ctx, p.cfg.BoundaryPath())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read boundaries")
	}
	return counties, nil
}

// Counts reads the configured places directory and counts the matching
// places in each county.
func (p *Pipeline) Counts(ctx context.Context, counties []boundary.County) (spatial.Counts, error) {
	idx, err := spatial.NewIndex(counties)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("pipeline: indexed counties", zap.Int("counties", idx.Len()))

	ps, err := places.ReadDir(ctx, p.cfg.PlacesDir(), places.Options{
		Category:       p.cfg.Places.Category,
		CategoryColumn: p.cfg.Places.CategoryColumn,
		Workers:        p.cfg.Places.Workers,
		Progress:       p.cfg.Places.Progress,
	})
	if err != nil {
		return nil, err
	}

	return spatial.CountWithin(idx, ps)
}

// Population downloads and parses the county population estimates.
func (p *Pipeline) Population(ctx context.Context) ([]census.Population, error) {
	return census.Load(ctx, p.fetcher, census.Options{
		URL:              p.cfg.Census.URL,
		PopulationColumn: p.cfg.Census.PopulationColumn,
	})
}
