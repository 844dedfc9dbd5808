package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coffee-density/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stage and write the density layer",
	Long: `Downloads the county boundaries and population estimates, counts the
coffee shops of the local Overture places directory per county and writes
coffee_shops_per_capita to --output (.gpkg or .geojson).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRunFlags(cmd)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		skip, _ := cmd.Flags().GetBool("skip-boundaries")
		result, err := newPipeline().Run(ctx, pipeline.RunOptions{SkipBoundaries: skip})
		if err != nil {
			if result != nil {
				zap.L().Error("run failed",
					zap.String("run_id", result.RunID),
					zap.Int("phases", len(result.Phases)),
				)
			}
			return eris.Wrap(err, "run")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		zap.L().Info("run complete",
			zap.String("run_id", result.RunID),
			zap.String("output", result.OutputPath),
			zap.Int("rows", result.Summary.Rows),
			zap.Int("with_population", result.Summary.WithPopulation),
			zap.Int("with_counts", result.Summary.WithCounts),
			zap.Int64("coffee_shops", result.Summary.CoffeeShops),
		)
		return nil
	},
}

// applyRunFlags overrides config values with the flags that were set.
func applyRunFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("output") {
		cfg.Output.Path, _ = cmd.Flags().GetString("output")
	}
	applyPlacesFlags(cmd)
}

// addPlacesFlags registers the flags shared by commands that read places.
func addPlacesFlags(cmd *cobra.Command) {
	cmd.Flags().String("places-dir", "", "Overture places directory (default <data_dir>/places)")
	cmd.Flags().Int("workers", 0, "concurrent place files (default GOMAXPROCS)")
	cmd.Flags().Bool("progress", false, "show a progress bar while reading place files")
}

func applyPlacesFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("places-dir") {
		cfg.Places.Dir, _ = flags.GetString("places-dir")
	}
	if flags.Changed("workers") {
		cfg.Places.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("progress") {
		cfg.Places.Progress, _ = flags.GetBool("progress")
	}
}

func init() {
	runCmd.Flags().StringP("output", "o", "", "output file (.gpkg or .geojson; default from config)")
	addPlacesFlags(runCmd)
	runCmd.Flags().Bool("skip-boundaries", false, "reuse the existing boundary file instead of downloading it")
	runCmd.Flags().Bool("json", false, "print the run result as JSON")
	rootCmd.AddCommand(runCmd)
}
