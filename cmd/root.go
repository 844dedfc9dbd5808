package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coffee-density/internal/config"
	"github.com/sells-group/coffee-density/internal/fetcher"
	"github.com/sells-group/coffee-density/internal/pipeline"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "coffee-density",
	Short: "Coffee shops per 100k residents for every US county",
	Long:  "Joins Overture Maps coffee shops to Natural Earth county boundaries, merges Census population estimates and writes a per-county density layer.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// newPipeline builds a pipeline over an HTTP fetcher configured from cfg.
func newPipeline() *pipeline.Pipeline {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})
	return pipeline.New(cfg, f)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
