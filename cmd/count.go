package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/coffee-density/internal/spatial"
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count places per county and print the top counties",
	Long: `Reads the boundary file written by "boundaries" (or "run"), counts the
places of the configured category in each county and prints the counties
with the most places. Nothing is written.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyPlacesFlags(cmd)
		if cmd.Flags().Changed("category") {
			cfg.Places.Category, _ = cmd.Flags().GetString("category")
		}
		if err := cfg.Validate("count"); err != nil {
			return err
		}

		p := newPipeline()
		counties, err := p.ReadBoundaries(ctx)
		if err != nil {
			return eris.Wrap(err, "count: run \"coffee-density boundaries\" first")
		}

		counts, err := p.Counts(ctx, counties)
		if err != nil {
			return eris.Wrap(err, "count")
		}

		top, _ := cmd.Flags().GetInt("top")
		printTopCounties(cmd.OutOrStdout(), counts, top)
		return nil
	},
}

// printTopCounties writes the n counties with the highest counts.
func printTopCounties(w io.Writer, counts spatial.Counts, n int) {
	fmt.Fprintf(w, "%s %s in %d counties\n",
		humanize.Comma(counts.Total()), cfg.Places.Category, len(counts))
	if len(counts) == 0 {
		return
	}

	fmt.Fprintf(w, "%-6s %10s\n", "FIPS", "Count")
	fmt.Fprintln(w, strings.Repeat("-", 17))
	for _, c := range counts.Top(n) {
		fmt.Fprintf(w, "%-6s %10s\n", c.FIPS, humanize.Comma(c.Count))
	}
}

func init() {
	addPlacesFlags(countCmd)
	countCmd.Flags().String("category", "", "category to count (default from config)")
	countCmd.Flags().Int("top", 20, "number of counties to print")
	rootCmd.AddCommand(countCmd)
}
