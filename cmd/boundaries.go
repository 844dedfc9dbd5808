package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Download county boundaries and write the boundary file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("country") {
			cfg.Boundary.Country, _ = cmd.Flags().GetString("country")
		}
		if err := cfg.Validate("boundaries"); err != nil {
			return err
		}

		counties, err := newPipeline().Boundaries(ctx)
		if err != nil {
			return eris.Wrap(err, "boundaries")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d counties to %s\n", len(counties), cfg.BoundaryPath())
		return nil
	},
}

func init() {
	boundariesCmd.Flags().String("country", "", "ADMIN value of the features to keep (default from config)")
	rootCmd.AddCommand(boundariesCmd)
}
