package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srediag/ohlcv-shm/pkg/shm"
)

// =============================================================================
// SWEEP COMMAND
// =============================================================================

func newSweepCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove segments left behind by producers that exited without releasing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			removed, err := shm.SweepStale(cmd.Context(), c.cfg.SegmentDir, c.cfg.SegmentPrefix)
			for _, name := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), "removed", name)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d stale segments removed from %s\n", len(removed), c.cfg.SegmentDir)
			return nil
		},
	}
}
