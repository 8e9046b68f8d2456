package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	harvestOnce  bool
	harvestReset bool
)

func init() {
	harvestCmd.Flags().BoolVar(&harvestOnce, "once", false, "run a single batch instead of waiting out rate limits")
	harvestCmd.Flags().BoolVar(&harvestReset, "reset", false, "clear the checkpoint and start from the first row")
	rootCmd.AddCommand(harvestCmd)
}

var harvestCmd = &cobra.Command{
	Use:   "harvest [--once] [--reset]",
	Short: "Harvests transactions for every unit in unit_codes.csv, resuming from the checkpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if harvestReset {
			cp, err := orchestrator.Checkpoint()
			if err != nil {
				return err
			}
			if err := cp.Clear(); err != nil {
				return fmt.Errorf("clear checkpoint: %w", err)
			}
			logger.Info("checkpoint cleared")
		}

		res, err := orchestrator.Harvest(cmd.Context(), harvestOnce)
		if res != nil {
			logger.Info("harvest stopped",
				zap.Int("start", res.Start),
				zap.Int("next", res.Next),
				zap.Int("records", res.Records),
				zap.Bool("rate_limited", res.RateLimited),
				zap.Bool("done", res.Done))
		}
		return err
	},
}
