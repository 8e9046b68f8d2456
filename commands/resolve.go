package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"estate_harvester/pipeline"
)

var (
	estatesPath    string
	recordCaptures string
	fromCaptures   string
)

func init() {
	resolveCmd.Flags().StringVar(&estatesPath, "estates", "", "estates spreadsheet (.xlsx or .csv), overrides ESTATES_PATH")
	resolveCmd.Flags().StringVar(&recordCaptures, "record-captures", "", "save every browser capture to this directory")
	resolveCmd.Flags().StringVar(&fromCaptures, "from-captures", "", "read captures from this directory instead of driving a browser")
	rootCmd.AddCommand(resolveCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [--estates <file>]",
	Short: "Resolves every estate in the spreadsheet into unit_codes.csv and manual_gather.csv.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if estatesPath != "" {
			cfg.EstatesPath = estatesPath
		}

		res, err := orchestrator.Resolve(cmd.Context(), pipeline.ResolveOptions{
			RecordDir: recordCaptures,
			ReplayDir: fromCaptures,
		})
		if res != nil {
			for url, ferr := range res.Failed {
				logger.Warn("estate skipped", zap.String("url", url), zap.Error(ferr))
			}
			logger.Info("resolve finished",
				zap.String("unit_codes", cfg.UnitCodesPath()),
				zap.Int("units", len(res.Units)),
				zap.Int("missed", len(res.Missed)))
		}
		return err
	},
}
