package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(condenseCmd)
}

var condenseCmd = &cobra.Command{
	Use:   "condense",
	Short: "Flattens every batch file into summary_data.csv.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, release, err := attachSinks(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		res, err := orchestrator.Condense(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("condense finished", zap.String("path", res.Path), zap.Int("files", res.Files), zap.Int("rows", res.Rows))
		return nil
	},
}
