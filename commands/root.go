package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"estate_harvester/config"
	"estate_harvester/logging"
	"estate_harvester/pipeline"
	"estate_harvester/storage"
)

// Shared state, set up in PersistentPreRunE for every subcommand.
var (
	dataDir string

	cfg          *config.Config
	logger       *zap.Logger
	store        *storage.SQLiteStore
	orchestrator *pipeline.Orchestrator
	closeLog     func() error
)

var rootCmd = &cobra.Command{
	Use:           "estate-harvester",
	Short:         "estate-harvester discovers unit codes and harvests estate transactions.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.SetDataDir(dataDir)

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return err
		}

		logger, closeLog, err = logging.New(cfg.LogLevel, cfg.LogFile)
		if err != nil {
			return fmt.Errorf("set up logging: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return err
		}
		store, err = storage.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open run ledger %s: %w", cfg.DBPath, err)
		}

		orchestrator = pipeline.NewOrchestrator(cfg, store, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for unit tables, batch files and the checkpoint (default $DATA_DIR or ./data)")
}

func cleanup() {
	if store != nil {
		store.Close()
		store = nil
	}
	if logger != nil {
		_ = logger.Sync()
	}
	if closeLog != nil {
		closeLog()
		closeLog = nil
	}
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger != nil {
			logger.Error("command failed", zap.Error(err))
		}
		cleanup()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
