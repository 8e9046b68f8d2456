package commands

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"estate_harvester/scheduler"
	"estate_harvester/workers"
)

var publishInterval time.Duration

func init() {
	daemonCmd.Flags().DurationVar(&publishInterval, "publish-interval", 5*time.Minute, "how often new batch files are pushed to S3")
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Runs harvest and condense on SCRAPE_CRON or SCRAPE_INTERVAL until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		uploader, release, err := attachSinks(ctx)
		if err != nil {
			return err
		}
		defer release()

		sched := scheduler.New(cfg.Scheduler, orchestrator, logger.Named("scheduler"))

		if uploader != nil {
			publisher := workers.NewBatchPublisher(cfg.RecordsDir(), uploader, logger.Named("publisher"))
			publisher.SetLogger(workers.LedgerLogger(store.Log))
			go publisher.Run(ctx, publishInterval)
			sched.SetPublisher(publisher)
			logger.Info("batch publisher started", zap.Duration("interval", publishInterval))
		}

		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()

		logger.Info("daemon running, press Ctrl+C to stop")
		sched.TriggerNow(ctx)

		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	},
}
