package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"estate_harvester/config"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// Job is the scheduled unit of work: one harvest attempt plus condense.
type Job interface {
	RunScheduled(ctx context.Context) error
}

type Scheduler struct {
	cfg    config.SchedulerConfig
	job    Job
	logger *zap.Logger
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}

	running   sync.Mutex
	publisher Triggerable
}

func New(cfg config.SchedulerConfig, job Job, logger *zap.Logger) *Scheduler {
	cronLogger := cron.VerbosePrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &Scheduler{
		cfg:    cfg,
		job:    job,
		logger: logger,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger))),
		stopCh: make(chan struct{}),
	}
}

// SetPublisher registers the batch publisher, triggered after every run.
func (s *Scheduler) SetPublisher(p Triggerable) {
	s.publisher = p
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Cron != "" {
		s.logger.Info("starting scheduler", zap.String("cron", s.cfg.Cron))
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.run(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		s.logger.Info("starting scheduler", zap.Duration("interval", s.cfg.Interval))
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.run(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		return fmt.Errorf("no schedule configured: set SCRAPE_CRON or SCRAPE_INTERVAL")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// TriggerNow runs the job immediately unless a run is already in progress.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Info("previous run still in progress, skipping")
		return
	}
	defer s.running.Unlock()

	start := time.Now()
	if err := s.job.RunScheduled(ctx); err != nil {
		s.logger.Error("scheduled run failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled run finished", zap.Duration("took", time.Since(start)))

	if s.publisher != nil {
		s.publisher.Trigger()
	}
}
