package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"estate_harvester/config"
)

type countingJob struct {
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) RunScheduled(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		<-j.block
	}
	return j.err
}

type countingTrigger struct{ n atomic.Int32 }

func (c *countingTrigger) Trigger() { c.n.Add(1) }

func TestScheduler_IntervalRunsJobAndTriggersPublisher(t *testing.T) {
	job := &countingJob{}
	pub := &countingTrigger{}
	s := New(config.SchedulerConfig{Interval: 10 * time.Millisecond}, job, zap.NewNop())
	s.SetPublisher(pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return pub.n.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_FailedRunDoesNotPublish(t *testing.T) {
	job := &countingJob{err: errors.New("rate limited forever")}
	pub := &countingTrigger{}
	s := New(config.SchedulerConfig{Interval: time.Hour}, job, zap.NewNop())
	s.SetPublisher(pub)

	s.TriggerNow(context.Background())
	require.EqualValues(t, 1, job.runs.Load())
	require.Zero(t, pub.n.Load())
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	job := &countingJob{block: make(chan struct{})}
	s := New(config.SchedulerConfig{Interval: time.Hour}, job, zap.NewNop())

	done := make(chan struct{})
	go func() {
		s.TriggerNow(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	s.TriggerNow(context.Background())
	require.EqualValues(t, 1, job.runs.Load())

	close(job.block)
	<-done
}

func TestScheduler_RejectsBadCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "every tuesday"}, &countingJob{}, zap.NewNop())
	require.Error(t, s.Start(context.Background()))
}

func TestScheduler_RequiresASchedule(t *testing.T) {
	s := New(config.SchedulerConfig{}, &countingJob{}, zap.NewNop())
	require.Error(t, s.Start(context.Background()))
}
