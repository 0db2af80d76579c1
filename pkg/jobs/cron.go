package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/jordanlanch/affiliate-engine/pkg/payout"
	"github.com/robfig/cron/v3"
)

// Job names, also used as lock keys
const (
	JobReleaseHeld = "release_held"
	JobPayoutBatch = "payout_batch"
)

// HeldReleaser approves held commissions whose flags have been reviewed
type HeldReleaser interface {
	ReleaseHeld(ctx context.Context) (int, error)
}

// PeriodBatcher creates payouts for every affiliate with payable commissions
type PeriodBatcher interface {
	BatchPeriod(ctx context.Context, start, end time.Time) ([]*models.Payout, error)
}

// Schedules are cron expressions for the scheduled jobs. An empty expression disables its job.
type Schedules struct {
	ReleaseHeld string
	PayoutBatch string
}

// CronManager manages scheduled jobs
type CronManager struct {
	cron     *cron.Cron
	releaser HeldReleaser
	batcher  PeriodBatcher
	locker   Locker
	log      logger.Logger
	now      func() time.Time
}

// Option configures a CronManager
type Option func(*CronManager)

// WithLocker keeps a job from running on two instances at once
func WithLocker(l Locker) Option {
	return func(cm *CronManager) { cm.locker = l }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(cm *CronManager) {
		if l != nil {
			cm.log = l
		}
	}
}

// NewCronManager creates a new cron manager. Schedules are evaluated in UTC.
func NewCronManager(releaser HeldReleaser, batcher PeriodBatcher, opts ...Option) *CronManager {
	cm := &CronManager{
		releaser: releaser,
		batcher:  batcher,
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(cm)
	}

	cl := cronLogger{log: cm.log}
	cm.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return cm
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs(s Schedules) error {
	if s.ReleaseHeld != "" {
		if _, err := cm.cron.AddFunc(s.ReleaseHeld, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			cm.guarded(ctx, JobReleaseHeld, 5*time.Minute, func(ctx context.Context) error {
				_, err := cm.RunReleaseHeld(ctx)
				return err
			})
		}); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", JobReleaseHeld, s.ReleaseHeld, err)
		}
	}

	if s.PayoutBatch != "" {
		if _, err := cm.cron.AddFunc(s.PayoutBatch, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			cm.guarded(ctx, JobPayoutBatch, 30*time.Minute, func(ctx context.Context) error {
				_, err := cm.RunPayoutBatch(ctx)
				return err
			})
		}); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", JobPayoutBatch, s.PayoutBatch, err)
		}
	}

	cm.log.Info("cron jobs configured", "release_held", s.ReleaseHeld, "payout_batch", s.PayoutBatch)
	return nil
}

// RunReleaseHeld runs the held commission release once
func (cm *CronManager) RunReleaseHeld(ctx context.Context) (int, error) {
	n, err := cm.releaser.ReleaseHeld(ctx)
	if err != nil {
		return n, fmt.Errorf("release held commissions: %w", err)
	}
	cm.log.Info("held commission release finished", "released", n)
	return n, nil
}

// RunPayoutBatch batches the previous calendar month into payouts
func (cm *CronManager) RunPayoutBatch(ctx context.Context) ([]*models.Payout, error) {
	start, end := payout.PreviousMonth(cm.now())
	payouts, err := cm.batcher.BatchPeriod(ctx, start, end)
	if err != nil {
		return payouts, fmt.Errorf("batch payouts for %s: %w", start.Format("2006-01"), err)
	}
	cm.log.Info("payout batch finished", "period_start", start, "period_end", end, "payouts", len(payouts))
	return payouts, nil
}

// guarded runs fn under the job's lock when a locker is configured
func (cm *CronManager) guarded(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) {
	if cm.locker != nil {
		release, ok, err := cm.locker.Acquire(ctx, name, ttl)
		if err != nil {
			cm.log.Error("job lock failed", "job", name, "error", err)
			return
		}
		if !ok {
			cm.log.Debug("job running elsewhere, skipped", "job", name)
			return
		}
		defer release()
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		cm.log.Error("job failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	cm.log.Debug("job finished", "job", name, "duration", time.Since(start))
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.log.Info("starting cron scheduler")
	cm.cron.Start()
}

// Stop stops the scheduler and waits for running jobs until ctx is done
func (cm *CronManager) Stop(ctx context.Context) {
	cm.log.Info("stopping cron scheduler")
	select {
	case <-cm.cron.Stop().Done():
	case <-ctx.Done():
		cm.log.Warn("cron jobs still running at shutdown")
	}
}

// cronLogger routes the scheduler's own messages to the structured logger
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
