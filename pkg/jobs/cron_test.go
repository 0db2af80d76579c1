package jobs

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jordanlanch/affiliate-engine/pkg/cache"
	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReleaser struct {
	released int
	err      error
	calls    int
}

func (f *fakeReleaser) ReleaseHeld(ctx context.Context) (int, error) {
	f.calls++
	return f.released, f.err
}

type fakeBatcher struct {
	mu         sync.Mutex
	start, end time.Time
	payouts    []*models.Payout
	err        error
}

func (f *fakeBatcher) BatchPeriod(ctx context.Context, start, end time.Time) ([]*models.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.start, f.end = start, end
	return f.payouts, f.err
}

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := &cache.Client{Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	return NewRedisLocker(client), mr
}

func TestSetupJobs(t *testing.T) {
	t.Run("Success - Both jobs scheduled", func(t *testing.T) {
		cm := NewCronManager(&fakeReleaser{}, &fakeBatcher{})
		require.NoError(t, cm.SetupJobs(Schedules{ReleaseHeld: "*/15 * * * *", PayoutBatch: "0 2 1 * *"}))
		assert.Len(t, cm.cron.Entries(), 2)
	})

	t.Run("Success - Empty schedule disables job", func(t *testing.T) {
		cm := NewCronManager(&fakeReleaser{}, &fakeBatcher{})
		require.NoError(t, cm.SetupJobs(Schedules{ReleaseHeld: "*/15 * * * *"}))
		assert.Len(t, cm.cron.Entries(), 1)
	})

	t.Run("Failure - Invalid expression", func(t *testing.T) {
		cm := NewCronManager(&fakeReleaser{}, &fakeBatcher{})
		err := cm.SetupJobs(Schedules{PayoutBatch: "every month"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), JobPayoutBatch)
	})
}

func TestRunReleaseHeld(t *testing.T) {
	var buf bytes.Buffer
	releaser := &fakeReleaser{released: 3}
	cm := NewCronManager(releaser, &fakeBatcher{}, WithLogger(logger.NewWithWriter(&buf, "info")))

	n, err := cm.RunReleaseHeld(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Contains(t, buf.String(), "held commission release finished")

	releaser.err = errors.New("db down")
	_, err = cm.RunReleaseHeld(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestRunPayoutBatch_PreviousMonth(t *testing.T) {
	batcher := &fakeBatcher{payouts: []*models.Payout{{ID: "p1"}}}
	cm := NewCronManager(&fakeReleaser{}, batcher)
	cm.now = func() time.Time { return time.Date(2026, time.March, 1, 2, 0, 0, 0, time.UTC) }

	payouts, err := cm.RunPayoutBatch(context.Background())
	require.NoError(t, err)
	assert.Len(t, payouts, 1)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), batcher.start)
	assert.Equal(t, time.February, batcher.end.Month())
	assert.Equal(t, 28, batcher.end.Day())
}

func TestRedisLocker(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, JobPayoutBatch, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.Acquire(ctx, JobPayoutBatch, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	release()
	assert.False(t, mr.Exists(locker.Key(JobPayoutBatch)))

	t.Run("Expired lock is free again", func(t *testing.T) {
		_, ok, err := locker.Acquire(ctx, JobReleaseHeld, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		mr.FastForward(2 * time.Minute)

		_, ok, err = locker.Acquire(ctx, JobReleaseHeld, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Stale release keeps new holder's lock", func(t *testing.T) {
		stale, ok, err := locker.Acquire(ctx, "stale", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		mr.FastForward(2 * time.Minute)

		_, ok, err = locker.Acquire(ctx, "stale", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		stale()
		assert.True(t, mr.Exists(locker.Key("stale")))
	})
}

func TestGuarded_SkipsWhenLocked(t *testing.T) {
	locker, _ := newTestLocker(t)
	releaser := &fakeReleaser{}
	cm := NewCronManager(releaser, &fakeBatcher{}, WithLocker(locker))
	ctx := context.Background()

	run := func(ctx context.Context) error {
		_, err := cm.RunReleaseHeld(ctx)
		return err
	}

	cm.guarded(ctx, JobReleaseHeld, time.Minute, run)
	assert.Equal(t, 1, releaser.calls)

	release, ok, err := locker.Acquire(ctx, JobReleaseHeld, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	cm.guarded(ctx, JobReleaseHeld, time.Minute, run)
	assert.Equal(t, 1, releaser.calls)
}

func TestStartStop(t *testing.T) {
	cm := NewCronManager(&fakeReleaser{}, &fakeBatcher{})
	require.NoError(t, cm.SetupJobs(Schedules{ReleaseHeld: "@every 1h"}))
	cm.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cm.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
