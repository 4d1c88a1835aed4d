package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"stayledger/internal/config"
	"stayledger/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct{ calls atomic.Int32 }

func (f *fakeCompleter) CompleteFinishedStays(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return 2, nil
}

type fakeExpirer struct{ calls atomic.Int32 }

func (f *fakeExpirer) ExpireAbandonedCheckouts(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return 1, nil
}

type fakeReconciler struct{ err error }

func (f *fakeReconciler) Run(ctx context.Context) (*service.ReconcileReport, error) {
	return &service.ReconcileReport{}, f.err
}

type fakeBackup struct{ calls atomic.Int32 }

func (f *fakeBackup) Run(ctx context.Context) { f.calls.Add(1) }

func testConfig() *config.Config {
	return &config.Config{
		Jobs: config.JobsConfig{
			CompleteStaysSpec:     "@every 1h",
			ReconcileSpec:         "*/5 * * * *",
			NotificationRetrySpec: "@every 1m",
			ExpireCheckoutsSpec:   "@every 5m",
		},
		Backup: config.BackupConfig{Enabled: false, Schedule: "0 3 * * *"},
	}
}

func TestRegister(t *testing.T) {
	logger := zerolog.Nop()
	s := NewScheduler(&logger)
	completer := &fakeCompleter{}
	expirer := &fakeExpirer{}
	backup := &fakeBackup{}

	err := Register(s, testConfig(), Deps{
		Bookings:   completer,
		Checkouts:  expirer,
		Reconciler: &fakeReconciler{err: errors.New("db locked")},
		Backup:     backup,
	}, &logger)
	require.NoError(t, err)

	// backups are disabled and no notification worker was given
	assert.Equal(t, []string{JobCompleteStays, JobExpireCheckouts, JobReconcile}, s.Names())

	require.NoError(t, s.RunNow(context.Background(), JobCompleteStays))
	assert.Equal(t, int32(1), completer.calls.Load())
	require.NoError(t, s.RunNow(context.Background(), JobExpireCheckouts))
	assert.Equal(t, int32(1), expirer.calls.Load())
	assert.EqualError(t, s.RunNow(context.Background(), JobReconcile), "db locked")
	assert.Error(t, s.RunNow(context.Background(), JobBackup))
}

func TestAddRejectsBadSpecAndDuplicates(t *testing.T) {
	logger := zerolog.Nop()
	s := NewScheduler(&logger)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add("bad", "every tuesday", noop))
	require.NoError(t, s.Add("manual", "", noop))
	assert.Error(t, s.Add("manual", "@every 1h", noop))
}

func TestSchedulerRunsJobs(t *testing.T) {
	logger := zerolog.Nop()
	s := NewScheduler(&logger)
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestStopCancelsRunningJob(t *testing.T) {
	logger := zerolog.Nop()
	s := NewScheduler(&logger)
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	require.NoError(t, s.Add("slow", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	s.Stop()
	assert.True(t, cancelled.Load())
}
