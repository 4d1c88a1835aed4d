package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stayledger/internal/database"
	"stayledger/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []models.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "worker.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newWorker(t *testing.T, db *database.DB, n *fakeNotifier, rdb *redis.Client, retry RetryPolicy) *NotificationWorker {
	t.Helper()
	logger := zerolog.Nop()
	return NewNotificationWorker(db, n, rdb, retry, 4, &logger)
}

var confirmed = models.Notification{
	UserID:  200,
	Type:    models.NotifyBookingConfirmed,
	Title:   "Booking confirmed",
	Message: "Your stay 2030-06-01 to 2030-06-03 is confirmed",
}

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	w := newWorker(t, db, notifier, nil, RetryPolicy{})
	ctx := context.Background()

	require.NoError(t, w.Enqueue(ctx, confirmed))

	task, ok := w.tryLocalQueue()
	require.True(t, ok, "expected task in local queue")
	w.processTask(ctx, &task)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, confirmed, notifier.sent[0])

	pending, err := db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "completed task is not pending")
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	w := newWorker(t, db, notifier, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Hour})
	ctx := context.Background()

	require.NoError(t, w.Enqueue(ctx, confirmed))
	task, ok := w.tryLocalQueue()
	require.True(t, ok)
	w.processTask(ctx, &task)

	// scheduled an hour out, so not due yet
	pending, err := db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := db.GetFailedNotificationTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{err: errors.New("chat not found")}
	w := newWorker(t, db, notifier, nil, RetryPolicy{MaxRetries: 1})
	ctx := context.Background()

	require.NoError(t, w.Enqueue(ctx, confirmed))
	task, ok := w.tryLocalQueue()
	require.True(t, ok)
	w.processTask(ctx, &task)

	failed, err := db.GetFailedNotificationTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].LastError)
	assert.Equal(t, "chat not found", *failed[0].LastError)
}

func TestProcessTaskBadPayload(t *testing.T) {
	db := newTestDB(t)
	w := newWorker(t, db, &fakeNotifier{}, nil, RetryPolicy{})
	ctx := context.Background()

	task := models.NotificationTask{UserID: 1, Payload: "{broken"}
	require.NoError(t, db.CreateNotificationTask(ctx, &task))
	w.processTask(ctx, &task)

	failed, err := db.GetFailedNotificationTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestProcessPending(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	w := newWorker(t, db, notifier, nil, RetryPolicy{})
	ctx := context.Background()

	// overflow the in-memory queue; the rest is picked up from the database
	for i := 0; i < 6; i++ {
		require.NoError(t, w.Enqueue(ctx, confirmed))
	}
	for {
		if _, ok := w.tryLocalQueue(); !ok {
			break
		}
	}

	n, err := w.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Len(t, notifier.sent, 6)
}

func TestEnqueueValidation(t *testing.T) {
	db := newTestDB(t)
	w := newWorker(t, db, &fakeNotifier{}, nil, RetryPolicy{})
	ctx := context.Background()

	assert.Error(t, w.Enqueue(ctx, models.Notification{Type: models.NotifyBookingConfirmed}))
	assert.Error(t, w.Enqueue(ctx, models.Notification{UserID: 1}))
}

func TestRedisQueueAndDeadLetter(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	db := newTestDB(t)
	notifier := &fakeNotifier{err: errors.New("blocked by user")}
	w := newWorker(t, db, notifier, rdb, RetryPolicy{MaxRetries: 1})
	ctx := context.Background()

	require.NoError(t, w.Enqueue(ctx, confirmed))
	_, local := w.tryLocalQueue()
	assert.False(t, local, "redis path skips the memory queue")

	task, ok := w.tryRedis(ctx)
	require.True(t, ok)
	w.processTask(ctx, &task)

	items, err := s.List("notifications:deadletter")
	require.NoError(t, err)
	require.Len(t, items, 1)
	var dead models.NotificationTask
	require.NoError(t, json.Unmarshal([]byte(items[0]), &dead))
	assert.Equal(t, task.ID, dead.ID)
}

func TestStartStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	w := newWorker(t, db, notifier, nil, RetryPolicy{})
	w.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.NoError(t, w.Enqueue(context.Background(), confirmed))
	assert.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.sent) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 5*time.Second, policy.NextDelay(5), "capped")
	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(0))
}

func TestRetryPolicySchedule(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Minute, MaxDelay: time.Hour}

	assert.False(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(3))
	assert.False(t, RetryPolicy{}.Exhausted(100), "zero MaxRetries never exhausts")

	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.FixedZone("KST", 9*3600))
	assert.Equal(t, time.Date(2030, 6, 1, 3, 2, 0, 0, time.UTC), policy.NextRetryAt(now, 2))
	assert.Equal(t, time.Hour, policy.NextDelay(500), "overflow clamps to MaxDelay")
}
