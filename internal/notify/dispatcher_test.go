package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository/memory"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
	errs []error // по одной на вызов, дальше nil
}

func (s *fakeSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.sent = append(s.sent, msg)
	return nil
}

type dispatcherEnv struct {
	ctx    context.Context
	store  *memory.Store
	sender *fakeSender
	d      *Dispatcher
	now    time.Time
	user   *model.User
}

func newDispatcherEnv(t *testing.T, cfg DispatcherConfig) *dispatcherEnv {
	t.Helper()

	env := &dispatcherEnv{
		ctx:    context.Background(),
		store:  memory.NewStore(),
		sender: &fakeSender{},
		now:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }
	env.store.SetClock(clock)
	env.d = NewDispatcher(env.store, env.sender, cfg, zaptest.NewLogger(t)).WithClock(clock)

	chatID := int64(777)
	env.user = &model.User{FirstName: "Ivan", TelegramChatID: &chatID}
	require.NoError(t, env.store.Users().Create(env.ctx, env.user))
	return env
}

func (e *dispatcherEnv) enqueue(t *testing.T, kind model.NotificationKind, userID int64, payload any) *model.NotificationJob {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	job := &model.NotificationJob{
		DedupeKey: fmt.Sprintf("%s:%d:%d", kind, userID, e.now.UnixNano()),
		Kind:      kind,
		UserID:    userID,
		Payload:   raw,
	}
	require.NoError(t, e.store.Notifications().Enqueue(e.ctx, job))
	return job
}

func (e *dispatcherEnv) job(t *testing.T, key string) *model.NotificationJob {
	t.Helper()
	job, err := e.store.Notifications().GetByDedupeKey(e.ctx, key)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

var confirmed = model.BookingNotice{BookingID: 1, InstructorID: 2, Date: "2026-03-02", Start: "09:00", End: "09:30", Method: "credits"}

func TestDispatcherSends(t *testing.T) {
	env := newDispatcherEnv(t, DispatcherConfig{})
	job := env.enqueue(t, model.NotificationBookingConfirmed, env.user.ID, confirmed)

	stats, err := env.d.RunOnce(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchStats{Sent: 1}, stats)

	require.Len(t, env.sender.sent, 1)
	msg := env.sender.sent[0]
	assert.Equal(t, job.ID, msg.JobID)
	require.NotNil(t, msg.ChatID)
	assert.Equal(t, int64(777), *msg.ChatID)
	assert.Contains(t, msg.Text, "09:00–09:30")

	assert.Equal(t, model.NotificationStatusSent, env.job(t, job.DedupeKey).Status)

	stats, err = env.d.RunOnce(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchStats{}, stats, "sent jobs are not picked again")
}

func TestDispatcherRetriesWithBackoff(t *testing.T) {
	env := newDispatcherEnv(t, DispatcherConfig{})
	env.sender.errs = []error{errors.New("telegram is down")}
	job := env.enqueue(t, model.NotificationBookingCancelled, env.user.ID, confirmed)

	stats, err := env.d.RunOnce(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchStats{Retried: 1}, stats)

	got := env.job(t, job.DedupeKey)
	assert.Equal(t, model.NotificationStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "telegram is down", got.LastError)
	assert.Equal(t, env.now.Add(30*time.Second), got.NextAttemptAt)

	stats, err = env.d.RunOnce(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchStats{}, stats, "not due yet")

	env.now = env.now.Add(30 * time.Second)
	stats, err = env.d.RunOnce(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchStats{Sent: 1}, stats)
	assert.Equal(t, model.NotificationStatusSent, env.job(t, job.DedupeKey).Status)
}

func TestDispatcherDeadLetterAfterMaxAttempts(t *testing.T) {
	env := newDispatcherEnv(t, DispatcherConfig{MaxAttempts: 3})
	boom := errors.New("boom")
	env.sender.errs = []error{boom, boom, boom, boom}
	job := env.enqueue(t, model.NotificationCreditsLow, env.user.ID, model.CreditsLowNotice{DurationClass: 30, Balance: 1})

	for i := 0; i < 2; i++ {
		stats, err := env.d.RunOnce(env.ctx)
		require.NoError(t, err)
		require.Equal(t, 1, stats.Retried)
		env.now = env.now.Add(time.Hour)
	}

	stats, err := env.d.RunOnce(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchStats{Dead: 1}, stats)

	got := env.job(t, job.DedupeKey)
	assert.Equal(t, model.NotificationStatusDead, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Empty(t, env.sender.sent)
}

func TestDispatcherUndeliverableGoesStraightToDead(t *testing.T) {
	env := newDispatcherEnv(t, DispatcherConfig{})

	unknownUser := env.enqueue(t, model.NotificationBookingConfirmed, 9999, confirmed)
	env.now = env.now.Add(time.Nanosecond)
	badKind := env.enqueue(t, model.NotificationKind("birthday"), env.user.ID, struct{}{})
	env.now = env.now.Add(time.Nanosecond)
	env.sender.errs = []error{fmt.Errorf("no chat: %w", ErrUndeliverable)}
	noChat := env.enqueue(t, model.NotificationRefundIssued, env.user.ID, model.RefundNotice{BookingID: 1, Method: model.RefundMethodCredit, AmountCents: 1})

	stats, err := env.d.RunOnce(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchStats{Dead: 3}, stats)

	for _, key := range []string{unknownUser.DedupeKey, badKind.DedupeKey, noChat.DedupeKey} {
		got := env.job(t, key)
		assert.Equal(t, model.NotificationStatusDead, got.Status, key)
		assert.Equal(t, 1, got.Attempts, key)
	}
}

func TestDispatcherBatchSize(t *testing.T) {
	env := newDispatcherEnv(t, DispatcherConfig{BatchSize: 2})
	for i := 0; i < 5; i++ {
		env.enqueue(t, model.NotificationBookingConfirmed, env.user.ID, confirmed)
		env.now = env.now.Add(time.Nanosecond)
	}

	stats, err := env.d.RunOnce(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sent)

	for i := 0; i < 2; i++ {
		_, err = env.d.RunOnce(env.ctx)
		require.NoError(t, err)
	}
	assert.Len(t, env.sender.sent, 5)
}

func TestDispatcherStoreFailure(t *testing.T) {
	env := newDispatcherEnv(t, DispatcherConfig{})
	env.enqueue(t, model.NotificationBookingConfirmed, env.user.ID, confirmed)
	env.store.FailOn("notifications.MarkSent", errors.New("connection lost"))

	_, err := env.d.RunOnce(env.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")

	env.store.ClearFaults()
	stats, err := env.d.RunOnce(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent, "job is delivered again after rollback")
	assert.Len(t, env.sender.sent, 2)
}

func TestBackoff(t *testing.T) {
	d := NewDispatcher(nil, nil, DispatcherConfig{}, zaptest.NewLogger(t))

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{7, 32 * time.Minute},
		{8, time.Hour},
		{40, time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d.Backoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}
