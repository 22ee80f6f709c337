package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository"
	"github.com/Freeeeeet/lesson_booking/internal/slot"
)

// PaymentGateway - внешний платёжный шлюз, charge/refund по карте на файле
type PaymentGateway interface {
	Charge(ctx context.Context, amountCents int64, customerRef, idempotencyKey string) (string, error)
	Refund(ctx context.Context, chargeRef string, amountCents int64) (string, error)
}

// AvailabilityCache caches resolved open intervals per instructor and date.
// Get also returns the version it looked under; Set after a miss must pass
// it back so a write racing an invalidation lands under a dead version.
type AvailabilityCache interface {
	Get(ctx context.Context, instructorID int64, date time.Time) (open []slot.Interval, version string, ok bool, err error)
	Set(ctx context.Context, instructorID int64, date time.Time, version string, open []slot.Interval) error
	InvalidateDate(ctx context.Context, instructorID int64, date time.Time) error
	InvalidateInstructor(ctx context.Context, instructorID int64) error
}

type options struct {
	now func() time.Time
}

// Option настраивает сервисы
type Option func(*options)

// WithClock подменяет источник текущего времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newJob(kind model.NotificationKind, userID int64, dedupeKey string, payload any) (*model.NotificationJob, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &model.NotificationJob{
		DedupeKey: dedupeKey,
		Kind:      kind,
		UserID:    userID,
		Payload:   body,
	}, nil
}

// enqueueAfterCommit ставит уведомление в очередь уже после коммита.
// Ошибка только логируется и не влияет на результат операции.
func enqueueAfterCommit(ctx context.Context, store repository.Store, logger *zap.Logger, kind model.NotificationKind, userID int64, dedupeKey string, payload any) {
	job, err := newJob(kind, userID, dedupeKey, payload)
	if err == nil {
		err = store.Notifications().Enqueue(ctx, job)
	}
	if err != nil {
		logger.Error("Failed to enqueue notification",
			zap.String("kind", string(kind)),
			zap.Int64("user_id", userID),
			zap.String("dedupe_key", dedupeKey),
			zap.Error(err),
		)
	}
}

func bookingNotice(b *model.Booking) model.BookingNotice {
	return model.BookingNotice{
		BookingID:    b.ID,
		InstructorID: b.InstructorID,
		Date:         b.Date.Format(time.DateOnly),
		Start:        slot.Format(b.StartSlot),
		End:          slot.Format(b.EndSlot()),
	}
}
