package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository"
)

const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffCap  = time.Hour
)

type DispatcherConfig struct {
	MaxAttempts int
	BatchSize   int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Dispatcher выбирает готовые задачи из очереди и доставляет их через Sender.
// Доставка at-least-once: задача помечается sent только после успешной отправки.
type Dispatcher struct {
	store  repository.Store
	sender Sender
	cfg    DispatcherConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewDispatcher(store repository.Store, sender Sender, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	return &Dispatcher{
		store:  store,
		sender: sender,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock подменяет часы (для тестов)
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// DispatchStats - итог одного прохода
type DispatchStats struct {
	Sent    int
	Retried int
	Dead    int
}

// RunOnce обрабатывает одну пачку готовых задач. Задачи захвачены
// (FOR UPDATE SKIP LOCKED) до конца транзакции, так что параллельные
// диспетчеры их не видят.
func (d *Dispatcher) RunOnce(ctx context.Context) (DispatchStats, error) {
	var stats DispatchStats

	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		stats = DispatchStats{}

		jobs, err := tx.Notifications().ClaimDue(ctx, d.now(), d.cfg.BatchSize)
		if err != nil {
			return err
		}

		for _, job := range jobs {
			sendErr := d.deliver(ctx, tx, job)
			if sendErr == nil {
				if err := tx.Notifications().MarkSent(ctx, job.ID); err != nil {
					return err
				}
				stats.Sent++
				continue
			}

			attempts := job.Attempts + 1
			if errors.Is(sendErr, ErrUndeliverable) || attempts >= d.cfg.MaxAttempts {
				if err := tx.Notifications().MarkDead(ctx, job.ID, attempts, sendErr.Error()); err != nil {
					return err
				}
				stats.Dead++
				d.logger.Error("Notification moved to dead letter",
					zap.Int64("job_id", job.ID),
					zap.String("kind", string(job.Kind)),
					zap.Int64("user_id", job.UserID),
					zap.Int("attempts", attempts),
					zap.Error(sendErr),
				)
				continue
			}

			next := d.now().Add(d.Backoff(attempts))
			if err := tx.Notifications().MarkRetry(ctx, job.ID, attempts, sendErr.Error(), next); err != nil {
				return err
			}
			stats.Retried++
			d.logger.Warn("Notification delivery failed, will retry",
				zap.Int64("job_id", job.ID),
				zap.String("kind", string(job.Kind)),
				zap.Int("attempts", attempts),
				zap.Time("next_attempt_at", next),
				zap.Error(sendErr),
			)
		}
		return nil
	})
	if err != nil {
		return DispatchStats{}, fmt.Errorf("dispatch notifications: %w", err)
	}

	if stats.Sent+stats.Retried+stats.Dead > 0 {
		d.logger.Info("Notifications dispatched",
			zap.Int("sent", stats.Sent),
			zap.Int("retried", stats.Retried),
			zap.Int("dead", stats.Dead),
		)
	}

	return stats, nil
}

// Backoff - задержка перед попыткой номер attempts+1: base * 2^(attempts-1), не больше cap
func (d *Dispatcher) Backoff(attempts int) time.Duration {
	b := retry.WithCappedDuration(d.cfg.BackoffCap, retry.NewExponential(d.cfg.BackoffBase))

	delay := d.cfg.BackoffBase
	for i := 0; i < attempts; i++ {
		delay, _ = b.Next()
		if delay >= d.cfg.BackoffCap {
			return d.cfg.BackoffCap
		}
	}
	return delay
}

func (d *Dispatcher) deliver(ctx context.Context, tx repository.Tx, job *model.NotificationJob) error {
	text, err := Render(job)
	if err != nil {
		return err
	}

	user, err := tx.Users().GetByID(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("get recipient: %w", err)
	}
	if user == nil {
		return fmt.Errorf("recipient %d: %w", job.UserID, ErrUndeliverable)
	}

	return d.sender.Send(ctx, Message{
		JobID:   job.ID,
		Kind:    job.Kind,
		UserID:  job.UserID,
		ChatID:  user.TelegramChatID,
		Text:    text,
		Payload: job.Payload,
	})
}
