package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/lesson_booking/internal/notify"
)

type dispatcher interface {
	RunOnce(ctx context.Context) (notify.DispatchStats, error)
}

// Scheduler управляет фоновыми задачами
type Scheduler struct {
	dispatcher dispatcher
	interval   time.Duration
	logger     *zap.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewScheduler создаёт новый планировщик
func NewScheduler(d dispatcher, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		dispatcher: d,
		interval:   interval,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go s.runNotificationTask(ctx)
}

// Stop останавливает фоновые задачи и ждёт их завершения
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping background scheduler")
		close(s.stopChan)
	})
	s.wg.Wait()
}

// runNotificationTask периодически разбирает очередь уведомлений
func (s *Scheduler) runNotificationTask(ctx context.Context) {
	defer s.wg.Done()

	// Первый запуск сразу при старте
	s.dispatch(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.dispatch(ctx)
		case <-s.stopChan:
			s.logger.Info("Notification task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Notification task cancelled")
			return
		}
	}
}

// dispatch выбирает пачки, пока очередь не опустеет
func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		stats, err := s.dispatcher.RunOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("Failed to dispatch notifications", zap.Error(err))
			}
			return
		}
		if stats.Sent+stats.Retried+stats.Dead == 0 {
			return
		}
		select {
		case <-s.stopChan:
			return
		default:
		}
	}
}
