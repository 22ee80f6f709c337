package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Freeeeeet/lesson_booking/internal/cache"
	"github.com/Freeeeeet/lesson_booking/internal/config"
	"github.com/Freeeeeet/lesson_booking/internal/gateway"
	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/notify"
	"github.com/Freeeeeet/lesson_booking/internal/repository"
	"github.com/Freeeeeet/lesson_booking/internal/repository/postgres"
	"github.com/Freeeeeet/lesson_booking/internal/service"
	"github.com/Freeeeeet/lesson_booking/internal/slot"
)

// Engine собирает сервисы бронирования и их зависимости. HTTP-слой
// вызывает операции движка через него.
type Engine struct {
	Users      *service.UserService
	Ledger     *service.LedgerService
	Bookings   *service.BookingService
	Refunds    *service.RefundService
	Dispatcher *notify.Dispatcher

	closers []func() error
}

// Services - готовые к работе зависимости движка
type Services struct {
	Store   repository.Store
	Cache   service.AvailabilityCache
	Gateway service.PaymentGateway
	Sender  notify.Sender
}

// NewEngine связывает сервисы поверх переданных зависимостей
func NewEngine(cfg *config.Config, deps Services, logger *zap.Logger, opts ...service.Option) *Engine {
	ledger := service.NewLedgerService(deps.Store, cfg.LowBalanceThreshold, logger.Named("ledger"), opts...)

	pricing := service.Pricing{
		BaseDurationSlots: cfg.Pricing.BaseDurationSlots,
		FallbackRateCents: cfg.Pricing.FallbackRateCents,
	}

	return &Engine{
		Users:    service.NewUserService(deps.Store, logger.Named("users")),
		Ledger:   ledger,
		Bookings: service.NewBookingService(deps.Store, ledger, deps.Gateway, deps.Cache, pricing, logger.Named("booking"), opts...),
		Refunds:  service.NewRefundService(deps.Store, ledger, deps.Gateway, cfg.AutoRefundWindow, logger.Named("refund"), opts...),
		Dispatcher: notify.NewDispatcher(deps.Store, deps.Sender, notify.DispatcherConfig{
			MaxAttempts: cfg.Notify.MaxAttempts,
			BatchSize:   cfg.Notify.BatchSize,
		}, logger.Named("notify")),
	}
}

// Connect поднимает Postgres, применяет миграции, подключает Redis, шлюз и
// транспорт уведомлений согласно конфигу.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	var closers []func() error
	fail := func(err error) (*Engine, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.GetDBDSN())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	closers = append(closers, func() error { pool.Close(); return nil })

	if err := pool.Ping(ctx); err != nil {
		return fail(fmt.Errorf("ping postgres: %w", err))
	}

	migrator, err := NewMigrator(pool, cfg.MigrationsDir, logger)
	if err != nil {
		return fail(err)
	}
	err = migrator.Run(ctx)
	err = multierr.Append(err, migrator.Close())
	if err != nil {
		return fail(err)
	}

	deps := Services{
		Store:   postgres.NewStore(pool),
		Cache:   cache.Nop{},
		Gateway: gateway.Disabled{},
	}
	if cfg.Gateway.URL != "" {
		deps.Gateway = gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)
	} else {
		logger.Warn("GATEWAY_URL is not set, gateway payments are disabled")
	}

	var (
		redisClient *redis.Client
		sender      notify.Sender
	)

	// Redis и транспорт уведомлений независимы, подключаемся параллельно
	g, gctx := errgroup.WithContext(ctx)
	if cfg.RedisAddr != "" {
		g.Go(func() error {
			var err error
			redisClient, err = cache.Dial(gctx, cfg.RedisAddr)
			return err
		})
	}
	g.Go(func() error {
		var err error
		sender, err = newSender(gctx, cfg, logger)
		return err
	})
	waitErr := g.Wait()

	if redisClient != nil {
		closers = append(closers, redisClient.Close)
		deps.Cache = cache.NewRedisAvailability(redisClient, cfg.AvailabilityCacheTTL)
	}
	if c, ok := sender.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}
	if waitErr != nil {
		return fail(waitErr)
	}
	deps.Sender = sender

	engine := NewEngine(cfg, deps, logger)
	engine.closers = closers

	logger.Info("Engine connected",
		zap.Bool("redis_cache", redisClient != nil),
		zap.String("notify_transport", cfg.NotifyTransport),
		zap.Bool("gateway", cfg.Gateway.URL != ""),
	)

	return engine, nil
}

func newSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notify.Sender, error) {
	switch cfg.NotifyTransport {
	case config.TransportTelegram:
		b, err := bot.New(cfg.TelegramToken)
		if err != nil {
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
		return notify.NewTelegramSender(b), nil

	case config.TransportAMQP:
		var sender *notify.AMQPSender
		// Брокер может стартовать позже сервиса
		backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			var err error
			sender, err = notify.NewAMQPSender(cfg.AMQPURL, cfg.AMQPQueue)
			if err != nil {
				logger.Warn("RabbitMQ is not ready", zap.Error(err))
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return sender, nil
	}

	return notify.NewLogSender(logger.Named("notifications")), nil
}

// Close освобождает соединения в обратном порядке
func (e *Engine) Close() error {
	var err error
	for i := len(e.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, e.closers[i]())
	}
	e.closers = nil
	return err
}

// BookLesson бронирует занятие и возвращает id бронирования
func (e *Engine) BookLesson(ctx context.Context, req service.BookingRequest) (int64, error) {
	booking, err := e.Bookings.BookLesson(ctx, req)
	if err != nil {
		return 0, err
	}
	return booking.ID, nil
}

// CancelBooking возвращает nil, если автоматический возврат не положен
func (e *Engine) CancelBooking(ctx context.Context, bookingID, actorID int64) (*service.RefundResult, error) {
	return e.Refunds.CancelBooking(ctx, bookingID, actorID)
}

func (e *Engine) GetInstructorAvailability(ctx context.Context, instructorID int64, date string) ([]slot.Interval, error) {
	return e.Bookings.GetInstructorAvailability(ctx, instructorID, date)
}

func (e *Engine) GetCreditBalance(ctx context.Context, userID int64, durationClass int) (model.Balance, error) {
	return e.Ledger.GetBalance(ctx, userID, durationClass)
}
