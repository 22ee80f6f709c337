package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Freeeeeet/lesson_booking/internal/app"
	"github.com/Freeeeeet/lesson_booking/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment)
	defer logger.Sync()

	logger.Info("Starting lesson booking engine",
		zap.String("environment", cfg.Environment),
		zap.String("notify_transport", cfg.NotifyTransport))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to start engine", zap.Error(err))
	}

	scheduler := app.NewScheduler(engine.Dispatcher, cfg.Notify.PollInterval, logger)
	scheduler.Start(ctx)

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	scheduler.Stop()

	if err := engine.Close(); err != nil {
		logger.Error("Failed to close engine", zap.Error(err))
	}

	logger.Info("Shutdown finished")
}
