package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender только пишет уведомление в лог (dev-окружение)
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("Notification",
		zap.Int64("job_id", msg.JobID),
		zap.String("kind", string(msg.Kind)),
		zap.Int64("user_id", msg.UserID),
		zap.String("text", msg.Text),
	)
	return nil
}
