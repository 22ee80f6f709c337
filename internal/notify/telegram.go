package notify

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramSender пишет пользователю в его чат с ботом
type TelegramSender struct {
	bot messageSender
}

func NewTelegramSender(b *bot.Bot) *TelegramSender {
	return &TelegramSender{bot: b}
}

func (s *TelegramSender) Send(ctx context.Context, msg Message) error {
	if msg.ChatID == nil {
		return fmt.Errorf("user %d has no telegram chat: %w", msg.UserID, ErrUndeliverable)
	}

	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: *msg.ChatID,
		Text:   msg.Text,
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
