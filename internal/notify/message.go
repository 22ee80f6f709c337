// Package notify доставляет уведомления из очереди notification_jobs.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

// ErrUndeliverable - повторная попытка не поможет (нет получателя, битый payload)
var ErrUndeliverable = errors.New("notification is undeliverable")

// Message - готовое к отправке уведомление
type Message struct {
	JobID   int64
	Kind    model.NotificationKind
	UserID  int64
	ChatID  *int64
	Text    string
	Payload json.RawMessage
}

// Sender доставляет одно сообщение. Ошибка, обёрнутая в ErrUndeliverable,
// отправляет задачу сразу в dead.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Render собирает текст уведомления из payload задачи
func Render(job *model.NotificationJob) (string, error) {
	switch job.Kind {
	case model.NotificationBookingConfirmed, model.NotificationBookingCancelled, model.NotificationBookingRescheduled:
		var n model.BookingNotice
		if err := json.Unmarshal(job.Payload, &n); err != nil {
			return "", fmt.Errorf("decode %s payload: %w: %v", job.Kind, ErrUndeliverable, err)
		}
		return renderBooking(job.Kind, n), nil

	case model.NotificationRefundIssued:
		var n model.RefundNotice
		if err := json.Unmarshal(job.Payload, &n); err != nil {
			return "", fmt.Errorf("decode %s payload: %w: %v", job.Kind, ErrUndeliverable, err)
		}
		if n.Method == model.RefundMethodCredit {
			return fmt.Sprintf("💸 Кредит за занятие #%d возвращён на баланс", n.BookingID), nil
		}
		return fmt.Sprintf("💸 Возврат по занятию #%d: %s", n.BookingID, formatCents(n.AmountCents)), nil

	case model.NotificationCreditsLow:
		var n model.CreditsLowNotice
		if err := json.Unmarshal(job.Payload, &n); err != nil {
			return "", fmt.Errorf("decode %s payload: %w: %v", job.Kind, ErrUndeliverable, err)
		}
		return fmt.Sprintf("⚠️ Осталось кредитов на занятия по %d минут: %d", n.DurationClass, n.Balance), nil
	}

	return "", fmt.Errorf("unknown notification kind %q: %w", job.Kind, ErrUndeliverable)
}

func renderBooking(kind model.NotificationKind, n model.BookingNotice) string {
	var b strings.Builder
	switch kind {
	case model.NotificationBookingConfirmed:
		b.WriteString("✅ Запись подтверждена")
	case model.NotificationBookingCancelled:
		b.WriteString("❌ Запись отменена")
	case model.NotificationBookingRescheduled:
		b.WriteString("🔁 Запись перенесена")
	}
	fmt.Fprintf(&b, "\n📅 %s, %s–%s (UTC)", n.Date, n.Start, n.End)
	if n.Method != "" {
		fmt.Fprintf(&b, "\n💳 Оплата: %s", methodTitle(n.Method))
	}
	return b.String()
}

func methodTitle(method string) string {
	switch model.PaymentMethod(method) {
	case model.PaymentMethodCredits:
		return "кредиты"
	case model.PaymentMethodInPerson:
		return "на месте"
	case model.PaymentMethodGateway:
		return "картой"
	}
	return method
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
