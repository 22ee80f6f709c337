package model

import "time"

type User struct {
	ID                 int64     `json:"id"`
	TelegramChatID     *int64    `json:"telegram_chat_id"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	IsInstructor       bool      `json:"is_instructor"`
	LessonRateCents    *int64    `json:"lesson_rate_cents"`    // цена базового занятия, nil - fallback из конфига
	GatewayCustomerRef *string   `json:"gateway_customer_ref"` // карта на файле у платёжного шлюза
	CreatedAt          time.Time `json:"created_at"`
}
