package model

import "time"

type CreditPool struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	DurationClass    int        `json:"duration_class"` // в минутах: 30, 60
	CreditsRemaining int        `json:"credits_remaining"`
	ExpiresOn        *time.Time `json:"expires_on"` // nil - бессрочно
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsUsable проверяет что пул не истёк на момент now
func (p *CreditPool) IsUsable(now time.Time) bool {
	if p.ExpiresOn == nil {
		return true
	}
	return !p.ExpiresOn.Before(DateOf(now))
}

// CreditUsage links a booking to the pool it was paid from.
type CreditUsage struct {
	ID            int64     `json:"id"`
	BookingID     int64     `json:"booking_id"`
	PoolID        int64     `json:"pool_id"`
	UserID        int64     `json:"user_id"`
	DurationClass int       `json:"duration_class"`
	CreatedAt     time.Time `json:"created_at"`
}

// Balance - сумма неистёкших кредитов одного класса длительности
type Balance struct {
	Total      int        `json:"total"`
	NextExpiry *time.Time `json:"next_expiry"`
}

// BalanceWatermark хранит последний увиденный баланс для уведомлений о пороге
type BalanceWatermark struct {
	UserID        int64     `json:"user_id"`
	DurationClass int       `json:"duration_class"`
	LastBalance   int       `json:"last_balance"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DateOf обрезает время до полуночи UTC
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
