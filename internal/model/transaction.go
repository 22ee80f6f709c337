package model

import "time"

type PaymentMethod string

const (
	PaymentMethodCredits  PaymentMethod = "credits"
	PaymentMethodInPerson PaymentMethod = "in_person"
	PaymentMethodGateway  PaymentMethod = "gateway"
)

// Valid checks the method against the known set
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCredits, PaymentMethodInPerson, PaymentMethodGateway:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusCompleted   TransactionStatus = "completed"
	TransactionStatusOutstanding TransactionStatus = "outstanding" // оплата на месте ещё не получена
	TransactionStatusPending     TransactionStatus = "pending"
	TransactionStatusFailed      TransactionStatus = "failed"
)

type Transaction struct {
	ID          int64             `json:"id"`
	UserID      int64             `json:"user_id"`
	BookingID   *int64            `json:"booking_id"`
	AmountCents int64             `json:"amount_cents"`
	Method      PaymentMethod     `json:"method"`
	Status      TransactionStatus `json:"status"`
	ChargeRef   *string           `json:"charge_ref"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
