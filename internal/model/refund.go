package model

import "time"

type RefundMethod string

const (
	RefundMethodCredit  RefundMethod = "credit"
	RefundMethodGateway RefundMethod = "gateway"
)

type Refund struct {
	ID            int64        `json:"id"`
	BookingID     int64        `json:"booking_id"`
	TransactionID *int64       `json:"transaction_id"`
	Method        RefundMethod `json:"method"`
	AmountCents   int64        `json:"amount_cents"` // для кредитов - количество возвращённых единиц
	GatewayRef    *string      `json:"gateway_ref"`
	IssuedBy      int64        `json:"issued_by"`
	Reason        string       `json:"reason"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Provenance - чем на самом деле оплачено бронирование
type Provenance string

const (
	ProvenanceCredit   Provenance = "credit"
	ProvenanceGateway  Provenance = "gateway"
	ProvenanceInPerson Provenance = "in_person"
	ProvenanceNone     Provenance = "none"
)

// RefundMethod returns the refund method matching the provenance, if any.
func (p Provenance) RefundMethod() (RefundMethod, bool) {
	switch p {
	case ProvenanceCredit:
		return RefundMethodCredit, true
	case ProvenanceGateway:
		return RefundMethodGateway, true
	}
	return "", false
}

// RefundInfo is what the refund engine knows about a booking before refunding it.
type RefundInfo struct {
	Booking       *Booking
	Provenance    Provenance
	DurationClass int
	Transaction   *Transaction // исходная транзакция, если есть
}
