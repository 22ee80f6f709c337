package model

import (
	"encoding/json"
	"time"
)

type NotificationKind string

const (
	NotificationBookingConfirmed   NotificationKind = "booking_confirmed"
	NotificationBookingCancelled   NotificationKind = "booking_cancelled"
	NotificationBookingRescheduled NotificationKind = "booking_rescheduled"
	NotificationRefundIssued       NotificationKind = "refund_issued"
	NotificationCreditsLow         NotificationKind = "credits_low"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusDead    NotificationStatus = "dead" // исчерпаны попытки доставки
)

// NotificationJob is a row of the durable notification queue.
type NotificationJob struct {
	ID            int64              `json:"id"`
	DedupeKey     string             `json:"dedupe_key"`
	Kind          NotificationKind   `json:"kind"`
	UserID        int64              `json:"user_id"`
	Payload       json.RawMessage    `json:"payload"`
	Status        NotificationStatus `json:"status"`
	Attempts      int                `json:"attempts"`
	LastError     string             `json:"last_error"`
	NextAttemptAt time.Time          `json:"next_attempt_at"`
	CreatedAt     time.Time          `json:"created_at"`
}

// BookingNotice - payload уведомлений о бронировании
type BookingNotice struct {
	BookingID    int64  `json:"booking_id"`
	InstructorID int64  `json:"instructor_id"`
	Date         string `json:"date"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Method       string `json:"method,omitempty"`
}

// RefundNotice - payload уведомления о возврате
type RefundNotice struct {
	BookingID   int64        `json:"booking_id"`
	Method      RefundMethod `json:"method"`
	AmountCents int64        `json:"amount_cents"`
}

// CreditsLowNotice - payload уведомления о низком балансе
type CreditsLowNotice struct {
	DurationClass int `json:"duration_class"`
	Balance       int `json:"balance"`
}
