// Package repository declares the persistence contracts of the booking engine.
//
// Every implementation exposes the same repositories twice: directly on the
// Store (each call is its own statement) and inside InTx, where all calls made
// through the Tx commit or roll back together.
package repository

import (
	"context"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

// Store - точка входа в хранилище
type Store interface {
	Tx

	// InTx выполняет fn в одной атомарной единице. Ошибка fn или отмена ctx
	// откатывает все изменения.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx groups the repositories bound to one atomic unit.
type Tx interface {
	Users() UserRepository
	Bookings() BookingRepository
	Availability() AvailabilityRepository
	Credits() CreditRepository
	Transactions() TransactionRepository
	Refunds() RefundRepository
	Notifications() NotificationRepository

	// LockInstructorDay сериализует проверку конфликтов и вставку для пары
	// (instructor, date) до конца транзакции.
	LockInstructorDay(ctx context.Context, instructorID int64, date time.Time) error
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
}

type BookingRepository interface {
	// Create fails with model.ErrSlotConflict when an active booking with the
	// same instructor, date and interval exists.
	Create(ctx context.Context, booking *model.Booking) error
	GetByID(ctx context.Context, id int64) (*model.Booking, error)
	// GetForUpdate locks the row until the end of the transaction.
	GetForUpdate(ctx context.Context, id int64) (*model.Booking, error)
	ListActiveByInstructorDate(ctx context.Context, instructorID int64, date time.Time) ([]*model.Booking, error)
	UpdateStatus(ctx context.Context, id int64, status model.BookingStatus) error
	Move(ctx context.Context, id int64, date time.Time, startSlot int) error
}

type AvailabilityRepository interface {
	CreateWeekly(ctx context.Context, entry *model.WeeklyAvailability) error
	ListWeekly(ctx context.Context, instructorID int64, weekday int) ([]*model.WeeklyAvailability, error)
	CreateBlocked(ctx context.Context, block *model.BlockedInterval) error
	// ListBlocked returns blocks intersecting [from, to).
	ListBlocked(ctx context.Context, instructorID int64, from, to time.Time) ([]*model.BlockedInterval, error)
}

type CreditRepository interface {
	// ListUsable returns pools not expired on today, ordered by id.
	ListUsable(ctx context.Context, userID int64, durationClass int, today time.Time) ([]*model.CreditPool, error)
	// LockUsable is ListUsable that also locks the returned rows.
	LockUsable(ctx context.Context, userID int64, durationClass int, today time.Time) ([]*model.CreditPool, error)
	GetPool(ctx context.Context, id int64) (*model.CreditPool, error)
	// AddCredits changes the balance by delta; a result below zero fails
	// with model.ErrInsufficientCredits and changes nothing.
	AddCredits(ctx context.Context, poolID int64, delta int) error
	// CreatePool inserts a pool or, if the (user, class, expiry) cohort
	// already exists, adds to it. pool is filled with the resulting row.
	CreatePool(ctx context.Context, pool *model.CreditPool) error

	CreateUsage(ctx context.Context, usage *model.CreditUsage) error
	GetUsageByBooking(ctx context.Context, bookingID int64) (*model.CreditUsage, error)

	GetWatermark(ctx context.Context, userID int64, durationClass int) (*model.BalanceWatermark, error)
	SaveWatermark(ctx context.Context, mark *model.BalanceWatermark) error
}

type TransactionRepository interface {
	Create(ctx context.Context, t *model.Transaction) error
	GetByID(ctx context.Context, id int64) (*model.Transaction, error)
	ListByBooking(ctx context.Context, bookingID int64) ([]*model.Transaction, error)
	// UpdateStatus переводит статус только из from, иначе model.ErrNotFound
	UpdateStatus(ctx context.Context, id int64, from, to model.TransactionStatus) error
}

type RefundRepository interface {
	// Create fails with model.ErrAlreadyRefunded if the booking already has a refund.
	Create(ctx context.Context, refund *model.Refund) error
	GetByBooking(ctx context.Context, bookingID int64) (*model.Refund, error)
}

type NotificationRepository interface {
	// Enqueue is a no-op when a job with the same dedupe key exists.
	Enqueue(ctx context.Context, job *model.NotificationJob) error
	// ClaimDue locks up to limit pending jobs due at now, skipping rows
	// locked by other dispatchers.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.NotificationJob, error)
	MarkSent(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, attempts int, lastErr string, next time.Time) error
	MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error
	GetByDedupeKey(ctx context.Context, key string) (*model.NotificationJob, error)
}
