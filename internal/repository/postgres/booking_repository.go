package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

const bookingColumns = `id, instructor_id, student_id, lesson_date, start_slot, duration, status, created_at, updated_at`

// uniqueActiveInterval - частичный уникальный индекс по (instructor, date, interval) среди неотменённых
const uniqueActiveInterval = "bookings_active_interval_key"

type BookingRepository struct {
	db DBTX
}

// Create создаёт новое бронирование
func (r *BookingRepository) Create(ctx context.Context, booking *model.Booking) error {
	query := `
		INSERT INTO bookings (instructor_id, student_id, lesson_date, start_slot, duration, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		booking.InstructorID,
		booking.StudentID,
		booking.Date,
		booking.StartSlot,
		booking.Duration,
		booking.Status,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err, uniqueActiveInterval) {
			return fmt.Errorf("create booking: %w", model.ErrSlotConflict)
		}
		return fmt.Errorf("create booking: %w", err)
	}

	return nil
}

// GetByID получает бронирование по ID
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetForUpdate получает бронирование и блокирует строку до конца транзакции
func (r *BookingRepository) GetForUpdate(ctx context.Context, id int64) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *BookingRepository) getOne(ctx context.Context, query string, id int64) (*model.Booking, error) {
	booking, err := scanBooking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}
	return booking, nil
}

// ListActiveByInstructorDate получает неотменённые бронирования инструктора на дату
func (r *BookingRepository) ListActiveByInstructorDate(ctx context.Context, instructorID int64, date time.Time) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE instructor_id = $1 AND lesson_date = $2 AND status <> 'cancelled'
		ORDER BY start_slot
	`

	rows, err := r.db.Query(ctx, query, instructorID, model.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("list bookings by instructor date: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}

	return bookings, rows.Err()
}

// UpdateStatus обновляет статус бронирования
func (r *BookingRepository) UpdateStatus(ctx context.Context, id int64, status model.BookingStatus) error {
	query := `
		UPDATE bookings
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.db.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("update booking status: %w", model.ErrNotFound)
	}

	return nil
}

// Move переносит бронирование на другую дату и слот, длительность сохраняется
func (r *BookingRepository) Move(ctx context.Context, id int64, date time.Time, startSlot int) error {
	query := `
		UPDATE bookings
		SET lesson_date = $1, start_slot = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.Exec(ctx, query, model.DateOf(date), startSlot, id)
	if err != nil {
		if isUniqueViolation(err, uniqueActiveInterval) {
			return fmt.Errorf("move booking: %w", model.ErrSlotConflict)
		}
		return fmt.Errorf("move booking: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("move booking: %w", model.ErrNotFound)
	}

	return nil
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var booking model.Booking
	err := row.Scan(
		&booking.ID,
		&booking.InstructorID,
		&booking.StudentID,
		&booking.Date,
		&booking.StartSlot,
		&booking.Duration,
		&booking.Status,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	booking.Date = model.DateOf(booking.Date)
	return &booking, nil
}
