package postgres

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

type RefundRepository struct {
	db DBTX
}

// Create записывает возврат; второй возврат по бронированию упирается в уникальный индекс
func (r *RefundRepository) Create(ctx context.Context, refund *model.Refund) error {
	query := `
		INSERT INTO refunds (booking_id, transaction_id, method, amount_cents, gateway_ref, issued_by, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		ctx, query,
		refund.BookingID,
		refund.TransactionID,
		refund.Method,
		refund.AmountCents,
		refund.GatewayRef,
		refund.IssuedBy,
		refund.Reason,
	).Scan(&refund.ID, &refund.CreatedAt)

	if err != nil {
		if isUniqueViolation(err, "refunds_booking_id_key") {
			return fmt.Errorf("create refund: %w", model.ErrAlreadyRefunded)
		}
		return fmt.Errorf("create refund: %w", err)
	}

	return nil
}

// GetByBooking получает возврат по бронированию
func (r *RefundRepository) GetByBooking(ctx context.Context, bookingID int64) (*model.Refund, error) {
	query := `
		SELECT id, booking_id, transaction_id, method, amount_cents, gateway_ref, issued_by, reason, created_at
		FROM refunds
		WHERE booking_id = $1
	`

	var refund model.Refund
	err := r.db.QueryRow(ctx, query, bookingID).Scan(
		&refund.ID,
		&refund.BookingID,
		&refund.TransactionID,
		&refund.Method,
		&refund.AmountCents,
		&refund.GatewayRef,
		&refund.IssuedBy,
		&refund.Reason,
		&refund.CreatedAt,
	)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get refund by booking: %w", err)
	}

	return &refund, nil
}
