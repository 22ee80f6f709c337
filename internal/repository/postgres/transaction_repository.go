package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

const transactionColumns = `id, user_id, booking_id, amount_cents, method, status, charge_ref, created_at, updated_at`

type TransactionRepository struct {
	db DBTX
}

// Create создаёт финансовую транзакцию
func (r *TransactionRepository) Create(ctx context.Context, t *model.Transaction) error {
	query := `
		INSERT INTO transactions (user_id, booking_id, amount_cents, method, status, charge_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query, t.UserID, t.BookingID, t.AmountCents, t.Method, t.Status, t.ChargeRef).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	return nil
}

// GetByID получает транзакцию по ID
func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return t, nil
}

// ListByBooking получает транзакции бронирования, старые первыми
func (r *TransactionRepository) ListByBooking(ctx context.Context, bookingID int64) ([]*model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE booking_id = $1 ORDER BY id`

	rows, err := r.db.Query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list transactions by booking: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	return transactions, rows.Err()
}

// UpdateStatus переводит транзакцию из статуса from в to
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id int64, from, to model.TransactionStatus) error {
	query := `
		UPDATE transactions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("transaction %d in status %s: %w", id, from, model.ErrNotFound)
	}

	return nil
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.BookingID,
		&t.AmountCents,
		&t.Method,
		&t.Status,
		&t.ChargeRef,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
