package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

const poolColumns = `id, user_id, duration_class, credits_remaining, expires_on, created_at, updated_at`

// CreditRepository хранит кредитные пулы, списания и отметки баланса
type CreditRepository struct {
	db DBTX
}

// ListUsable получает неистёкшие пулы пользователя одного класса длительности
func (r *CreditRepository) ListUsable(ctx context.Context, userID int64, durationClass int, today time.Time) ([]*model.CreditPool, error) {
	query := `
		SELECT ` + poolColumns + `
		FROM credit_pools
		WHERE user_id = $1 AND duration_class = $2 AND (expires_on IS NULL OR expires_on >= $3)
		ORDER BY id
	`
	return r.listPools(ctx, query, userID, durationClass, model.DateOf(today))
}

// LockUsable как ListUsable, но блокирует строки: параллельные списания
// одного пользователя и класса выстраиваются в очередь
func (r *CreditRepository) LockUsable(ctx context.Context, userID int64, durationClass int, today time.Time) ([]*model.CreditPool, error) {
	query := `
		SELECT ` + poolColumns + `
		FROM credit_pools
		WHERE user_id = $1 AND duration_class = $2 AND (expires_on IS NULL OR expires_on >= $3)
		ORDER BY id
		FOR UPDATE
	`
	return r.listPools(ctx, query, userID, durationClass, model.DateOf(today))
}

func (r *CreditRepository) listPools(ctx context.Context, query string, args ...any) ([]*model.CreditPool, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credit pools: %w", err)
	}
	defer rows.Close()

	var pools []*model.CreditPool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit pool: %w", err)
		}
		pools = append(pools, pool)
	}

	return pools, rows.Err()
}

// GetPool получает пул по ID
func (r *CreditRepository) GetPool(ctx context.Context, id int64) (*model.CreditPool, error) {
	query := `SELECT ` + poolColumns + ` FROM credit_pools WHERE id = $1`

	pool, err := scanPool(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credit pool: %w", err)
	}
	return pool, nil
}

// AddCredits меняет остаток пула на delta, не допуская отрицательного баланса
func (r *CreditRepository) AddCredits(ctx context.Context, poolID int64, delta int) error {
	query := `
		UPDATE credit_pools
		SET credits_remaining = credits_remaining + $1, updated_at = NOW()
		WHERE id = $2 AND credits_remaining + $1 >= 0
	`

	result, err := r.db.Exec(ctx, query, delta, poolID)
	if err != nil {
		if isCheckViolation(err, "credit_pools_credits_remaining_check") {
			return fmt.Errorf("add credits: %w", model.ErrInsufficientCredits)
		}
		return fmt.Errorf("add credits: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("add credits to pool %d: %w", poolID, model.ErrInsufficientCredits)
	}

	return nil
}

// CreatePool создаёт пул или пополняет существующую когорту (user, class, expiry)
func (r *CreditRepository) CreatePool(ctx context.Context, pool *model.CreditPool) error {
	query := `
		INSERT INTO credit_pools (user_id, duration_class, credits_remaining, expires_on)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, duration_class, (COALESCE(expires_on, 'infinity'::date)))
		DO UPDATE SET credits_remaining = credit_pools.credits_remaining + EXCLUDED.credits_remaining,
		              updated_at = NOW()
		RETURNING ` + poolColumns

	var expires any
	if pool.ExpiresOn != nil {
		expires = model.DateOf(*pool.ExpiresOn)
	}

	created, err := scanPool(r.db.QueryRow(ctx, query, pool.UserID, pool.DurationClass, pool.CreditsRemaining, expires))
	if err != nil {
		return fmt.Errorf("create credit pool: %w", err)
	}

	*pool = *created
	return nil
}

// CreateUsage записывает списание кредита за бронирование
func (r *CreditRepository) CreateUsage(ctx context.Context, usage *model.CreditUsage) error {
	query := `
		INSERT INTO credit_usages (booking_id, pool_id, user_id, duration_class)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query, usage.BookingID, usage.PoolID, usage.UserID, usage.DurationClass).
		Scan(&usage.ID, &usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("create credit usage: %w", err)
	}

	return nil
}

// GetUsageByBooking получает списание по бронированию
func (r *CreditRepository) GetUsageByBooking(ctx context.Context, bookingID int64) (*model.CreditUsage, error) {
	query := `
		SELECT id, booking_id, pool_id, user_id, duration_class, created_at
		FROM credit_usages
		WHERE booking_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	var usage model.CreditUsage
	err := r.db.QueryRow(ctx, query, bookingID).Scan(
		&usage.ID,
		&usage.BookingID,
		&usage.PoolID,
		&usage.UserID,
		&usage.DurationClass,
		&usage.CreatedAt,
	)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credit usage: %w", err)
	}

	return &usage, nil
}

// GetWatermark получает последний увиденный баланс
func (r *CreditRepository) GetWatermark(ctx context.Context, userID int64, durationClass int) (*model.BalanceWatermark, error) {
	query := `
		SELECT user_id, duration_class, last_balance, updated_at
		FROM credit_balance_notifications
		WHERE user_id = $1 AND duration_class = $2
		FOR UPDATE
	`

	var mark model.BalanceWatermark
	err := r.db.QueryRow(ctx, query, userID, durationClass).Scan(
		&mark.UserID,
		&mark.DurationClass,
		&mark.LastBalance,
		&mark.UpdatedAt,
	)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get balance watermark: %w", err)
	}

	return &mark, nil
}

// SaveWatermark сохраняет последний увиденный баланс
func (r *CreditRepository) SaveWatermark(ctx context.Context, mark *model.BalanceWatermark) error {
	query := `
		INSERT INTO credit_balance_notifications (user_id, duration_class, last_balance, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, duration_class)
		DO UPDATE SET last_balance = EXCLUDED.last_balance, updated_at = EXCLUDED.updated_at
		RETURNING updated_at
	`

	if err := r.db.QueryRow(ctx, query, mark.UserID, mark.DurationClass, mark.LastBalance).Scan(&mark.UpdatedAt); err != nil {
		return fmt.Errorf("save balance watermark: %w", err)
	}
	return nil
}

func scanPool(row pgx.Row) (*model.CreditPool, error) {
	var pool model.CreditPool
	err := row.Scan(
		&pool.ID,
		&pool.UserID,
		&pool.DurationClass,
		&pool.CreditsRemaining,
		&pool.ExpiresOn,
		&pool.CreatedAt,
		&pool.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pool, nil
}
