package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Freeeeeet/lesson_booking/internal/repository"
)

// Store реализует repository.Store поверх пула pgx
type Store struct {
	*repos
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{repos: newRepos(pool), pool: pool}
}

// InTx открывает транзакцию READ COMMITTED; сериализация конфликтов держится
// на advisory lock (LockInstructorDay) и блокировках строк пулов.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(newRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// repos binds every repository to one DBTX.
type repos struct {
	db DBTX
}

func newRepos(db DBTX) *repos {
	return &repos{db: db}
}

func (r *repos) Users() repository.UserRepository {
	return &UserRepository{db: r.db}
}

func (r *repos) Bookings() repository.BookingRepository {
	return &BookingRepository{db: r.db}
}

func (r *repos) Availability() repository.AvailabilityRepository {
	return &AvailabilityRepository{db: r.db}
}

func (r *repos) Credits() repository.CreditRepository {
	return &CreditRepository{db: r.db}
}

func (r *repos) Transactions() repository.TransactionRepository {
	return &TransactionRepository{db: r.db}
}

func (r *repos) Refunds() repository.RefundRepository {
	return &RefundRepository{db: r.db}
}

func (r *repos) Notifications() repository.NotificationRepository {
	return &NotificationRepository{db: r.db}
}

// LockInstructorDay берёт transaction-level advisory lock на (instructor, date).
// Вне транзакции блокировка снимается сразу после запроса.
func (r *repos) LockInstructorDay(ctx context.Context, instructorID int64, date time.Time) error {
	key := fmt.Sprintf("booking:%d:%s", instructorID, date.UTC().Format(time.DateOnly))
	if _, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock instructor day: %w", err)
	}
	return nil
}
