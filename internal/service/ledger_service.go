package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository"
)

// LedgerService ведёт кредиты пользователей, разбитые по классам длительности
type LedgerService struct {
	store        repository.Store
	lowThreshold int
	logger       *zap.Logger
	now          func() time.Time
}

// NewLedgerService создаёт сервис. lowThreshold <= 0 отключает уведомления о низком балансе.
func NewLedgerService(store repository.Store, lowThreshold int, logger *zap.Logger, opts ...Option) *LedgerService {
	o := buildOptions(opts)
	return &LedgerService{
		store:        store,
		lowThreshold: lowThreshold,
		logger:       logger,
		now:          o.now,
	}
}

// GetBalance суммирует неистёкшие кредиты класса и находит ближайшую дату истечения
func (s *LedgerService) GetBalance(ctx context.Context, userID int64, durationClass int) (model.Balance, error) {
	if durationClass <= 0 {
		return model.Balance{}, model.Invalid("duration_class", "must be positive")
	}

	pools, err := s.store.Credits().ListUsable(ctx, userID, durationClass, s.now())
	if err != nil {
		return model.Balance{}, fmt.Errorf("list credit pools: %w", err)
	}

	return sumBalance(pools), nil
}

// HasSufficient - есть хотя бы один кредит
func (s *LedgerService) HasSufficient(ctx context.Context, userID int64, durationClass int) (bool, error) {
	balance, err := s.GetBalance(ctx, userID, durationClass)
	if err != nil {
		return false, err
	}
	return balance.Total > 0, nil
}

// Debit atomically takes one credit of the class and links it to bookingID.
func (s *LedgerService) Debit(ctx context.Context, userID int64, durationClass int, bookingID int64) (*model.CreditUsage, error) {
	var usage *model.CreditUsage
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		usage, err = s.debit(ctx, tx, userID, durationClass, bookingID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// Credit atomically adds amount credits of the class. A nil expiry tops up any
// usable pool; a set expiry goes to that expiry cohort.
func (s *LedgerService) Credit(ctx context.Context, userID int64, durationClass, amount int, expiry *time.Time) (*model.CreditPool, error) {
	var pool *model.CreditPool
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		pool, err = s.credit(ctx, tx, userID, durationClass, amount, expiry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// PurchaseCredits зачисляет купленный пакет кредитов
func (s *LedgerService) PurchaseCredits(ctx context.Context, userID int64, durationClass, amount int, expiry *time.Time) (*model.CreditPool, error) {
	pool, err := s.Credit(ctx, userID, durationClass, amount, expiry)
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.Int64("user_id", userID),
		zap.Int("duration_class", durationClass),
		zap.Int("amount", amount),
		zap.Int64("pool_id", pool.ID),
	}
	if expiry != nil {
		fields = append(fields, zap.String("expires_on", expiry.Format(time.DateOnly)))
	}
	s.logger.Info("Credits purchased", fields...)

	return pool, nil
}

// debit проверяет и списывает кредит в рамках переданной транзакции.
// Пулы блокируются до списания, поэтому проверка и уменьшение неделимы.
func (s *LedgerService) debit(ctx context.Context, tx repository.Tx, userID int64, durationClass int, bookingID int64) (*model.CreditUsage, error) {
	if durationClass <= 0 {
		return nil, model.Invalid("duration_class", "must be positive")
	}

	pools, err := tx.Credits().LockUsable(ctx, userID, durationClass, s.now())
	if err != nil {
		return nil, fmt.Errorf("lock credit pools: %w", err)
	}

	pool := pickDebitPool(pools)
	if pool == nil {
		return nil, fmt.Errorf("user %d, %d min: %w", userID, durationClass, model.ErrInsufficientCredits)
	}

	if err := tx.Credits().AddCredits(ctx, pool.ID, -1); err != nil {
		return nil, fmt.Errorf("debit pool: %w", err)
	}

	usage := &model.CreditUsage{
		BookingID:     bookingID,
		PoolID:        pool.ID,
		UserID:        userID,
		DurationClass: durationClass,
	}
	if err := tx.Credits().CreateUsage(ctx, usage); err != nil {
		return nil, fmt.Errorf("record credit usage: %w", err)
	}

	if err := s.observeBalance(ctx, tx, userID, durationClass); err != nil {
		return nil, err
	}

	return usage, nil
}

func (s *LedgerService) credit(ctx context.Context, tx repository.Tx, userID int64, durationClass, amount int, expiry *time.Time) (*model.CreditPool, error) {
	if durationClass <= 0 {
		return nil, model.Invalid("duration_class", "must be positive")
	}
	if amount <= 0 {
		return nil, model.Invalid("amount", "must be positive")
	}
	today := model.DateOf(s.now())
	if expiry != nil && model.DateOf(*expiry).Before(today) {
		return nil, model.Invalid("expiry", "is in the past")
	}

	pools, err := tx.Credits().LockUsable(ctx, userID, durationClass, today)
	if err != nil {
		return nil, fmt.Errorf("lock credit pools: %w", err)
	}

	var pool *model.CreditPool
	if target := pickCreditPool(pools, expiry); target != nil {
		if err := tx.Credits().AddCredits(ctx, target.ID, amount); err != nil {
			return nil, fmt.Errorf("credit pool: %w", err)
		}
		target.CreditsRemaining += amount
		pool = target
	} else {
		pool = &model.CreditPool{
			UserID:           userID,
			DurationClass:    durationClass,
			CreditsRemaining: amount,
			ExpiresOn:        expiry,
		}
		if err := tx.Credits().CreatePool(ctx, pool); err != nil {
			return nil, fmt.Errorf("create credit pool: %w", err)
		}
	}

	if err := s.observeBalance(ctx, tx, userID, durationClass); err != nil {
		return nil, err
	}

	return pool, nil
}

// restore возвращает кредит в пул, из которого он был списан. Если тот пул
// истёк, кредит уходит в любой действующий пул класса.
func (s *LedgerService) restore(ctx context.Context, tx repository.Tx, usage *model.CreditUsage) error {
	pool, err := tx.Credits().GetPool(ctx, usage.PoolID)
	if err != nil {
		return fmt.Errorf("get credit pool: %w", err)
	}

	if pool != nil && pool.IsUsable(s.now()) {
		if err := tx.Credits().AddCredits(ctx, pool.ID, 1); err != nil {
			return fmt.Errorf("restore credit: %w", err)
		}
		return s.observeBalance(ctx, tx, usage.UserID, usage.DurationClass)
	}

	_, err = s.credit(ctx, tx, usage.UserID, usage.DurationClass, 1, nil)
	return err
}

// observeBalance сравнивает баланс с сохранённым и ставит уведомление при
// пересечении порога вниз. Состояние хранится в БД, а не в памяти процесса.
func (s *LedgerService) observeBalance(ctx context.Context, tx repository.Tx, userID int64, durationClass int) error {
	if s.lowThreshold <= 0 {
		return nil
	}

	pools, err := tx.Credits().ListUsable(ctx, userID, durationClass, s.now())
	if err != nil {
		return fmt.Errorf("list credit pools: %w", err)
	}
	balance := sumBalance(pools).Total

	mark, err := tx.Credits().GetWatermark(ctx, userID, durationClass)
	if err != nil {
		return fmt.Errorf("get balance watermark: %w", err)
	}

	if mark != nil && mark.LastBalance == balance {
		return nil
	}

	if mark != nil && mark.LastBalance > s.lowThreshold && balance <= s.lowThreshold {
		key := fmt.Sprintf("credits_low:%d:%d:%s", userID, durationClass, uuid.NewString())
		job, err := newJob(model.NotificationCreditsLow, userID, key, model.CreditsLowNotice{
			DurationClass: durationClass,
			Balance:       balance,
		})
		if err != nil {
			return err
		}
		if err := tx.Notifications().Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue low balance notification: %w", err)
		}
	}

	err = tx.Credits().SaveWatermark(ctx, &model.BalanceWatermark{
		UserID:        userID,
		DurationClass: durationClass,
		LastBalance:   balance,
	})
	if err != nil {
		return fmt.Errorf("save balance watermark: %w", err)
	}
	return nil
}

func sumBalance(pools []*model.CreditPool) model.Balance {
	var balance model.Balance
	for _, p := range pools {
		if p.CreditsRemaining <= 0 {
			continue
		}
		balance.Total += p.CreditsRemaining
		if p.ExpiresOn != nil && (balance.NextExpiry == nil || p.ExpiresOn.Before(*balance.NextExpiry)) {
			expiry := *p.ExpiresOn
			balance.NextExpiry = &expiry
		}
	}
	return balance
}

// pickDebitPool выбирает пул с положительным остатком, раньше всех истекающий.
// Порядок - деталь реализации, вызывающие на него не опираются.
func pickDebitPool(pools []*model.CreditPool) *model.CreditPool {
	var best *model.CreditPool
	for _, p := range pools {
		if p.CreditsRemaining <= 0 {
			continue
		}
		if best == nil || expiresBefore(p, best) {
			best = p
		}
	}
	return best
}

// pickCreditPool ищет пул для пополнения: ту же когорту при заданном сроке,
// иначе бессрочный или самый поздно истекающий.
func pickCreditPool(pools []*model.CreditPool, expiry *time.Time) *model.CreditPool {
	if expiry != nil {
		day := model.DateOf(*expiry)
		for _, p := range pools {
			if p.ExpiresOn != nil && model.DateOf(*p.ExpiresOn).Equal(day) {
				return p
			}
		}
		return nil
	}

	var best *model.CreditPool
	for _, p := range pools {
		if best == nil || expiresBefore(best, p) {
			best = p
		}
	}
	return best
}

// expiresBefore: a истекает раньше b; бессрочные считаются самыми поздними
func expiresBefore(a, b *model.CreditPool) bool {
	switch {
	case a.ExpiresOn == nil && b.ExpiresOn == nil:
		return a.ID < b.ID
	case a.ExpiresOn == nil:
		return false
	case b.ExpiresOn == nil:
		return true
	case a.ExpiresOn.Equal(*b.ExpiresOn):
		return a.ID < b.ID
	default:
		return a.ExpiresOn.Before(*b.ExpiresOn)
	}
}
