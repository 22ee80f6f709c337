package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

func TestConcurrentDebitsAgainstBalanceOfOne(t *testing.T) {
	f := newFixture(t)
	f.grant(t, f.student.ID, 1)

	const n = 20
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(bookingID int64) {
			defer wg.Done()
			_, err := f.ledger.Debit(f.ctx, f.student.ID, class30, bookingID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, model.ErrInsufficientCredits):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(1000 + i))
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, insufficient)

	pools, err := f.store.Credits().ListUsable(f.ctx, f.student.ID, class30, testNow)
	require.NoError(t, err)
	for _, p := range pools {
		assert.GreaterOrEqual(t, p.CreditsRemaining, 0)
	}
	assert.Equal(t, 0, f.balance(t, f.student.ID))
}

func TestGetBalanceSkipsExpiredPools(t *testing.T) {
	f := newFixture(t)

	yesterday := testNow.AddDate(0, 0, -1)
	inTenDays := testNow.AddDate(0, 0, 10)
	for _, p := range []*model.CreditPool{
		{UserID: f.student.ID, DurationClass: class30, CreditsRemaining: 5, ExpiresOn: &yesterday},
		{UserID: f.student.ID, DurationClass: class30, CreditsRemaining: 2, ExpiresOn: &inTenDays},
		{UserID: f.student.ID, DurationClass: class30, CreditsRemaining: 1},
		{UserID: f.student.ID, DurationClass: 60, CreditsRemaining: 4},
	} {
		require.NoError(t, f.store.Credits().CreatePool(f.ctx, p))
	}

	balance, err := f.ledger.GetBalance(f.ctx, f.student.ID, class30)
	require.NoError(t, err)
	assert.Equal(t, 3, balance.Total)
	require.NotNil(t, balance.NextExpiry)
	assert.True(t, model.DateOf(inTenDays).Equal(*balance.NextExpiry))

	ok, err := f.ledger.HasSufficient(f.ctx, f.student.ID, 60)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.ledger.HasSufficient(f.ctx, f.student.ID, 90)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPoolExpiringTodayIsStillUsable(t *testing.T) {
	f := newFixture(t)

	today := model.DateOf(testNow)
	_, err := f.ledger.Credit(f.ctx, f.student.ID, class30, 1, &today)
	require.NoError(t, err)

	_, err = f.ledger.Debit(f.ctx, f.student.ID, class30, 1)
	assert.NoError(t, err)
}

func TestDebitTakesEarliestExpiringPool(t *testing.T) {
	f := newFixture(t)

	soon := testNow.AddDate(0, 0, 3)
	later := testNow.AddDate(0, 1, 0)
	_, err := f.ledger.Credit(f.ctx, f.student.ID, class30, 1, nil)
	require.NoError(t, err)
	latePool, err := f.ledger.Credit(f.ctx, f.student.ID, class30, 1, &later)
	require.NoError(t, err)
	soonPool, err := f.ledger.Credit(f.ctx, f.student.ID, class30, 1, &soon)
	require.NoError(t, err)

	first, err := f.ledger.Debit(f.ctx, f.student.ID, class30, 1)
	require.NoError(t, err)
	second, err := f.ledger.Debit(f.ctx, f.student.ID, class30, 2)
	require.NoError(t, err)

	assert.Equal(t, soonPool.ID, first.PoolID)
	assert.Equal(t, latePool.ID, second.PoolID)
	assert.Equal(t, 1, f.balance(t, f.student.ID))
}

func TestCreditTopsUpExistingPool(t *testing.T) {
	f := newFixture(t)

	first, err := f.ledger.Credit(f.ctx, f.student.ID, class30, 2, nil)
	require.NoError(t, err)
	second, err := f.ledger.Credit(f.ctx, f.student.ID, class30, 3, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.CreditsRemaining)

	cohort := testNow.AddDate(0, 2, 0)
	a, err := f.ledger.Credit(f.ctx, f.student.ID, class30, 1, &cohort)
	require.NoError(t, err)
	b, err := f.ledger.Credit(f.ctx, f.student.ID, class30, 1, &cohort)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "same expiry cohort")
	assert.NotEqual(t, first.ID, a.ID)

	assert.Equal(t, 7, f.balance(t, f.student.ID))
}

func TestCreditValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Credit(f.ctx, f.student.ID, class30, 0, nil)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.ledger.Credit(f.ctx, f.student.ID, 0, 1, nil)
	assert.ErrorIs(t, err, model.ErrValidation)

	past := testNow.AddDate(0, 0, -2)
	_, err = f.ledger.Credit(f.ctx, f.student.ID, class30, 1, &past)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.ledger.GetBalance(f.ctx, f.student.ID, -30)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDebitWithoutCredits(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Debit(f.ctx, f.student.ID, class30, 1)
	assert.ErrorIs(t, err, model.ErrInsufficientCredits)

	usage, err := f.store.Credits().GetUsageByBooking(f.ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, usage)
}

func TestLowBalanceNotificationCrossesOnce(t *testing.T) {
	f := newFixture(t)
	f.grant(t, f.student.ID, 3) // threshold is 1

	for i := int64(1); i <= 3; i++ {
		_, err := f.ledger.Debit(f.ctx, f.student.ID, class30, i)
		require.NoError(t, err)
	}

	jobs := f.jobsOfKind(t, model.NotificationCreditsLow)
	require.Len(t, jobs, 1, "3 -> 2 -> 1 crosses once, 1 -> 0 stays below")
	assert.Equal(t, f.student.ID, jobs[0].UserID)
	assert.JSONEq(t, `{"duration_class":30,"balance":1}`, string(jobs[0].Payload))

	f.grant(t, f.student.ID, 2) // back above, re-armed
	_, err := f.ledger.Debit(f.ctx, f.student.ID, class30, 4)
	require.NoError(t, err)

	assert.Len(t, f.jobsOfKind(t, model.NotificationCreditsLow), 2)
}

func TestLowBalanceWatermarkIsPersisted(t *testing.T) {
	f := newFixture(t)
	f.grant(t, f.student.ID, 2)

	mark, err := f.store.Credits().GetWatermark(f.ctx, f.student.ID, class30)
	require.NoError(t, err)
	require.NotNil(t, mark)
	assert.Equal(t, 2, mark.LastBalance)

	// A fresh service over the same store sees the same watermark.
	other := NewLedgerService(f.store, 1, f.ledger.logger, WithClock(func() time.Time { return testNow }))
	_, err = other.Debit(f.ctx, f.student.ID, class30, 1)
	require.NoError(t, err)

	assert.Len(t, f.jobsOfKind(t, model.NotificationCreditsLow), 1)
}

func TestLowBalanceDisabled(t *testing.T) {
	f := newFixture(t)
	ledger := NewLedgerService(f.store, 0, f.ledger.logger, WithClock(func() time.Time { return testNow }))

	_, err := ledger.Credit(f.ctx, f.student.ID, class30, 1, nil)
	require.NoError(t, err)
	_, err = ledger.Debit(f.ctx, f.student.ID, class30, 1)
	require.NoError(t, err)

	assert.Empty(t, f.jobsOfKind(t, model.NotificationCreditsLow))
}
