package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Freeeeeet/lesson_booking/internal/app"
	"github.com/Freeeeeet/lesson_booking/internal/cache"
	"github.com/Freeeeeet/lesson_booking/internal/gateway"
	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository"
	"github.com/Freeeeeet/lesson_booking/internal/repository/postgres"
	"github.com/Freeeeeet/lesson_booking/internal/service"
)

// storeForTest подключается к DB_DSN и накатывает миграции; без него тест пропускается.
// Каждый тест заводит своих пользователей, поэтому база может быть общей.
func storeForTest(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	migrator, err := app.NewMigrator(pool, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, migrator.Run(ctx))
	require.NoError(t, migrator.Close())

	return postgres.NewStore(pool)
}

func createUser(t *testing.T, store repository.Store, instructor bool) *model.User {
	t.Helper()
	u := &model.User{FirstName: "test-" + uuid.NewString()[:8], IsInstructor: instructor}
	require.NoError(t, store.Users().Create(context.Background(), u))
	return u
}

// lessonDay - дата в будущем, чтобы бронирования проходили проверку "не в прошлом"
func lessonDay() time.Time {
	return model.DateOf(time.Now().AddDate(0, 0, 30))
}

func TestConcurrentDebitsAgainstBalanceOfOne(t *testing.T) {
	store := storeForTest(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	ledger := service.NewLedgerService(store, 0, logger)

	instructor := createUser(t, store, true)
	student := createUser(t, store, false)
	_, err := ledger.PurchaseCredits(ctx, student.ID, 30, 1, nil)
	require.NoError(t, err)

	// usage ссылается на бронирование, поэтому под каждое списание своя строка
	const n = 10
	day := lessonDay()
	bookingIDs := make([]int64, n)
	for i := range bookingIDs {
		b := &model.Booking{
			InstructorID: instructor.ID,
			StudentID:    &student.ID,
			Date:         day,
			StartSlot:    i * 2,
			Duration:     2,
			Status:       model.BookingStatusBooked,
		}
		require.NoError(t, store.Bookings().Create(ctx, b))
		bookingIDs[i] = b.ID
	}

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for _, id := range bookingIDs {
		wg.Add(1)
		go func(bookingID int64) {
			defer wg.Done()
			_, err := ledger.Debit(ctx, student.ID, 30, bookingID)
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
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, insufficient)

	balance, err := ledger.GetBalance(ctx, student.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Total)
}

func TestConcurrentBookingsOfSameSlot(t *testing.T) {
	store := storeForTest(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	ledger := service.NewLedgerService(store, 0, logger)
	bookings := service.NewBookingService(store, ledger, gateway.Disabled{}, cache.Nop{},
		service.Pricing{BaseDurationSlots: 2, FallbackRateCents: 2000}, logger)

	instructor := createUser(t, store, true)
	day := lessonDay()
	_, err := bookings.AddWeeklyAvailability(ctx, instructor.ID, day.Weekday(), 36, 68)
	require.NoError(t, err)

	const n = 10
	students := make([]*model.User, n)
	for i := range students {
		students[i] = createUser(t, store, false)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for _, s := range students {
		wg.Add(1)
		go func(studentID int64) {
			defer wg.Done()
			_, err := bookings.BookLesson(ctx, service.BookingRequest{
				InstructorID:  instructor.ID,
				StudentID:     studentID,
				Date:          day.Format(time.DateOnly),
				StartSlot:     40,
				Duration:      2,
				PaymentMethod: model.PaymentMethodInPerson,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, model.ErrSlotConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(s.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)

	active, err := store.Bookings().ListActiveByInstructorDate(ctx, instructor.ID, day)
	require.NoError(t, err)
	require.Len(t, active, 1)

	txs, err := store.Transactions().ListByBooking(ctx, active[0].ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "losers left no transactions behind")
}

func TestActiveIntervalIndex(t *testing.T) {
	store := storeForTest(t)
	ctx := context.Background()

	instructor := createUser(t, store, true)
	newBlock := func() *model.Booking {
		return &model.Booking{
			InstructorID: instructor.ID,
			Date:         lessonDay(),
			StartSlot:    20,
			Duration:     4,
			Status:       model.BookingStatusBlocked,
		}
	}

	first := newBlock()
	require.NoError(t, store.Bookings().Create(ctx, first))

	// без advisory lock дубликат ловит частичный уникальный индекс
	err := store.Bookings().Create(ctx, newBlock())
	require.ErrorIs(t, err, model.ErrSlotConflict)

	require.NoError(t, store.Bookings().UpdateStatus(ctx, first.ID, model.BookingStatusCancelled))
	assert.NoError(t, store.Bookings().Create(ctx, newBlock()), "cancelled bookings do not hold the interval")
}

func TestLockInstructorDaySerializes(t *testing.T) {
	store := storeForTest(t)
	ctx := context.Background()

	instructor := createUser(t, store, true)
	day := lessonDay()

	err := store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockInstructorDay(ctx, instructor.ID, day); err != nil {
			return err
		}

		// вторая транзакция на тот же день ждёт, пока первая держит блокировку
		waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		defer cancel()
		err := store.InTx(waitCtx, func(other repository.Tx) error {
			return other.LockInstructorDay(waitCtx, instructor.ID, day)
		})
		assert.Error(t, err, "same day is locked")

		// другой день того же инструктора не блокируется
		assert.NoError(t, store.InTx(ctx, func(other repository.Tx) error {
			return other.LockInstructorDay(ctx, instructor.ID, day.AddDate(0, 0, 1))
		}))
		return nil
	})
	require.NoError(t, err)

	assert.NoError(t, store.InTx(ctx, func(tx repository.Tx) error {
		return tx.LockInstructorDay(ctx, instructor.ID, day)
	}), "released on commit")
}

func TestDuplicateRefund(t *testing.T) {
	store := storeForTest(t)
	ctx := context.Background()

	instructor := createUser(t, store, true)
	student := createUser(t, store, false)
	booking := &model.Booking{
		InstructorID: instructor.ID,
		StudentID:    &student.ID,
		Date:         lessonDay(),
		StartSlot:    40,
		Duration:     2,
		Status:       model.BookingStatusBooked,
	}
	require.NoError(t, store.Bookings().Create(ctx, booking))

	refund := func() *model.Refund {
		return &model.Refund{BookingID: booking.ID, Method: model.RefundMethodCredit, AmountCents: 1, IssuedBy: instructor.ID}
	}

	first := refund()
	require.NoError(t, store.Refunds().Create(ctx, first))
	assert.NotZero(t, first.ID)

	err := store.Refunds().Create(ctx, refund())
	require.ErrorIs(t, err, model.ErrAlreadyRefunded)

	got, err := store.Refunds().GetByBooking(ctx, booking.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
}

func TestAddCreditsNeverOverdraws(t *testing.T) {
	store := storeForTest(t)
	ctx := context.Background()

	student := createUser(t, store, false)
	pool := &model.CreditPool{UserID: student.ID, DurationClass: 30, CreditsRemaining: 1}
	require.NoError(t, store.Credits().CreatePool(ctx, pool))

	require.NoError(t, store.Credits().AddCredits(ctx, pool.ID, -1))
	err := store.Credits().AddCredits(ctx, pool.ID, -1)
	require.ErrorIs(t, err, model.ErrInsufficientCredits)

	got, err := store.Credits().GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CreditsRemaining)
}

func TestCreatePoolUpsertsCohort(t *testing.T) {
	store := storeForTest(t)
	ctx := context.Background()

	student := createUser(t, store, false)
	expiry := model.DateOf(time.Now().AddDate(0, 1, 0))

	first := &model.CreditPool{UserID: student.ID, DurationClass: 30, CreditsRemaining: 2}
	require.NoError(t, store.Credits().CreatePool(ctx, first))
	second := &model.CreditPool{UserID: student.ID, DurationClass: 30, CreditsRemaining: 3}
	require.NoError(t, store.Credits().CreatePool(ctx, second))

	assert.Equal(t, first.ID, second.ID, "same cohort without expiry")
	assert.Equal(t, 5, second.CreditsRemaining)

	dated := &model.CreditPool{UserID: student.ID, DurationClass: 30, CreditsRemaining: 1, ExpiresOn: &expiry}
	require.NoError(t, store.Credits().CreatePool(ctx, dated))
	assert.NotEqual(t, first.ID, dated.ID)

	laterSameDay := expiry.Add(5 * time.Hour)
	again := &model.CreditPool{UserID: student.ID, DurationClass: 30, CreditsRemaining: 1, ExpiresOn: &laterSameDay}
	require.NoError(t, store.Credits().CreatePool(ctx, again))
	assert.Equal(t, dated.ID, again.ID, "expiry is compared by date")
	assert.Equal(t, 2, again.CreditsRemaining)

	pools, err := store.Credits().ListUsable(ctx, student.ID, 30, time.Now())
	require.NoError(t, err)
	total := 0
	for _, p := range pools {
		total += p.CreditsRemaining
	}
	assert.Equal(t, 7, total)
}

func TestClaimDueSkipsLockedJobs(t *testing.T) {
	store := storeForTest(t)
	ctx := context.Background()

	student := createUser(t, store, false)

	// задачи "из прошлого", чтобы не пересекаться с живой очередью общей базы
	due := time.Unix(1000, 0).UTC()
	var ids []int64
	for i := 0; i < 2; i++ {
		job := &model.NotificationJob{
			DedupeKey:     "test:" + uuid.NewString(),
			Kind:          model.NotificationBookingConfirmed,
			UserID:        student.ID,
			Payload:       []byte(`{}`),
			NextAttemptAt: due,
		}
		require.NoError(t, store.Notifications().Enqueue(ctx, job))
		ids = append(ids, job.ID)

		dup := *job
		dup.ID = 0
		require.NoError(t, store.Notifications().Enqueue(ctx, &dup))
		assert.Zero(t, dup.ID, "dedupe key is enqueued once")
	}
	t.Cleanup(func() {
		for _, id := range ids {
			_ = store.Notifications().MarkSent(context.Background(), id)
		}
	})

	claimedIDs := func(jobs []*model.NotificationJob) []int64 {
		var out []int64
		for _, j := range jobs {
			out = append(out, j.ID)
		}
		return out
	}

	err := store.InTx(ctx, func(tx repository.Tx) error {
		first, err := tx.Notifications().ClaimDue(ctx, due.Add(time.Minute), 100)
		if err != nil {
			return err
		}
		assert.Subset(t, claimedIDs(first), ids)

		// второй диспетчер не видит строки, занятые первым
		return store.InTx(ctx, func(other repository.Tx) error {
			second, err := other.Notifications().ClaimDue(ctx, due.Add(time.Minute), 100)
			if err != nil {
				return err
			}
			for _, id := range ids {
				assert.NotContains(t, claimedIDs(second), id)
			}
			return nil
		})
	})
	require.NoError(t, err)

	// после коммита задачи снова доступны
	jobs, err := store.Notifications().ClaimDue(ctx, due.Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Subset(t, claimedIDs(jobs), ids)
}
