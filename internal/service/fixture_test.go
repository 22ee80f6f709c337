package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository/memory"
	"github.com/Freeeeeet/lesson_booking/internal/slot"
)

// Thursday noon; 2026-03-02 is the following Monday.
var (
	testNow = time.Date(2026, 2, 26, 12, 0, 0, 0, time.UTC)
	monday  = "2026-03-02"
)

const class30 = 30

const (
	instructorRate int64 = 3000
	fallbackRate   int64 = 2000
)

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	charges   []string
	refunds   []string
	keys      []string
	byKey     map[string]string
	chargeErr error
	refundErr error
}

// Charge ведёт себя как настоящий шлюз: повтор ключа возвращает прежнее списание
func (g *fakeGateway) Charge(_ context.Context, amountCents int64, customerRef, idempotencyKey string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys = append(g.keys, idempotencyKey)
	if g.chargeErr != nil {
		return "", g.chargeErr
	}
	if ref, ok := g.byKey[idempotencyKey]; ok {
		return ref, nil
	}
	g.seq++
	ref := fmt.Sprintf("ch_%d", g.seq)
	g.charges = append(g.charges, fmt.Sprintf("%s:%s:%d", ref, customerRef, amountCents))
	if g.byKey == nil {
		g.byKey = map[string]string{}
	}
	g.byKey[idempotencyKey] = ref
	return ref, nil
}

func (g *fakeGateway) Refund(_ context.Context, chargeRef string, amountCents int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return "", g.refundErr
	}
	g.seq++
	ref := fmt.Sprintf("re_%d", g.seq)
	g.refunds = append(g.refunds, fmt.Sprintf("%s:%d", chargeRef, amountCents))
	return ref, nil
}

// fakeCache версионирует записи так же, как Redis: инвалидация не удаляет,
// а увеличивает версию инструктора или даты.
type fakeCache struct {
	mu          sync.Mutex
	data        map[string][]slot.Interval
	instructors map[int64]int
	dates       map[string]int
	hits        int
	invalidated int
	beforeSet   func() // вызывается до записи, без блокировки
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		data:        map[string][]slot.Interval{},
		instructors: map[int64]int{},
		dates:       map[string]int{},
	}
}

func cacheKey(instructorID int64, date time.Time) string {
	return fmt.Sprintf("%d:%s", instructorID, date.Format(time.DateOnly))
}

func (c *fakeCache) Get(_ context.Context, instructorID int64, date time.Time) ([]slot.Interval, string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(instructorID, date)
	version := fmt.Sprintf("%d.%d", c.instructors[instructorID], c.dates[key])
	open, ok := c.data[key+":"+version]
	if ok {
		c.hits++
	}
	return open, version, ok, nil
}

func (c *fakeCache) Set(_ context.Context, instructorID int64, date time.Time, version string, open []slot.Interval) error {
	if c.beforeSet != nil {
		c.beforeSet()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[cacheKey(instructorID, date)+":"+version] = open
	return nil
}

func (c *fakeCache) InvalidateDate(_ context.Context, instructorID int64, date time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dates[cacheKey(instructorID, date)]++
	c.invalidated++
	return nil
}

func (c *fakeCache) InvalidateInstructor(_ context.Context, instructorID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instructors[instructorID]++
	c.invalidated++
	return nil
}

type fixture struct {
	ctx        context.Context
	store      *memory.Store
	ledger     *LedgerService
	bookings   *BookingService
	refunds    *RefundService
	users      *UserService
	gateway    *fakeGateway
	cache      *fakeCache
	instructor *model.User
	student    *model.User
}

// newFixture: instructor with a Monday 09:00-17:00 template, student with a card on file.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	clock := func() time.Time { return testNow }
	logger := zaptest.NewLogger(t)

	store := memory.NewStore()
	store.SetClock(clock)

	f := &fixture{
		ctx:     ctx,
		store:   store,
		gateway: &fakeGateway{},
		cache:   newFakeCache(),
	}

	f.ledger = NewLedgerService(store, 1, logger, WithClock(clock))
	f.bookings = NewBookingService(store, f.ledger, f.gateway, f.cache,
		Pricing{BaseDurationSlots: 2, FallbackRateCents: fallbackRate}, logger, WithClock(clock))
	f.refunds = NewRefundService(store, f.ledger, f.gateway, DefaultAutoRefundWindow, logger, WithClock(clock))
	f.users = NewUserService(store, logger)

	instructor, err := f.users.RegisterUser(ctx, "Anna", "Petrova", nil)
	require.NoError(t, err)
	rate := instructorRate
	f.instructor, err = f.users.MakeInstructor(ctx, instructor.ID, &rate)
	require.NoError(t, err)

	chatID := int64(777)
	f.student, err = f.users.RegisterUser(ctx, "Ivan", "Sidorov", &chatID)
	require.NoError(t, err)
	require.NoError(t, f.users.SetCardOnFile(ctx, f.student.ID, "cus_ivan"))
	f.student, err = f.users.GetByID(ctx, f.student.ID)
	require.NoError(t, err)

	_, err = f.bookings.AddWeeklyAvailability(ctx, f.instructor.ID, time.Monday, 36, 68)
	require.NoError(t, err)

	return f
}

func (f *fixture) newStudent(t *testing.T, name string) *model.User {
	t.Helper()
	u, err := f.users.RegisterUser(f.ctx, name, "", nil)
	require.NoError(t, err)
	return u
}

func (f *fixture) grant(t *testing.T, userID int64, amount int) {
	t.Helper()
	_, err := f.ledger.PurchaseCredits(f.ctx, userID, class30, amount, nil)
	require.NoError(t, err)
}

func (f *fixture) request(start, duration int, method model.PaymentMethod) BookingRequest {
	return BookingRequest{
		InstructorID:  f.instructor.ID,
		StudentID:     f.student.ID,
		Date:          monday,
		StartSlot:     start,
		Duration:      duration,
		PaymentMethod: method,
	}
}

func (f *fixture) balance(t *testing.T, userID int64) int {
	t.Helper()
	b, err := f.ledger.GetBalance(f.ctx, userID, class30)
	require.NoError(t, err)
	return b.Total
}

func (f *fixture) jobsOfKind(t *testing.T, kind model.NotificationKind) []*model.NotificationJob {
	t.Helper()
	jobs, err := f.store.Notifications().ClaimDue(f.ctx, testNow.AddDate(1, 0, 0), 1000)
	require.NoError(t, err)

	var out []*model.NotificationJob
	for _, j := range jobs {
		if j.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
