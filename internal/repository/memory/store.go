// Package memory is an in-process implementation of the repository contracts.
//
// Transactions are fully serialized: InTx holds the store mutex for the whole
// callback and works on a deep copy of the state, which replaces the live
// state only when the callback succeeds. It backs the service tests and can
// inject failures into named operations.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository"
)

type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time

	faultMu sync.Mutex
	faults  map[string]error
}

func NewStore() *Store {
	return &Store{
		state:  newState(),
		now:    time.Now,
		faults: make(map[string]error),
	}
}

// FailOn makes every later call of op return err until ClearFaults.
// Ops are named "<repo>.<method>", e.g. "credits.CreateUsage"; "tx.Commit"
// fails InTx after fn succeeded.
func (s *Store) FailOn(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = err
}

// SetClock replaces the source of CreatedAt/UpdatedAt timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) ClearFaults() {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults = make(map[string]error)
}

func (s *Store) fault(op string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err, ok := s.faults[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// InTx runs fn on a private copy of the state and publishes it on success.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&view{store: s, tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	if err := s.fault("tx.Commit"); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.state = work
	return nil
}

func (s *Store) Users() repository.UserRepository               { return s.auto().Users() }
func (s *Store) Bookings() repository.BookingRepository         { return s.auto().Bookings() }
func (s *Store) Availability() repository.AvailabilityRepository { return s.auto().Availability() }
func (s *Store) Credits() repository.CreditRepository           { return s.auto().Credits() }
func (s *Store) Transactions() repository.TransactionRepository { return s.auto().Transactions() }
func (s *Store) Refunds() repository.RefundRepository           { return s.auto().Refunds() }
func (s *Store) Notifications() repository.NotificationRepository {
	return s.auto().Notifications()
}

func (s *Store) LockInstructorDay(ctx context.Context, instructorID int64, date time.Time) error {
	return s.auto().LockInstructorDay(ctx, instructorID, date)
}

func (s *Store) auto() *view {
	return &view{store: s}
}

// view is either bound to a transaction copy (tx != nil) or works in
// autocommit mode, taking the store mutex per call.
type view struct {
	store *Store
	tx    *state
}

func (v *view) do(ctx context.Context, op string, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := v.store.fault(op); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.tx)
	}

	v.store.mu.Lock()
	defer v.store.mu.Unlock()

	work := v.store.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	v.store.state = work
	return nil
}

func (v *view) now() time.Time {
	return v.store.now().UTC()
}

func (v *view) Users() repository.UserRepository                 { return &users{v} }
func (v *view) Bookings() repository.BookingRepository           { return &bookings{v} }
func (v *view) Availability() repository.AvailabilityRepository  { return &availability{v} }
func (v *view) Credits() repository.CreditRepository             { return &credits{v} }
func (v *view) Transactions() repository.TransactionRepository   { return &transactions{v} }
func (v *view) Refunds() repository.RefundRepository             { return &refunds{v} }
func (v *view) Notifications() repository.NotificationRepository { return &notifications{v} }

// LockInstructorDay is a no-op: transactions are already serialized.
func (v *view) LockInstructorDay(ctx context.Context, _ int64, _ time.Time) error {
	return v.do(ctx, "tx.LockInstructorDay", func(*state) error { return nil })
}

type state struct {
	seq int64

	users        map[int64]model.User
	bookings     map[int64]model.Booking
	weekly       map[int64]model.WeeklyAvailability
	blocked      map[int64]model.BlockedInterval
	pools        map[int64]model.CreditPool
	usages       map[int64]model.CreditUsage
	watermarks   map[[2]int64]model.BalanceWatermark
	transactions map[int64]model.Transaction
	refunds      map[int64]model.Refund
	jobs         map[int64]model.NotificationJob
}

func newState() *state {
	return &state{
		users:        map[int64]model.User{},
		bookings:     map[int64]model.Booking{},
		weekly:       map[int64]model.WeeklyAvailability{},
		blocked:      map[int64]model.BlockedInterval{},
		pools:        map[int64]model.CreditPool{},
		usages:       map[int64]model.CreditUsage{},
		watermarks:   map[[2]int64]model.BalanceWatermark{},
		transactions: map[int64]model.Transaction{},
		refunds:      map[int64]model.Refund{},
		jobs:         map[int64]model.NotificationJob{},
	}
}

func (st *state) nextID() int64 {
	st.seq++
	return st.seq
}

// clone copies the maps. Values are stored by value; pointer fields inside
// them are never mutated in place, only replaced.
func (st *state) clone() *state {
	return &state{
		seq:          st.seq,
		users:        cloneMap(st.users),
		bookings:     cloneMap(st.bookings),
		weekly:       cloneMap(st.weekly),
		blocked:      cloneMap(st.blocked),
		pools:        cloneMap(st.pools),
		usages:       cloneMap(st.usages),
		watermarks:   cloneMap(st.watermarks),
		transactions: cloneMap(st.transactions),
		refunds:      cloneMap(st.refunds),
		jobs:         cloneMap(st.jobs),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
