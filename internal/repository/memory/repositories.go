package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

type users struct{ v *view }

func (r *users) Create(ctx context.Context, user *model.User) error {
	return r.v.do(ctx, "users.Create", func(st *state) error {
		user.ID = st.nextID()
		user.CreatedAt = r.v.now()
		st.users[user.ID] = *user
		return nil
	})
}

func (r *users) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var out *model.User
	err := r.v.do(ctx, "users.GetByID", func(st *state) error {
		if u, ok := st.users[id]; ok {
			out = &u
		}
		return nil
	})
	return out, err
}

func (r *users) Update(ctx context.Context, user *model.User) error {
	return r.v.do(ctx, "users.Update", func(st *state) error {
		existing, ok := st.users[user.ID]
		if !ok {
			return fmt.Errorf("update user %d: %w", user.ID, model.ErrNotFound)
		}
		user.CreatedAt = existing.CreatedAt
		st.users[user.ID] = *user
		return nil
	})
}

type bookings struct{ v *view }

func (r *bookings) Create(ctx context.Context, booking *model.Booking) error {
	return r.v.do(ctx, "bookings.Create", func(st *state) error {
		if booking.Status != model.BookingStatusCancelled && sameIntervalActive(st, booking, 0) {
			return fmt.Errorf("create booking: %w", model.ErrSlotConflict)
		}
		now := r.v.now()
		booking.ID = st.nextID()
		booking.Date = model.DateOf(booking.Date)
		booking.CreatedAt = now
		booking.UpdatedAt = now
		st.bookings[booking.ID] = *booking
		return nil
	})
}

// sameIntervalActive mirrors the partial unique index on (instructor, date, interval).
func sameIntervalActive(st *state, b *model.Booking, excludeID int64) bool {
	for id, other := range st.bookings {
		if id == excludeID || !other.IsActive() {
			continue
		}
		if other.InstructorID == b.InstructorID && other.Date.Equal(model.DateOf(b.Date)) &&
			other.StartSlot == b.StartSlot && other.Duration == b.Duration {
			return true
		}
	}
	return false
}

func (r *bookings) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	return r.get(ctx, "bookings.GetByID", id)
}

func (r *bookings) GetForUpdate(ctx context.Context, id int64) (*model.Booking, error) {
	return r.get(ctx, "bookings.GetForUpdate", id)
}

func (r *bookings) get(ctx context.Context, op string, id int64) (*model.Booking, error) {
	var out *model.Booking
	err := r.v.do(ctx, op, func(st *state) error {
		if b, ok := st.bookings[id]; ok {
			out = &b
		}
		return nil
	})
	return out, err
}

func (r *bookings) ListActiveByInstructorDate(ctx context.Context, instructorID int64, date time.Time) ([]*model.Booking, error) {
	day := model.DateOf(date)
	var out []*model.Booking
	err := r.v.do(ctx, "bookings.ListActiveByInstructorDate", func(st *state) error {
		for _, b := range st.bookings {
			if b.InstructorID == instructorID && b.Date.Equal(day) && b.IsActive() {
				b := b
				out = append(out, &b)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartSlot < out[j].StartSlot })
	return out, err
}

func (r *bookings) UpdateStatus(ctx context.Context, id int64, status model.BookingStatus) error {
	return r.v.do(ctx, "bookings.UpdateStatus", func(st *state) error {
		b, ok := st.bookings[id]
		if !ok {
			return fmt.Errorf("update booking status: %w", model.ErrNotFound)
		}
		b.Status = status
		b.UpdatedAt = r.v.now()
		if b.IsActive() && sameIntervalActive(st, &b, id) {
			return fmt.Errorf("update booking status: %w", model.ErrSlotConflict)
		}
		st.bookings[id] = b
		return nil
	})
}

func (r *bookings) Move(ctx context.Context, id int64, date time.Time, startSlot int) error {
	return r.v.do(ctx, "bookings.Move", func(st *state) error {
		b, ok := st.bookings[id]
		if !ok {
			return fmt.Errorf("move booking: %w", model.ErrNotFound)
		}
		b.Date = model.DateOf(date)
		b.StartSlot = startSlot
		b.UpdatedAt = r.v.now()
		if b.IsActive() && sameIntervalActive(st, &b, id) {
			return fmt.Errorf("move booking: %w", model.ErrSlotConflict)
		}
		st.bookings[id] = b
		return nil
	})
}

type availability struct{ v *view }

func (r *availability) CreateWeekly(ctx context.Context, entry *model.WeeklyAvailability) error {
	return r.v.do(ctx, "availability.CreateWeekly", func(st *state) error {
		entry.ID = st.nextID()
		entry.CreatedAt = r.v.now()
		st.weekly[entry.ID] = *entry
		return nil
	})
}

func (r *availability) ListWeekly(ctx context.Context, instructorID int64, weekday int) ([]*model.WeeklyAvailability, error) {
	var out []*model.WeeklyAvailability
	err := r.v.do(ctx, "availability.ListWeekly", func(st *state) error {
		for _, e := range st.weekly {
			if e.InstructorID == instructorID && e.Weekday == weekday {
				e := e
				out = append(out, &e)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartSlot < out[j].StartSlot })
	return out, err
}

func (r *availability) CreateBlocked(ctx context.Context, block *model.BlockedInterval) error {
	return r.v.do(ctx, "availability.CreateBlocked", func(st *state) error {
		block.ID = st.nextID()
		block.CreatedAt = r.v.now()
		st.blocked[block.ID] = *block
		return nil
	})
}

func (r *availability) ListBlocked(ctx context.Context, instructorID int64, from, to time.Time) ([]*model.BlockedInterval, error) {
	var out []*model.BlockedInterval
	err := r.v.do(ctx, "availability.ListBlocked", func(st *state) error {
		for _, b := range st.blocked {
			if b.InstructorID == instructorID && b.StartsAt.Before(to) && b.EndsAt.After(from) {
				b := b
				out = append(out, &b)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, err
}

type credits struct{ v *view }

func usable(p model.CreditPool, userID int64, durationClass int, today time.Time) bool {
	return p.UserID == userID && p.DurationClass == durationClass && p.IsUsable(today)
}

func (r *credits) ListUsable(ctx context.Context, userID int64, durationClass int, today time.Time) ([]*model.CreditPool, error) {
	return r.list(ctx, "credits.ListUsable", userID, durationClass, today)
}

func (r *credits) LockUsable(ctx context.Context, userID int64, durationClass int, today time.Time) ([]*model.CreditPool, error) {
	return r.list(ctx, "credits.LockUsable", userID, durationClass, today)
}

func (r *credits) list(ctx context.Context, op string, userID int64, durationClass int, today time.Time) ([]*model.CreditPool, error) {
	var out []*model.CreditPool
	err := r.v.do(ctx, op, func(st *state) error {
		for _, p := range st.pools {
			if usable(p, userID, durationClass, today) {
				p := p
				out = append(out, &p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *credits) GetPool(ctx context.Context, id int64) (*model.CreditPool, error) {
	var out *model.CreditPool
	err := r.v.do(ctx, "credits.GetPool", func(st *state) error {
		if p, ok := st.pools[id]; ok {
			out = &p
		}
		return nil
	})
	return out, err
}

func (r *credits) AddCredits(ctx context.Context, poolID int64, delta int) error {
	return r.v.do(ctx, "credits.AddCredits", func(st *state) error {
		p, ok := st.pools[poolID]
		if !ok || p.CreditsRemaining+delta < 0 {
			return fmt.Errorf("add credits to pool %d: %w", poolID, model.ErrInsufficientCredits)
		}
		p.CreditsRemaining += delta
		p.UpdatedAt = r.v.now()
		st.pools[poolID] = p
		return nil
	})
}

func (r *credits) CreatePool(ctx context.Context, pool *model.CreditPool) error {
	return r.v.do(ctx, "credits.CreatePool", func(st *state) error {
		now := r.v.now()
		if pool.ExpiresOn != nil {
			d := model.DateOf(*pool.ExpiresOn)
			pool.ExpiresOn = &d
		}
		for id, p := range st.pools {
			if p.UserID == pool.UserID && p.DurationClass == pool.DurationClass && sameExpiry(p.ExpiresOn, pool.ExpiresOn) {
				p.CreditsRemaining += pool.CreditsRemaining
				p.UpdatedAt = now
				st.pools[id] = p
				*pool = p
				return nil
			}
		}
		pool.ID = st.nextID()
		pool.CreatedAt = now
		pool.UpdatedAt = now
		st.pools[pool.ID] = *pool
		return nil
	})
}

func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (r *credits) CreateUsage(ctx context.Context, usage *model.CreditUsage) error {
	return r.v.do(ctx, "credits.CreateUsage", func(st *state) error {
		usage.ID = st.nextID()
		usage.CreatedAt = r.v.now()
		st.usages[usage.ID] = *usage
		return nil
	})
}

func (r *credits) GetUsageByBooking(ctx context.Context, bookingID int64) (*model.CreditUsage, error) {
	var out *model.CreditUsage
	err := r.v.do(ctx, "credits.GetUsageByBooking", func(st *state) error {
		for _, u := range st.usages {
			if u.BookingID == bookingID && (out == nil || u.ID > out.ID) {
				u := u
				out = &u
			}
		}
		return nil
	})
	return out, err
}

func (r *credits) GetWatermark(ctx context.Context, userID int64, durationClass int) (*model.BalanceWatermark, error) {
	var out *model.BalanceWatermark
	err := r.v.do(ctx, "credits.GetWatermark", func(st *state) error {
		if m, ok := st.watermarks[[2]int64{userID, int64(durationClass)}]; ok {
			out = &m
		}
		return nil
	})
	return out, err
}

func (r *credits) SaveWatermark(ctx context.Context, mark *model.BalanceWatermark) error {
	return r.v.do(ctx, "credits.SaveWatermark", func(st *state) error {
		mark.UpdatedAt = r.v.now()
		st.watermarks[[2]int64{mark.UserID, int64(mark.DurationClass)}] = *mark
		return nil
	})
}

type transactions struct{ v *view }

func (r *transactions) Create(ctx context.Context, t *model.Transaction) error {
	return r.v.do(ctx, "transactions.Create", func(st *state) error {
		now := r.v.now()
		t.ID = st.nextID()
		t.CreatedAt = now
		t.UpdatedAt = now
		st.transactions[t.ID] = *t
		return nil
	})
}

func (r *transactions) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var out *model.Transaction
	err := r.v.do(ctx, "transactions.GetByID", func(st *state) error {
		if t, ok := st.transactions[id]; ok {
			out = &t
		}
		return nil
	})
	return out, err
}

func (r *transactions) ListByBooking(ctx context.Context, bookingID int64) ([]*model.Transaction, error) {
	var out []*model.Transaction
	err := r.v.do(ctx, "transactions.ListByBooking", func(st *state) error {
		for _, t := range st.transactions {
			if t.BookingID != nil && *t.BookingID == bookingID {
				t := t
				out = append(out, &t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *transactions) UpdateStatus(ctx context.Context, id int64, from, to model.TransactionStatus) error {
	return r.v.do(ctx, "transactions.UpdateStatus", func(st *state) error {
		t, ok := st.transactions[id]
		if !ok || t.Status != from {
			return fmt.Errorf("transaction %d in status %s: %w", id, from, model.ErrNotFound)
		}
		t.Status = to
		t.UpdatedAt = r.v.now()
		st.transactions[id] = t
		return nil
	})
}

type refunds struct{ v *view }

func (r *refunds) Create(ctx context.Context, refund *model.Refund) error {
	return r.v.do(ctx, "refunds.Create", func(st *state) error {
		for _, existing := range st.refunds {
			if existing.BookingID == refund.BookingID {
				return fmt.Errorf("create refund: %w", model.ErrAlreadyRefunded)
			}
		}
		refund.ID = st.nextID()
		refund.CreatedAt = r.v.now()
		st.refunds[refund.ID] = *refund
		return nil
	})
}

func (r *refunds) GetByBooking(ctx context.Context, bookingID int64) (*model.Refund, error) {
	var out *model.Refund
	err := r.v.do(ctx, "refunds.GetByBooking", func(st *state) error {
		for _, refund := range st.refunds {
			if refund.BookingID == bookingID {
				refund := refund
				out = &refund
			}
		}
		return nil
	})
	return out, err
}

type notifications struct{ v *view }

func (r *notifications) Enqueue(ctx context.Context, job *model.NotificationJob) error {
	return r.v.do(ctx, "notifications.Enqueue", func(st *state) error {
		for _, existing := range st.jobs {
			if existing.DedupeKey == job.DedupeKey {
				return nil
			}
		}
		now := r.v.now()
		job.ID = st.nextID()
		job.Status = model.NotificationStatusPending
		job.CreatedAt = now
		if job.NextAttemptAt.IsZero() {
			job.NextAttemptAt = now
		}
		st.jobs[job.ID] = *job
		return nil
	})
}

func (r *notifications) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.NotificationJob, error) {
	var out []*model.NotificationJob
	err := r.v.do(ctx, "notifications.ClaimDue", func(st *state) error {
		for _, j := range st.jobs {
			if j.Status == model.NotificationStatusPending && !j.NextAttemptAt.After(now) {
				j := j
				out = append(out, &j)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextAttemptAt.Equal(out[j].NextAttemptAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].NextAttemptAt.Before(out[j].NextAttemptAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *notifications) MarkSent(ctx context.Context, id int64) error {
	return r.update(ctx, "notifications.MarkSent", id, func(j *model.NotificationJob) {
		j.Status = model.NotificationStatusSent
		j.Attempts++
		j.LastError = ""
	})
}

func (r *notifications) MarkRetry(ctx context.Context, id int64, attempts int, lastErr string, next time.Time) error {
	return r.update(ctx, "notifications.MarkRetry", id, func(j *model.NotificationJob) {
		j.Attempts = attempts
		j.LastError = lastErr
		j.NextAttemptAt = next
	})
}

func (r *notifications) MarkDead(ctx context.Context, id int64, attempts int, lastErr string) error {
	return r.update(ctx, "notifications.MarkDead", id, func(j *model.NotificationJob) {
		j.Status = model.NotificationStatusDead
		j.Attempts = attempts
		j.LastError = lastErr
	})
}

func (r *notifications) update(ctx context.Context, op string, id int64, fn func(j *model.NotificationJob)) error {
	return r.v.do(ctx, op, func(st *state) error {
		j, ok := st.jobs[id]
		if !ok {
			return fmt.Errorf("%s: %w", op, model.ErrNotFound)
		}
		fn(&j)
		st.jobs[id] = j
		return nil
	})
}

func (r *notifications) GetByDedupeKey(ctx context.Context, key string) (*model.NotificationJob, error) {
	var out *model.NotificationJob
	err := r.v.do(ctx, "notifications.GetByDedupeKey", func(st *state) error {
		for _, j := range st.jobs {
			if j.DedupeKey == key {
				j := j
				out = &j
			}
		}
		return nil
	})
	return out, err
}
