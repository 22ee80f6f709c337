package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Freeeeeet/lesson_booking/internal/availability"
	"github.com/Freeeeeet/lesson_booking/internal/conflict"
	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository"
	"github.com/Freeeeeet/lesson_booking/internal/slot"
)

// Pricing - правила расчёта оплаты на месте и через шлюз
type Pricing struct {
	BaseDurationSlots int   // базовая длительность занятия, по умолчанию 2 слота (30 минут)
	FallbackRateCents int64 // цена базового занятия, если у инструктора не задана своя
}

// ChargeFor возвращает цену занятия: ставка за базовую длительность,
// удвоенная для двойного занятия и так далее по числу базовых блоков.
func (p Pricing) ChargeFor(instructor *model.User, duration int) int64 {
	rate := p.FallbackRateCents
	if instructor != nil && instructor.LessonRateCents != nil {
		rate = *instructor.LessonRateCents
	}
	base := p.BaseDurationSlots
	if base <= 0 {
		base = 2
	}
	units := (duration + base - 1) / base
	return rate * int64(units)
}

// BookingRequest - уже авторизованный запрос на запись
type BookingRequest struct {
	InstructorID  int64
	StudentID     int64
	Date          string // YYYY-MM-DD
	StartSlot     int
	Duration      int // в слотах
	PaymentMethod model.PaymentMethod
	// RequestID задаёт вызывающий и повторяет его при ретрае того же запроса,
	// чтобы шлюз не списал дважды. Пустой - каждый вызов отдельная попытка.
	RequestID string
}

// chargeKey - Idempotency-Key списания за бронирование. Одного слота мало:
// после отмены или отката тот же студент может снова записаться на него,
// и шлюз вернул бы уже возвращённое списание.
func chargeKey(req BookingRequest, b *model.Booking) string {
	attempt := req.RequestID
	if attempt == "" {
		attempt = uuid.NewString()
	}
	return fmt.Sprintf("charge:%d:%d:%s:%d:%s", req.StudentID, b.InstructorID, b.Date.Format(time.DateOnly), b.StartSlot, attempt)
}

type BookingService struct {
	store   repository.Store
	ledger  *LedgerService
	gateway PaymentGateway
	cache   AvailabilityCache
	pricing Pricing
	logger  *zap.Logger
	now     func() time.Time
}

func NewBookingService(
	store repository.Store,
	ledger *LedgerService,
	gateway PaymentGateway,
	cache AvailabilityCache,
	pricing Pricing,
	logger *zap.Logger,
	opts ...Option,
) *BookingService {
	o := buildOptions(opts)
	return &BookingService{
		store:   store,
		ledger:  ledger,
		gateway: gateway,
		cache:   cache,
		pricing: pricing,
		logger:  logger,
		now:     o.now,
	}
}

// BookLesson проводит запрос через validate -> availability -> conflict ->
// payment pre-check -> commit. Бронирование и его финансовый эффект
// сохраняются одной транзакцией, подтверждение ставится в очередь после коммита.
func (s *BookingService) BookLesson(ctx context.Context, req BookingRequest) (*model.Booking, error) {
	date, interval, err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	instructor, err := s.loadInstructor(ctx, req.InstructorID)
	if err != nil {
		return nil, err
	}

	student, err := s.store.Users().GetByID(ctx, req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get student: %w", err)
	}
	if student == nil {
		return nil, fmt.Errorf("student %d: %w", req.StudentID, model.ErrNotFound)
	}

	booking := &model.Booking{
		InstructorID: req.InstructorID,
		StudentID:    &student.ID,
		Date:         date,
		StartSlot:    interval.Start,
		Duration:     interval.Len(),
		Status:       model.BookingStatusBooked,
	}

	// Ранний отказ по снимку вне транзакции; под блокировкой проверка повторяется
	if err := s.checkPlacement(ctx, s.store, booking, 0, true); err != nil {
		return nil, err
	}

	payment, err := s.preparePayment(ctx, req, booking, instructor, student)
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockInstructorDay(ctx, booking.InstructorID, booking.Date); err != nil {
			return err
		}
		if err := s.checkPlacement(ctx, tx, booking, 0, true); err != nil {
			return err
		}

		if err := tx.Bookings().Create(ctx, booking); err != nil {
			return fmt.Errorf("create booking: %w", err)
		}

		switch req.PaymentMethod {
		case model.PaymentMethodCredits:
			if _, err := s.ledger.debit(ctx, tx, student.ID, booking.DurationClass(), booking.ID); err != nil {
				return err
			}
		case model.PaymentMethodInPerson, model.PaymentMethodGateway:
			payment.BookingID = &booking.ID
			if err := tx.Transactions().Create(ctx, payment); err != nil {
				return fmt.Errorf("create transaction: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.compensateCharge(ctx, payment, err)
		return nil, err
	}

	s.logger.Info("Lesson booked",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("instructor_id", booking.InstructorID),
		zap.Int64("student_id", student.ID),
		zap.String("date", booking.Date.Format(time.DateOnly)),
		zap.Int("start_slot", booking.StartSlot),
		zap.Int("duration", booking.Duration),
		zap.String("payment_method", string(req.PaymentMethod)),
	)

	notice := bookingNotice(booking)
	notice.Method = string(req.PaymentMethod)
	enqueueAfterCommit(ctx, s.store, s.logger, model.NotificationBookingConfirmed, student.ID,
		fmt.Sprintf("booking_confirmed:%d", booking.ID), notice)

	return booking, nil
}

// Reschedule переносит бронирование на новую дату и слот с той же длительностью.
// Финансовая часть не трогается, поэтому повторного списания нет.
func (s *BookingService) Reschedule(ctx context.Context, bookingID int64, newDate string, newStartSlot int) (*model.Booking, error) {
	date, err := parseDate(newDate)
	if err != nil {
		return nil, err
	}
	if err := slot.Validate(newStartSlot); err != nil {
		return nil, slotValidation("start_slot", err)
	}

	var booking *model.Booking
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		current, err := tx.Bookings().GetForUpdate(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("get booking: %w", err)
		}
		if current == nil {
			return fmt.Errorf("booking %d: %w", bookingID, model.ErrNotFound)
		}
		if !current.IsActive() {
			return model.Invalid("booking", "is cancelled")
		}

		interval, err := slot.NewInterval(newStartSlot, current.Duration)
		if err != nil {
			return slotValidation("start_slot", err)
		}
		if err := s.ensureFuture(date, interval.Start); err != nil {
			return err
		}

		if err := tx.LockInstructorDay(ctx, current.InstructorID, date); err != nil {
			return err
		}

		moved := *current
		moved.Date = date
		moved.StartSlot = interval.Start

		requireOpen := current.Status == model.BookingStatusBooked
		if err := s.checkPlacement(ctx, tx, &moved, current.ID, requireOpen); err != nil {
			return err
		}

		if err := tx.Bookings().Move(ctx, current.ID, date, interval.Start); err != nil {
			return err
		}

		booking = &moved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking rescheduled",
		zap.Int64("booking_id", booking.ID),
		zap.String("date", booking.Date.Format(time.DateOnly)),
		zap.Int("start_slot", booking.StartSlot),
	)

	if booking.StudentID != nil {
		enqueueAfterCommit(ctx, s.store, s.logger, model.NotificationBookingRescheduled, *booking.StudentID,
			fmt.Sprintf("booking_rescheduled:%d:%s:%d:%s", booking.ID, booking.Date.Format(time.DateOnly), booking.StartSlot, uuid.NewString()),
			bookingNotice(booking))
	}

	return booking, nil
}

// BlockTime закрывает время инструктора без студента (status blocked).
// Наличие в недельном шаблоне не требуется, только отсутствие конфликтов.
func (s *BookingService) BlockTime(ctx context.Context, instructorID int64, date string, startSlot, duration int) (*model.Booking, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	interval, err := slot.NewInterval(startSlot, duration)
	if err != nil {
		return nil, slotValidation("start_slot", err)
	}
	if _, err := s.loadInstructor(ctx, instructorID); err != nil {
		return nil, err
	}

	booking := &model.Booking{
		InstructorID: instructorID,
		Date:         day,
		StartSlot:    interval.Start,
		Duration:     interval.Len(),
		Status:       model.BookingStatusBlocked,
	}

	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockInstructorDay(ctx, instructorID, day); err != nil {
			return err
		}
		if err := s.checkPlacement(ctx, tx, booking, 0, false); err != nil {
			return err
		}
		return tx.Bookings().Create(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Instructor time blocked",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("instructor_id", instructorID),
		zap.String("interval", interval.String()),
	)

	return booking, nil
}

// GetInstructorAvailability возвращает открытые интервалы инструктора на дату
func (s *BookingService) GetInstructorAvailability(ctx context.Context, instructorID int64, date string) ([]slot.Interval, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}

	cached, version, ok, cacheErr := s.cache.Get(ctx, instructorID, day)
	if cacheErr != nil {
		s.logger.Warn("Availability cache read failed",
			zap.Int64("instructor_id", instructorID),
			zap.Error(cacheErr))
	} else if ok {
		return cached, nil
	}

	open, err := s.resolveOpen(ctx, s.store, instructorID, day)
	if err != nil {
		return nil, err
	}

	// без версии писать некуда
	if cacheErr != nil {
		return open, nil
	}
	if err := s.cache.Set(ctx, instructorID, day, version, open); err != nil {
		s.logger.Warn("Availability cache write failed",
			zap.Int64("instructor_id", instructorID),
			zap.Error(err))
	}

	return open, nil
}

// AddWeeklyAvailability добавляет запись недельного шаблона
func (s *BookingService) AddWeeklyAvailability(ctx context.Context, instructorID int64, weekday time.Weekday, startSlot, endSlot int) (*model.WeeklyAvailability, error) {
	if weekday < time.Sunday || weekday > time.Saturday {
		return nil, model.Invalid("weekday", "must be 0..6")
	}
	if err := slot.Validate(startSlot); err != nil {
		return nil, slotValidation("start_slot", err)
	}
	if _, err := slot.End(startSlot, endSlot-startSlot); err != nil {
		return nil, slotValidation("end_slot", err)
	}
	if _, err := s.loadInstructor(ctx, instructorID); err != nil {
		return nil, err
	}

	entry := &model.WeeklyAvailability{
		InstructorID: instructorID,
		Weekday:      int(weekday),
		StartSlot:    startSlot,
		EndSlot:      endSlot,
	}
	if err := s.store.Availability().CreateWeekly(ctx, entry); err != nil {
		return nil, err
	}

	if err := s.cache.InvalidateInstructor(ctx, instructorID); err != nil {
		s.logger.Warn("Availability cache invalidation failed",
			zap.Int64("instructor_id", instructorID),
			zap.Error(err))
	}

	s.logger.Info("Weekly availability added",
		zap.Int64("entry_id", entry.ID),
		zap.Int64("instructor_id", instructorID),
		zap.Int("weekday", entry.Weekday),
	)

	return entry, nil
}

// AddBlockedInterval вычитает абсолютный период из доступности инструктора
func (s *BookingService) AddBlockedInterval(ctx context.Context, instructorID int64, startsAt, endsAt time.Time, reason string) (*model.BlockedInterval, error) {
	if !startsAt.Before(endsAt) {
		return nil, model.Invalid("ends_at", "must be after starts_at")
	}
	if _, err := s.loadInstructor(ctx, instructorID); err != nil {
		return nil, err
	}

	block := &model.BlockedInterval{
		InstructorID: instructorID,
		StartsAt:     startsAt.UTC(),
		EndsAt:       endsAt.UTC(),
		Reason:       reason,
	}
	if err := s.store.Availability().CreateBlocked(ctx, block); err != nil {
		return nil, err
	}

	for day := model.DateOf(block.StartsAt); day.Before(block.EndsAt); day = day.AddDate(0, 0, 1) {
		if err := s.cache.InvalidateDate(ctx, instructorID, day); err != nil {
			s.logger.Warn("Availability cache invalidation failed",
				zap.Int64("instructor_id", instructorID),
				zap.Time("date", day),
				zap.Error(err))
		}
	}

	s.logger.Info("Blocked interval added",
		zap.Int64("block_id", block.ID),
		zap.Int64("instructor_id", instructorID),
		zap.Time("starts_at", block.StartsAt),
		zap.Time("ends_at", block.EndsAt),
	)

	return block, nil
}

// MarkTransactionPaid закрывает оплату на месте
func (s *BookingService) MarkTransactionPaid(ctx context.Context, transactionID int64) error {
	err := s.store.Transactions().UpdateStatus(ctx, transactionID,
		model.TransactionStatusOutstanding, model.TransactionStatusCompleted)
	if err != nil {
		return fmt.Errorf("mark transaction paid: %w", err)
	}

	s.logger.Info("In-person payment received", zap.Int64("transaction_id", transactionID))
	return nil
}

func (s *BookingService) validateRequest(req BookingRequest) (time.Time, slot.Interval, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return time.Time{}, slot.Interval{}, err
	}
	if req.InstructorID <= 0 {
		return time.Time{}, slot.Interval{}, model.Invalid("instructor_id", "is required")
	}
	if req.StudentID <= 0 {
		return time.Time{}, slot.Interval{}, model.Invalid("student_id", "is required")
	}
	if req.StudentID == req.InstructorID {
		return time.Time{}, slot.Interval{}, model.Invalid("student_id", "cannot book own lesson")
	}
	if !req.PaymentMethod.Valid() {
		return time.Time{}, slot.Interval{}, model.Invalid("payment_method", fmt.Sprintf("unknown method %q", req.PaymentMethod))
	}
	if err := slot.Validate(req.StartSlot); err != nil {
		return time.Time{}, slot.Interval{}, slotValidation("start_slot", err)
	}
	interval, err := slot.NewInterval(req.StartSlot, req.Duration)
	if err != nil {
		return time.Time{}, slot.Interval{}, slotValidation("duration", err)
	}
	if err := s.ensureFuture(date, interval.Start); err != nil {
		return time.Time{}, slot.Interval{}, err
	}
	return date, interval, nil
}

func (s *BookingService) ensureFuture(date time.Time, startSlot int) error {
	if !slot.Time(date, startSlot).After(s.now()) {
		return model.Invalid("start_slot", "lesson starts in the past")
	}
	return nil
}

func (s *BookingService) loadInstructor(ctx context.Context, instructorID int64) (*model.User, error) {
	instructor, err := s.store.Users().GetByID(ctx, instructorID)
	if err != nil {
		return nil, fmt.Errorf("get instructor: %w", err)
	}
	if instructor == nil {
		return nil, fmt.Errorf("instructor %d: %w", instructorID, model.ErrNotFound)
	}
	if !instructor.IsInstructor {
		return nil, model.Invalid("instructor_id", "user is not an instructor")
	}
	return instructor, nil
}

// checkPlacement проверяет, что интервал лежит в открытом окне (если нужно)
// и не пересекается с активными бронированиями, кроме excludeID.
func (s *BookingService) checkPlacement(ctx context.Context, tx repository.Tx, b *model.Booking, excludeID int64, requireOpen bool) error {
	proposed := slot.Interval{Start: b.StartSlot, End: b.EndSlot()}

	if requireOpen {
		open, err := s.resolveOpen(ctx, tx, b.InstructorID, b.Date)
		if err != nil {
			return err
		}
		if !availability.Fits(open, proposed) {
			return fmt.Errorf("%s on %s: %w", proposed, b.Date.Format(time.DateOnly), model.ErrOutsideAvailability)
		}
	}

	existing, err := tx.Bookings().ListActiveByInstructorDate(ctx, b.InstructorID, b.Date)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}
	if other := conflict.Find(proposed, existing, excludeID); other != nil {
		return fmt.Errorf("%s overlaps booking %d: %w", proposed, other.ID, model.ErrSlotConflict)
	}
	return nil
}

func (s *BookingService) resolveOpen(ctx context.Context, tx repository.Tx, instructorID int64, day time.Time) ([]slot.Interval, error) {
	weekly, err := tx.Availability().ListWeekly(ctx, instructorID, int(day.Weekday()))
	if err != nil {
		return nil, fmt.Errorf("list weekly availability: %w", err)
	}
	blocked, err := tx.Availability().ListBlocked(ctx, instructorID, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("list blocked intervals: %w", err)
	}
	return availability.Resolve(day, weekly, blocked), nil
}

// preparePayment выполняет pre-check оплаты. Для шлюза списание делается
// здесь, до транзакции; при откате оно компенсируется в compensateCharge.
func (s *BookingService) preparePayment(ctx context.Context, req BookingRequest, b *model.Booking, instructor, student *model.User) (*model.Transaction, error) {
	switch req.PaymentMethod {
	case model.PaymentMethodCredits:
		ok, err := s.ledger.HasSufficient(ctx, student.ID, b.DurationClass())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("user %d, %d min: %w", student.ID, b.DurationClass(), model.ErrInsufficientCredits)
		}
		return nil, nil

	case model.PaymentMethodInPerson:
		return &model.Transaction{
			UserID:      student.ID,
			AmountCents: s.pricing.ChargeFor(instructor, b.Duration),
			Method:      model.PaymentMethodInPerson,
			Status:      model.TransactionStatusOutstanding,
		}, nil

	case model.PaymentMethodGateway:
		if student.GatewayCustomerRef == nil || *student.GatewayCustomerRef == "" {
			return nil, model.Invalid("payment_method", "student has no card on file")
		}
		amount := s.pricing.ChargeFor(instructor, b.Duration)
		ref, err := s.gateway.Charge(ctx, amount, *student.GatewayCustomerRef, chargeKey(req, b))
		if err != nil {
			return nil, asGatewayError("charge", err)
		}
		return &model.Transaction{
			UserID:      student.ID,
			AmountCents: amount,
			Method:      model.PaymentMethodGateway,
			Status:      model.TransactionStatusCompleted,
			ChargeRef:   &ref,
		}, nil
	}

	return nil, model.Invalid("payment_method", fmt.Sprintf("unknown method %q", req.PaymentMethod))
}

// compensateCharge возвращает деньги, если бронирование со списанием через шлюз не закоммитилось
func (s *BookingService) compensateCharge(ctx context.Context, payment *model.Transaction, cause error) {
	if payment == nil || payment.Method != model.PaymentMethodGateway || payment.ChargeRef == nil {
		return
	}

	ref, err := s.gateway.Refund(context.WithoutCancel(ctx), *payment.ChargeRef, payment.AmountCents)
	if err != nil {
		s.logger.Error("Failed to compensate gateway charge after rollback",
			zap.String("charge_ref", *payment.ChargeRef),
			zap.Int64("amount_cents", payment.AmountCents),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}

	s.logger.Warn("Gateway charge compensated after rollback",
		zap.String("charge_ref", *payment.ChargeRef),
		zap.String("refund_ref", ref),
		zap.NamedError("cause", cause),
	)
}

func parseDate(value string) (time.Time, error) {
	date, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, &model.ValidationError{Field: "date", Msg: "expected YYYY-MM-DD", Err: err}
	}
	return date.UTC(), nil
}

// slotValidation оборачивает ошибки слотов так, что errors.Is находит и
// ErrValidation, и исходную причину (ErrInvalidSlot, ErrSlotRangeExceeded)
func slotValidation(field string, err error) error {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return &model.ValidationError{Field: field, Msg: err.Error(), Err: err}
}

func asGatewayError(op string, err error) error {
	var ge *model.GatewayError
	if errors.As(err, &ge) {
		return err
	}
	return &model.GatewayError{Op: op, Msg: err.Error(), Err: err}
}
