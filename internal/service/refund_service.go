package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository"
)

// DefaultAutoRefundWindow - сколько должно оставаться до начала занятия для автоматического возврата
const DefaultAutoRefundWindow = 24 * time.Hour

// RefundResult - результат отмены с автоматическим возвратом
type RefundResult struct {
	Refund  *model.Refund
	Balance *model.Balance // баланс класса после возврата кредита, nil для шлюза
}

// RefundService отменяет финансовый эффект бронирования ровно один раз
type RefundService struct {
	store   repository.Store
	ledger  *LedgerService
	gateway PaymentGateway
	window  time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewRefundService(
	store repository.Store,
	ledger *LedgerService,
	gateway PaymentGateway,
	window time.Duration,
	logger *zap.Logger,
	opts ...Option,
) *RefundService {
	o := buildOptions(opts)
	if window <= 0 {
		window = DefaultAutoRefundWindow
	}
	return &RefundService{
		store:   store,
		ledger:  ledger,
		gateway: gateway,
		window:  window,
		logger:  logger,
		now:     o.now,
	}
}

// GetRefundInfo определяет, чем оплачено бронирование. Кредиты важнее шлюза,
// если в истории есть и то, и другое.
func (s *RefundService) GetRefundInfo(ctx context.Context, bookingID int64) (*model.RefundInfo, error) {
	booking, err := s.store.Bookings().GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if booking == nil {
		return nil, fmt.Errorf("booking %d: %w", bookingID, model.ErrNotFound)
	}
	return s.refundInfo(ctx, s.store, booking)
}

// ProcessRefund возвращает оплату бронирования способом, которым оно было оплачено
func (s *RefundService) ProcessRefund(ctx context.Context, bookingID int64, method model.RefundMethod, actorID int64, reason string) (*model.Refund, error) {
	if method != model.RefundMethodCredit && method != model.RefundMethodGateway {
		return nil, model.Invalid("method", fmt.Sprintf("unknown refund method %q", method))
	}

	var refund *model.Refund
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		booking, err := tx.Bookings().GetForUpdate(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("get booking: %w", err)
		}
		if booking == nil {
			return fmt.Errorf("booking %d: %w", bookingID, model.ErrNotFound)
		}

		info, err := s.refundInfo(ctx, tx, booking)
		if err != nil {
			return err
		}

		refund, err = s.refund(ctx, tx, info, method, actorID, reason)
		return err
	})
	if err != nil {
		s.reportUnrecorded(refund, err)
		return nil, err
	}

	s.afterRefund(ctx, refund, nil)
	return refund, nil
}

// IsEligibleForAutomaticRefund - до начала занятия осталось больше окна автоматического возврата
func (s *RefundService) IsEligibleForAutomaticRefund(booking *model.Booking) bool {
	return booking.StartsAt().Sub(s.now()) > s.window
}

// CancelBooking отменяет бронирование от имени actorID. Возвращает nil, если
// возврат не положен: студент отменяет меньше чем за окно, отменяет третье лицо
// или оплачивать было нечего.
func (s *RefundService) CancelBooking(ctx context.Context, bookingID, actorID int64) (*RefundResult, error) {
	var (
		booking *model.Booking
		refund  *model.Refund
		voided  int
	)

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		booking, err = tx.Bookings().GetForUpdate(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("get booking: %w", err)
		}
		if booking == nil {
			return fmt.Errorf("booking %d: %w", bookingID, model.ErrNotFound)
		}
		if !booking.IsActive() {
			return model.Invalid("booking", "is already cancelled")
		}

		if err := tx.Bookings().UpdateStatus(ctx, booking.ID, model.BookingStatusCancelled); err != nil {
			return fmt.Errorf("cancel booking: %w", err)
		}
		booking.Status = model.BookingStatusCancelled

		voided, err = s.voidOutstanding(ctx, tx, booking.ID)
		if err != nil {
			return err
		}

		if !s.refundAllowed(booking, actorID) {
			return nil
		}

		info, err := s.refundInfo(ctx, tx, booking)
		if errors.Is(err, model.ErrAlreadyRefunded) {
			return nil
		}
		if err != nil {
			return err
		}
		method, ok := info.Provenance.RefundMethod()
		if !ok {
			return nil
		}

		refund, err = s.refund(ctx, tx, info, method, actorID, "booking cancelled")
		return err
	})
	if err != nil {
		s.reportUnrecorded(refund, err)
		return nil, err
	}

	s.logger.Info("Booking cancelled",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("actor_id", actorID),
		zap.Bool("refunded", refund != nil),
		zap.Int("voided_transactions", voided),
	)

	if booking.StudentID != nil {
		enqueueAfterCommit(ctx, s.store, s.logger, model.NotificationBookingCancelled, *booking.StudentID,
			fmt.Sprintf("booking_cancelled:%d", booking.ID), bookingNotice(booking))
	}

	if refund == nil {
		return nil, nil
	}

	result := &RefundResult{Refund: refund}
	if refund.Method == model.RefundMethodCredit && booking.StudentID != nil {
		balance, err := s.ledger.GetBalance(ctx, *booking.StudentID, booking.DurationClass())
		if err != nil {
			s.logger.Warn("Failed to read balance after refund",
				zap.Int64("booking_id", booking.ID),
				zap.Error(err))
		} else {
			result.Balance = &balance
		}
	}

	s.afterRefund(ctx, refund, booking)
	return result, nil
}

// refundAllowed применяет политику отмены: инструктор возвращает всегда,
// студент только заранее, остальные без возврата.
func (s *RefundService) refundAllowed(b *model.Booking, actorID int64) bool {
	switch {
	case b.StudentID == nil:
		return false
	case actorID == b.InstructorID:
		return true
	case actorID == *b.StudentID:
		return s.IsEligibleForAutomaticRefund(b)
	default:
		return false
	}
}

func (s *RefundService) refundInfo(ctx context.Context, tx repository.Tx, booking *model.Booking) (*model.RefundInfo, error) {
	existing, err := tx.Refunds().GetByBooking(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("get refund: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("booking %d: %w", booking.ID, model.ErrAlreadyRefunded)
	}

	info := &model.RefundInfo{
		Booking:       booking,
		Provenance:    model.ProvenanceNone,
		DurationClass: booking.DurationClass(),
	}

	usage, err := tx.Credits().GetUsageByBooking(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("get credit usage: %w", err)
	}
	if usage != nil {
		info.Provenance = model.ProvenanceCredit
		info.DurationClass = usage.DurationClass
		return info, nil
	}

	txs, err := tx.Transactions().ListByBooking(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	for _, t := range txs {
		switch {
		case t.Method == model.PaymentMethodGateway && t.Status == model.TransactionStatusCompleted:
			info.Provenance = model.ProvenanceGateway
			info.Transaction = t
			return info, nil
		case t.Method == model.PaymentMethodInPerson && info.Transaction == nil:
			info.Provenance = model.ProvenanceInPerson
			info.Transaction = t
		}
	}

	return info, nil
}

// refund пишет возврат в переданной транзакции. Для шлюза внешний вызов
// делается до записи строки: при его ошибке транзакция откатывается целиком.
func (s *RefundService) refund(ctx context.Context, tx repository.Tx, info *model.RefundInfo, method model.RefundMethod, actorID int64, reason string) (*model.Refund, error) {
	actual, ok := info.Provenance.RefundMethod()
	if !ok || actual != method {
		return nil, fmt.Errorf("booking %d paid by %s, refund by %s: %w",
			info.Booking.ID, info.Provenance, method, model.ErrMethodMismatch)
	}

	refund := &model.Refund{
		BookingID: info.Booking.ID,
		Method:    method,
		IssuedBy:  actorID,
		Reason:    reason,
	}

	switch method {
	case model.RefundMethodCredit:
		usage, err := tx.Credits().GetUsageByBooking(ctx, info.Booking.ID)
		if err != nil {
			return nil, fmt.Errorf("get credit usage: %w", err)
		}
		if err := s.ledger.restore(ctx, tx, usage); err != nil {
			return nil, err
		}
		refund.AmountCents = 1

	case model.RefundMethodGateway:
		charge := info.Transaction
		if charge.ChargeRef == nil {
			return nil, fmt.Errorf("transaction %d has no charge reference: %w", charge.ID, model.ErrMethodMismatch)
		}
		ref, err := s.gateway.Refund(ctx, *charge.ChargeRef, charge.AmountCents)
		if err != nil {
			return nil, asGatewayError("refund", err)
		}
		refund.TransactionID = &charge.ID
		refund.AmountCents = charge.AmountCents
		refund.GatewayRef = &ref
	}

	if err := tx.Refunds().Create(ctx, refund); err != nil {
		// деньги уже ушли: refund отдаётся вместе с ошибкой ради GatewayRef
		return refund, fmt.Errorf("create refund: %w", err)
	}

	return refund, nil
}

// reportUnrecorded логирует возврат через шлюз, который прошёл, но не
// закоммитился: ни записи Refund, ни уведомления не будет. Повтор операции
// придёт в шлюз с тем же Idempotency-Key и получит ту же ссылку.
func (s *RefundService) reportUnrecorded(refund *model.Refund, err error) {
	if refund == nil || refund.GatewayRef == nil {
		return
	}
	s.logger.Error("Gateway refund issued but not recorded",
		zap.Int64("booking_id", refund.BookingID),
		zap.String("gateway_ref", *refund.GatewayRef),
		zap.Int64("amount_cents", refund.AmountCents),
		zap.Error(err),
	)
}

// voidOutstanding переводит неоплаченные транзакции оплаты на месте в failed
func (s *RefundService) voidOutstanding(ctx context.Context, tx repository.Tx, bookingID int64) (int, error) {
	txs, err := tx.Transactions().ListByBooking(ctx, bookingID)
	if err != nil {
		return 0, fmt.Errorf("list transactions: %w", err)
	}

	voided := 0
	for _, t := range txs {
		if t.Method != model.PaymentMethodInPerson || t.Status != model.TransactionStatusOutstanding {
			continue
		}
		err := tx.Transactions().UpdateStatus(ctx, t.ID, model.TransactionStatusOutstanding, model.TransactionStatusFailed)
		if err != nil {
			return 0, fmt.Errorf("void transaction %d: %w", t.ID, err)
		}
		voided++
	}
	return voided, nil
}

func (s *RefundService) afterRefund(ctx context.Context, refund *model.Refund, booking *model.Booking) {
	s.logger.Info("Refund issued",
		zap.Int64("refund_id", refund.ID),
		zap.Int64("booking_id", refund.BookingID),
		zap.String("method", string(refund.Method)),
		zap.Int64("amount", refund.AmountCents),
		zap.Int64("issued_by", refund.IssuedBy),
	)

	if booking == nil {
		b, err := s.store.Bookings().GetByID(ctx, refund.BookingID)
		if err != nil || b == nil {
			s.logger.Warn("Failed to load booking for refund notice",
				zap.Int64("booking_id", refund.BookingID),
				zap.Error(err))
			return
		}
		booking = b
	}
	if booking.StudentID == nil {
		return
	}

	enqueueAfterCommit(ctx, s.store, s.logger, model.NotificationRefundIssued, *booking.StudentID,
		fmt.Sprintf("refund_issued:%d", refund.BookingID), model.RefundNotice{
			BookingID:   refund.BookingID,
			Method:      refund.Method,
			AmountCents: refund.AmountCents,
		})
}
