package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/mkhasanov/tutorbook/internal/apperr"
	"github.com/mkhasanov/tutorbook/internal/lock"
	"github.com/mkhasanov/tutorbook/internal/model"
	"github.com/mkhasanov/tutorbook/internal/obs"
	"github.com/mkhasanov/tutorbook/internal/payment"
)

// acquireTimeout ограничивает ожидание замка на пути запроса:
// по истечении вызывающий получает ретраябельную ошибку, а не висит
const acquireTimeout = 3 * time.Second

// BookingLifecycle - машина состояний бронирования.
// status: PENDING -> CONFIRMED -> {COMPLETED, CANCELLED, NO_SHOW},
// платёжная ось живёт независимо. Всякая мутация выполняется по схеме
// "прочитал - взял замок - перечитал": между первым чтением и захватом
// замка запись могла измениться (например, фоновый свип уже отменил её).
type BookingLifecycle struct {
	bookingRepo BookingStore
	outboxRepo  OutboxStore
	settings    SettingsProvider
	guard       *ConflictGuard
	locker      lock.Locker
	provider    payment.Provider
	metrics     *obs.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

func NewBookingLifecycle(
	bookingRepo BookingStore,
	outboxRepo OutboxStore,
	settings SettingsProvider,
	guard *ConflictGuard,
	locker lock.Locker,
	provider payment.Provider,
	metrics *obs.Metrics,
	logger *zap.Logger,
) *BookingLifecycle {
	return &BookingLifecycle{
		bookingRepo: bookingRepo,
		outboxRepo:  outboxRepo,
		settings:    settings,
		guard:       guard,
		locker:      locker,
		provider:    provider,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateBookingRequest - параметры чекаута
type CreateBookingRequest struct {
	StudentID    int64
	InstructorID int64
	ServiceID    int64
	Date         time.Time
	StartMin     int
	EndMin       int
	AmountCents  int64
}

// CreateBooking создаёт бронирование. У нового бронирования ещё нет id,
// поэтому конкурирующие чекауты сериализуются замком по (инструктор, дата),
// и доступность перепроверяется уже под замком.
func (s *BookingLifecycle) CreateBooking(ctx context.Context, req CreateBookingRequest) (*model.Booking, error) {
	if err := checkWindow(req.StartMin, req.EndMin); err != nil {
		return nil, err
	}
	if req.AmountCents <= 0 {
		return nil, apperr.Validation("amount must be positive, got %d", req.AmountCents)
	}
	date := truncateToDay(req.Date)

	var booking *model.Booking
	err := s.withLock(ctx, lock.SlotKey(req.InstructorID, date), "create", func(ctx context.Context) error {
		if err := s.guard.CheckAvailable(ctx, req.InstructorID, date, req.StartMin, req.EndMin, 0); err != nil {
			return err
		}

		settings, err := s.settings.Get(ctx, req.InstructorID)
		if err != nil {
			return fmt.Errorf("load instructor settings: %w", err)
		}

		b := &model.Booking{
			StudentID:     req.StudentID,
			InstructorID:  req.InstructorID,
			ServiceID:     req.ServiceID,
			Date:          date,
			StartMin:      req.StartMin,
			EndMin:        req.EndMin,
			Status:        model.BookingStatusPending,
			PaymentStatus: model.PaymentStatusScheduled,
			AmountCents:   req.AmountCents,
		}
		if settings.AutoAccept {
			now := s.now()
			b.Status = model.BookingStatusConfirmed
			b.ConfirmedAt = &now
		}

		if err := s.bookingRepo.Create(ctx, b); err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		booking = b

		return s.emit(ctx, model.EventBookingCreated, map[string]any{
			"booking_id":    b.ID,
			"student_id":    b.StudentID,
			"instructor_id": b.InstructorID,
			"date":          date.Format("2006-01-02"),
			"start_min":     b.StartMin,
			"end_min":       b.EndMin,
			"status":        b.Status,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Booking created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("student_id", booking.StudentID),
		zap.Int64("instructor_id", booking.InstructorID),
		zap.String("status", string(booking.Status)))
	return booking, nil
}

// CancelBooking отменяет бронирование. Для ученика действует окно политики
// отмены; авторизованный или списанный платёж возвращается через провайдера.
func (s *BookingLifecycle) CancelBooking(ctx context.Context, bookingID int64, actor model.CancelActor, reason string) error {
	return s.mutate(ctx, bookingID, "cancel", func(ctx context.Context, b *model.Booking) error {
		if actor == model.CancelActorStudent {
			settings, err := s.settings.Get(ctx, b.InstructorID)
			if err != nil {
				return fmt.Errorf("load instructor settings: %w", err)
			}
			deadline := b.StartAt().Add(-time.Duration(settings.CancellationWindowHours) * time.Hour)
			if s.now().After(deadline) {
				return apperr.Validation("booking %d can no longer be cancelled: the %d-hour cancellation window has passed",
					b.ID, settings.CancellationWindowHours)
			}
		}

		if b.PaymentStatus == model.PaymentStatusAuthorized || b.PaymentStatus == model.PaymentStatusCaptured {
			key := payment.IdempotencyKey(payment.OpRefund, b.ID, b.AmountCents)
			if err := s.provider.Refund(ctx, key, b.ChargeID, b.AmountCents); err != nil {
				return err
			}
			if err := s.bookingRepo.SetPaymentStatus(ctx, b.ID, model.PaymentStatusRefunded); err != nil {
				return fmt.Errorf("set payment status: %w", err)
			}
		}

		if err := s.bookingRepo.Cancel(ctx, b.ID, actor, reason); err != nil {
			return fmt.Errorf("cancel booking: %w", err)
		}

		s.logger.Info("Booking cancelled",
			zap.Int64("booking_id", b.ID),
			zap.String("actor", string(actor)))
		return s.emit(ctx, model.EventBookingCancelled, map[string]any{
			"booking_id": b.ID,
			"actor":      actor,
			"reason":     reason,
		})
	})
}

// RescheduleBooking переносит бронирование на новое окно.
// Своё прежнее окно бронирование не конфликтует само с собой.
func (s *BookingLifecycle) RescheduleBooking(ctx context.Context, bookingID int64, newDate time.Time, startMin, endMin int) error {
	if err := checkWindow(startMin, endMin); err != nil {
		return err
	}
	newDate = truncateToDay(newDate)

	return s.mutate(ctx, bookingID, "reschedule", func(ctx context.Context, b *model.Booking) error {
		// Замка самого бронирования недостаточно: два переноса разных
		// бронирований на одно окно держат разные ключи. День назначения
		// сериализуется тем же слот-замком, что и создание.
		return s.withLock(ctx, lock.SlotKey(b.InstructorID, newDate), "reschedule", func(ctx context.Context) error {
			if err := s.guard.CheckAvailable(ctx, b.InstructorID, newDate, startMin, endMin, b.ID); err != nil {
				return err
			}
			if err := s.bookingRepo.UpdateWindow(ctx, b.ID, newDate, startMin, endMin); err != nil {
				return fmt.Errorf("update booking window: %w", err)
			}

			s.logger.Info("Booking rescheduled",
				zap.Int64("booking_id", b.ID),
				zap.String("date", newDate.Format("2006-01-02")),
				zap.Int("start_min", startMin),
				zap.Int("end_min", endMin))
			return nil
		})
	})
}

// ConfirmBooking подтверждает ожидающее бронирование
func (s *BookingLifecycle) ConfirmBooking(ctx context.Context, bookingID int64) error {
	return s.mutate(ctx, bookingID, "confirm", func(ctx context.Context, b *model.Booking) error {
		if b.Status != model.BookingStatusPending {
			return apperr.Validation("booking %d is %s, only pending bookings can be confirmed", b.ID, b.Status)
		}
		if err := s.bookingRepo.Confirm(ctx, b.ID); err != nil {
			return fmt.Errorf("confirm booking: %w", err)
		}
		s.logger.Info("Booking confirmed", zap.Int64("booking_id", b.ID))
		return nil
	})
}

// CompleteBooking помечает занятие завершённым; списание произойдёт
// фоновым свипом после грейс-окна
func (s *BookingLifecycle) CompleteBooking(ctx context.Context, bookingID int64) error {
	return s.mutate(ctx, bookingID, "complete", func(ctx context.Context, b *model.Booking) error {
		if b.Status != model.BookingStatusConfirmed {
			return apperr.Validation("booking %d is %s, only confirmed bookings can be completed", b.ID, b.Status)
		}
		if err := s.bookingRepo.Complete(ctx, b.ID); err != nil {
			return fmt.Errorf("complete booking: %w", err)
		}
		s.logger.Info("Booking completed", zap.Int64("booking_id", b.ID))
		return nil
	})
}

// ReportNoShow фиксирует неявку участника by.
// Под замком проверяется, что бронирование всё ещё CONFIRMED
// и неявка ещё не записана: свипы разных воркеров могут пересекаться.
func (s *BookingLifecycle) ReportNoShow(ctx context.Context, bookingID int64, by model.CancelActor) error {
	return s.mutate(ctx, bookingID, "no_show", func(ctx context.Context, b *model.Booking) error {
		if b.NoShowBy != "" {
			return nil
		}
		if err := s.bookingRepo.MarkNoShow(ctx, b.ID, by); err != nil {
			return fmt.Errorf("mark no-show: %w", err)
		}

		s.logger.Info("No-show reported",
			zap.Int64("booking_id", b.ID),
			zap.String("by", string(by)))
		return s.emit(ctx, model.EventBookingNoShow, map[string]any{
			"booking_id": b.ID,
			"no_show_by": by,
		})
	})
}

// DisputeBooking поднимает спор по завершённому занятию.
// Флаг диспута не выводит бронирование из COMPLETED.
func (s *BookingLifecycle) DisputeBooking(ctx context.Context, bookingID int64) error {
	return s.lockAndRun(ctx, bookingID, "dispute", func(ctx context.Context, b *model.Booking) error {
		if b.Status != model.BookingStatusCompleted {
			return apperr.Validation("booking %d is %s, only completed lessons can be disputed", b.ID, b.Status)
		}
		if err := s.bookingRepo.SetDisputed(ctx, b.ID); err != nil {
			return fmt.Errorf("set disputed: %w", err)
		}
		s.logger.Info("Booking disputed", zap.Int64("booking_id", b.ID))
		return nil
	})
}

// AdminRefund возвращает деньги по уже терминальному бронированию
// (платёжная ось может жить после терминального статуса)
func (s *BookingLifecycle) AdminRefund(ctx context.Context, bookingID int64, amountCents int64) error {
	return s.lockAndRun(ctx, bookingID, "refund", func(ctx context.Context, b *model.Booking) error {
		if b.PaymentStatus != model.PaymentStatusAuthorized && b.PaymentStatus != model.PaymentStatusCaptured && b.PaymentStatus != model.PaymentStatusSettled {
			return apperr.Validation("booking %d payment is %s, nothing to refund", b.ID, b.PaymentStatus)
		}
		if amountCents <= 0 || amountCents > b.AmountCents {
			return apperr.Validation("refund amount %d is out of range (0, %d]", amountCents, b.AmountCents)
		}

		key := payment.IdempotencyKey(payment.OpRefund, b.ID, amountCents)
		if err := s.provider.Refund(ctx, key, b.ChargeID, amountCents); err != nil {
			return err
		}
		if err := s.bookingRepo.SetPaymentStatus(ctx, b.ID, model.PaymentStatusRefunded); err != nil {
			return fmt.Errorf("set payment status: %w", err)
		}

		s.logger.Info("Booking refunded",
			zap.Int64("booking_id", b.ID),
			zap.Int64("amount_cents", amountCents))
		return nil
	})
}

// CountByStatus возвращает агрегаты бронирований инструктора по статусам
func (s *BookingLifecycle) CountByStatus(ctx context.Context, instructorID int64) (map[model.BookingStatus]int64, error) {
	return s.bookingRepo.CountByStatus(ctx, instructorID)
}

/// mutate выполняет переход статуса: замок по бронированию, перечитывание
// записи и отказ TerminalStateError, если статус уже конечный
func (s *BookingLifecycle) mutate(ctx context.Context, bookingID int64, op string, fn func(ctx context.Context, b *model.Booking) error) error {
	return s.lockAndRun(ctx, bookingID, op, func(ctx context.Context, b *model.Booking) error {
		if b.Status.IsTerminal() {
			return apperr.TerminalState(b.ID, string(b.Status))
		}
		return fn(ctx, b)
	})
}

// lockAndRun - общий каркас мутации под замком без проверки терминальности
// (диспут и возврат работают и по завершённым бронированиям)
func (s *BookingLifecycle) lockAndRun(ctx context.Context, bookingID int64, op string, fn func(ctx context.Context, b *model.Booking) error) error {
	if b, err := s.bookingRepo.GetByID(ctx, bookingID); err != nil {
		return fmt.Errorf("get booking: %w", err)
	} else if b == nil {
		return apperr.NotFound("booking %d not found", bookingID)
	}

	return s.withLock(ctx, lock.BookingKey(bookingID), op, func(ctx context.Context) error {
		b, err := s.bookingRepo.GetByID(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("reread booking: %w", err)
		}
		if b == nil {
			return apperr.NotFound("booking %d not found", bookingID)
		}
		return fn(ctx, b)
	})
}

func (s *BookingLifecycle) withLock(ctx context.Context, key, op string, fn func(ctx context.Context) error) error {
	err := lock.WithLock(ctx, s.locker, key, acquireTimeout, fn)
	if errors.Is(err, apperr.ErrLockBusy) {
		obs.Count(ctx, "lock_contention")
		if s.metrics != nil {
			s.metrics.LockContention.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
		}
	}
	return err
}

func (s *BookingLifecycle) emit(ctx context.Context, eventType string, payload any) error {
	event, err := newOutboxEvent(eventType, payload)
	if err != nil {
		return err
	}
	if err := s.outboxRepo.Insert(ctx, nil, event); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
