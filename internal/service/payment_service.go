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
	"github.com/mkhasanov/tutorbook/internal/video"
)

const (
	// AuthLead - за сколько до начала занятия авторизуется платёж
	AuthLead = 24 * time.Hour
	// AuthRetryCap - предел попыток авторизации, дальше auth_failed
	AuthRetryCap = 3
	// authWarnAttempt - после какой неудачной попытки уходит раннее предупреждение
	authWarnAttempt = 2
	// finalWarnWindow - окно финального предупреждения перед началом занятия
	finalWarnWindow = 6 * time.Hour

	// CaptureGrace - пауза после завершения занятия до списания
	CaptureGrace = 24 * time.Hour
	// CaptureRetryCap - предел попыток списания, дальше эскалация
	CaptureRetryCap = 3

	// SettleWindow - окно споров после списания: списанные занятия
	// без открытого спора по его истечении считаются рассчитанными
	SettleWindow = 72 * time.Hour

	// commissionPct - комиссия площадки с каждого занятия
	commissionPct = 20

	// Грейс неявки: max(noShowFloor, min(длительность/4, noShowCap)).
	// noShowFloor одновременно служит грубым фильтром хранилища:
	// раньше него неявка невозможна ни при какой длительности.
	noShowFloor = 8 * time.Minute
	noShowCap   = 15 * time.Minute

	// sweepLockTimeout - свип не ждёт занятый замок, а пропускает
	// бронирование до следующего прохода
	sweepLockTimeout = 500 * time.Millisecond
)

// NoShowGrace возвращает точный грейс неявки для занятия данной длительности:
// четверть занятия, но не меньше 8 и не больше 15 минут
func NoShowGrace(durationMin int) time.Duration {
	g := time.Duration(durationMin) * time.Minute / 4
	if g > noShowCap {
		g = noShowCap
	}
	if g < noShowFloor {
		g = noShowFloor
	}
	return g
}

// PaymentScheduler - фоновые свипы платёжной машины: авторизация перед
// занятием, списание после завершения и детекция неявок по журналу
// видеосессии. Свипы могут идти параллельно на нескольких воркерах,
// поэтому каждое бронирование обрабатывается под его замком
// с перечитыванием состояния.
type PaymentScheduler struct {
	bookingRepo BookingStore
	outboxRepo  OutboxStore
	lifecycle   *BookingLifecycle
	locker      lock.Locker
	provider    payment.Provider
	video       video.Provider
	metrics     *obs.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

func NewPaymentScheduler(
	bookingRepo BookingStore,
	outboxRepo OutboxStore,
	lifecycle *BookingLifecycle,
	locker lock.Locker,
	provider payment.Provider,
	videoProvider video.Provider,
	metrics *obs.Metrics,
	logger *zap.Logger,
) *PaymentScheduler {
	return &PaymentScheduler{
		bookingRepo: bookingRepo,
		outboxRepo:  outboxRepo,
		lifecycle:   lifecycle,
		locker:      locker,
		provider:    provider,
		video:       videoProvider,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// ProcessScheduledAuthorizations авторизует платежи подтверждённых занятий,
// начинающихся в пределах AuthLead. Неудача инкрементирует счётчик попыток:
// после второй уходит раннее предупреждение, в пределах finalWarnWindow
// до начала - финальное, после AuthRetryCap бронирование помечается
// auth_failed и из свипа выпадает.
func (s *PaymentScheduler) ProcessScheduledAuthorizations(ctx context.Context) error {
	due, err := s.bookingRepo.GetDueForAuthorization(ctx, AuthLead, AuthRetryCap)
	if err != nil {
		return fmt.Errorf("select bookings due for authorization: %w", err)
	}

	for _, candidate := range due {
		if err := s.authorizeOne(ctx, candidate.ID); err != nil {
			if s.skipBusy(ctx, "authorize", candidate.ID, err) {
				continue
			}
			s.logger.Error("Authorization sweep failed for booking",
				zap.Int64("booking_id", candidate.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *PaymentScheduler) authorizeOne(ctx context.Context, bookingID int64) error {
	return lock.WithLock(ctx, s.locker, lock.BookingKey(bookingID), sweepLockTimeout, func(ctx context.Context) error {
		b, err := s.bookingRepo.GetByID(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("reread booking: %w", err)
		}
		// Между выборкой и замком бронирование могли отменить или авторизовать
		if b == nil || b.Status != model.BookingStatusConfirmed || b.PaymentStatus != model.PaymentStatusScheduled {
			return nil
		}

		key := payment.IdempotencyKey(payment.OpAuthorize, b.ID, b.AmountCents)
		chargeID, err := s.provider.Authorize(ctx, key, b.ID, b.AmountCents)
		if err != nil {
			return s.recordAuthFailure(ctx, b, err)
		}

		if err := s.bookingRepo.MarkAuthorized(ctx, b.ID, chargeID); err != nil {
			return fmt.Errorf("mark authorized: %w", err)
		}
		s.countSweep(ctx, "authorize", "ok")
		s.logger.Info("Payment authorized",
			zap.Int64("booking_id", b.ID),
			zap.String("charge_id", chargeID))
		return nil
	})
}

func (s *PaymentScheduler) recordAuthFailure(ctx context.Context, b *model.Booking, cause error) error {
	attempts, err := s.bookingRepo.RecordAuthFailure(ctx, b.ID, cause.Error())
	if err != nil {
		return fmt.Errorf("record auth failure: %w", err)
	}
	s.countSweep(ctx, "authorize", "failed")
	s.logger.Warn("Payment authorization failed",
		zap.Int64("booking_id", b.ID),
		zap.Int("attempts", attempts),
		zap.Error(cause))

	if attempts >= AuthRetryCap {
		if err := s.bookingRepo.SetPaymentStatus(ctx, b.ID, model.PaymentStatusAuthFailed); err != nil {
			return fmt.Errorf("set auth_failed: %w", err)
		}
		return s.emit(ctx, model.EventPaymentAuthFail, map[string]any{
			"booking_id": b.ID,
			"attempts":   attempts,
			"last_error": cause.Error(),
		})
	}

	if attempts == authWarnAttempt {
		if err := s.emit(ctx, model.EventPaymentAuthWarn, map[string]any{
			"booking_id": b.ID,
			"stage":      "early",
			"attempts":   attempts,
		}); err != nil {
			return err
		}
	}
	if until := b.StartAt().Sub(s.now()); until <= finalWarnWindow {
		return s.emit(ctx, model.EventPaymentAuthWarn, map[string]any{
			"booking_id": b.ID,
			"stage":      "final",
		})
	}
	return nil
}

// CaptureCompletedLessons списывает авторизованные платежи занятий,
// завершённых дольше CaptureGrace назад. Выплата инструктору считается
// за вычетом комиссии площадки. После CaptureRetryCap неудач ставится
// метка эскалации и бронирование уходит на ручной разбор.
func (s *PaymentScheduler) CaptureCompletedLessons(ctx context.Context) error {
	due, err := s.bookingRepo.GetDueForCapture(ctx, CaptureGrace, CaptureRetryCap)
	if err != nil {
		return fmt.Errorf("select bookings due for capture: %w", err)
	}

	for _, candidate := range due {
		if err := s.captureOne(ctx, candidate.ID); err != nil {
			if s.skipBusy(ctx, "capture", candidate.ID, err) {
				continue
			}
			s.logger.Error("Capture sweep failed for booking",
				zap.Int64("booking_id", candidate.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *PaymentScheduler) captureOne(ctx context.Context, bookingID int64) error {
	return lock.WithLock(ctx, s.locker, lock.BookingKey(bookingID), sweepLockTimeout, func(ctx context.Context) error {
		b, err := s.bookingRepo.GetByID(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("reread booking: %w", err)
		}
		if b == nil || b.Status != model.BookingStatusCompleted || b.PaymentStatus != model.PaymentStatusAuthorized {
			return nil
		}
		// Спорное занятие не списываем, деньги остаются на холде до разбора
		if b.Disputed {
			s.countSweep(ctx, "capture", "disputed_hold")
			return nil
		}

		key := payment.IdempotencyKey(payment.OpCapture, b.ID, b.AmountCents)
		if err := s.provider.Capture(ctx, key, b.ChargeID); err != nil {
			return s.recordCaptureFailure(ctx, b, err)
		}

		payout := b.AmountCents * (100 - commissionPct) / 100
		if err := s.bookingRepo.MarkCaptured(ctx, b.ID, payout); err != nil {
			return fmt.Errorf("mark captured: %w", err)
		}
		s.countSweep(ctx, "capture", "ok")
		s.logger.Info("Payment captured",
			zap.Int64("booking_id", b.ID),
			zap.Int64("amount_cents", b.AmountCents),
			zap.Int64("payout_cents", payout))
		return nil
	})
}

func (s *PaymentScheduler) recordCaptureFailure(ctx context.Context, b *model.Booking, cause error) error {
	attempts, err := s.bookingRepo.RecordCaptureFailure(ctx, b.ID, cause.Error())
	if err != nil {
		return fmt.Errorf("record capture failure: %w", err)
	}
	s.countSweep(ctx, "capture", "failed")
	s.logger.Warn("Payment capture failed",
		zap.Int64("booking_id", b.ID),
		zap.Int("attempts", attempts),
		zap.Error(cause))

	if attempts >= CaptureRetryCap {
		if err := s.bookingRepo.SetEscalated(ctx, b.ID); err != nil {
			return fmt.Errorf("set escalated: %w", err)
		}
		return s.emit(ctx, model.EventPaymentEscalated, map[string]any{
			"booking_id": b.ID,
			"attempts":   attempts,
			"last_error": cause.Error(),
		})
	}
	return nil
}

// SettleCapturedPayments закрывает платёжный цикл: списанные занятия,
// пережившие окно споров без открытого спора, переводятся в settled.
// Спорное занятие остаётся captured до разбора.
func (s *PaymentScheduler) SettleCapturedPayments(ctx context.Context) error {
	due, err := s.bookingRepo.GetDueForSettlement(ctx, SettleWindow)
	if err != nil {
		return fmt.Errorf("select bookings due for settlement: %w", err)
	}

	for _, candidate := range due {
		if err := s.settleOne(ctx, candidate.ID); err != nil {
			if s.skipBusy(ctx, "settle", candidate.ID, err) {
				continue
			}
			s.logger.Error("Settlement sweep failed for booking",
				zap.Int64("booking_id", candidate.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *PaymentScheduler) settleOne(ctx context.Context, bookingID int64) error {
	return lock.WithLock(ctx, s.locker, lock.BookingKey(bookingID), sweepLockTimeout, func(ctx context.Context) error {
		b, err := s.bookingRepo.GetByID(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("reread booking: %w", err)
		}
		// Между выборкой и замком платёж могли вернуть или оспорить занятие
		if b == nil || b.PaymentStatus != model.PaymentStatusCaptured || b.Disputed {
			return nil
		}

		if err := s.bookingRepo.SetPaymentStatus(ctx, b.ID, model.PaymentStatusSettled); err != nil {
			return fmt.Errorf("set settled: %w", err)
		}
		s.countSweep(ctx, "settle", "ok")
		s.logger.Info("Payment settled",
			zap.Int64("booking_id", b.ID),
			zap.Int64("payout_cents", b.PayoutCents))
		return s.emit(ctx, model.EventPaymentSettled, map[string]any{
			"booking_id":   b.ID,
			"payout_cents": b.PayoutCents,
		})
	})
}

// DetectVideoNoShows ищет неявки двухступенчатым фильтром.
// Ступень 1 (грубая): выборка хранилища по минимально возможному грейсу,
// дёшево отсекает занятия, для которых неявка ещё невозможна.
// Ступень 2 (точная): для каждого кандидата считается его грейс
// по длительности, и занятые ещё внутри грейса пропускаются.
// Атрибуция по журналу видеосессии: присоединился только ученик -
// не явился инструктор, только инструктор - ученик; оба или никто -
// неоднозначно, остаётся на ручной разбор.
func (s *PaymentScheduler) DetectVideoNoShows(ctx context.Context) error {
	candidates, err := s.bookingRepo.GetNoShowCandidates(ctx, noShowFloor)
	if err != nil {
		return fmt.Errorf("select no-show candidates: %w", err)
	}

	for _, b := range candidates {
		if s.now().Before(b.StartAt().Add(NoShowGrace(b.DurationMinutes()))) {
			continue
		}

		joins, err := s.video.JoinLog(ctx, b.ID)
		if err != nil {
			s.logger.Error("Failed to load video join log",
				zap.Int64("booking_id", b.ID),
				zap.Error(err))
			continue
		}

		var absent model.CancelActor
		switch {
		case joins.StudentJoinedAt != nil && joins.InstructorJoinedAt == nil:
			absent = model.CancelActorInstructor
		case joins.StudentJoinedAt == nil && joins.InstructorJoinedAt != nil:
			absent = model.CancelActorStudent
		default:
			s.countSweep(ctx, "no_show", "ambiguous")
			continue
		}

		// Под замком лайфсайкл перечитает запись и откажет,
		// если бронирование уже не CONFIRMED или неявка записана
		if err := s.lifecycle.ReportNoShow(ctx, b.ID, absent); err != nil {
			if s.skipBusy(ctx, "no_show", b.ID, err) {
				continue
			}
			s.logger.Error("No-show sweep failed for booking",
				zap.Int64("booking_id", b.ID),
				zap.Error(err))
			continue
		}
		s.countSweep(ctx, "no_show", "reported")
	}
	return nil
}

// skipBusy распознаёт занятый замок: другой воркер уже обрабатывает
// бронирование, свип вернётся к нему на следующем проходе
func (s *PaymentScheduler) skipBusy(ctx context.Context, sweep string, bookingID int64, err error) bool {
	if !errors.Is(err, apperr.ErrLockBusy) {
		return false
	}
	s.countSweep(ctx, sweep, "lock_busy")
	if s.metrics != nil {
		s.metrics.LockContention.Add(ctx, 1, metric.WithAttributes(attribute.String("op", sweep)))
	}
	s.logger.Debug("Booking is locked by another worker, skipping",
		zap.Int64("booking_id", bookingID),
		zap.String("sweep", sweep))
	return true
}

func (s *PaymentScheduler) countSweep(ctx context.Context, sweep, outcome string) {
	if s.metrics != nil {
		s.metrics.SweepOutcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("sweep", sweep),
			attribute.String("outcome", outcome)))
	}
}

func (s *PaymentScheduler) emit(ctx context.Context, eventType string, payload any) error {
	event, err := newOutboxEvent(eventType, payload)
	if err != nil {
		return err
	}
	if err := s.outboxRepo.Insert(ctx, nil, event); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
