package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkhasanov/tutorbook/internal/model"
	"github.com/mkhasanov/tutorbook/internal/repository/base"
)

type BookingRepository struct {
	*base.Repository
}

func NewBookingRepository(pool *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{Repository: base.NewRepository(pool)}
}

const bookingColumns = `
	id, student_id, instructor_id, service_id, date, start_min, end_min,
	status, payment_status, amount_cents, payout_cents, charge_id,
	confirmed_at, cancelled_at, completed_at, captured_at, cancelled_by,
	cancel_reason, no_show_by, disputed, auth_attempts, auth_last_error,
	capture_attempts, capture_last_error, escalated_at, created_at, updated_at
`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.ID,
		&b.StudentID,
		&b.InstructorID,
		&b.ServiceID,
		&b.Date,
		&b.StartMin,
		&b.EndMin,
		&b.Status,
		&b.PaymentStatus,
		&b.AmountCents,
		&b.PayoutCents,
		&b.ChargeID,
		&b.ConfirmedAt,
		&b.CancelledAt,
		&b.CompletedAt,
		&b.CapturedAt,
		&b.CancelledBy,
		&b.CancelReason,
		&b.NoShowBy,
		&b.Disputed,
		&b.AuthAttempts,
		&b.AuthLastError,
		&b.CaptureAttempts,
		&b.CaptureLastError,
		&b.EscalatedAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepository) scanBookings(rows pgx.Rows) ([]*model.Booking, error) {
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

// Create создаёт новое бронирование
func (r *BookingRepository) Create(ctx context.Context, b *model.Booking) error {
	query := `
		INSERT INTO bookings (
			student_id, instructor_id, service_id, date, start_min, end_min,
			status, payment_status, amount_cents, confirmed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		b.StudentID,
		b.InstructorID,
		b.ServiceID,
		b.Date,
		b.StartMin,
		b.EndMin,
		b.Status,
		b.PaymentStatus,
		b.AmountCents,
		b.ConfirmedAt,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}

	return nil
}

// GetByID получает бронирование по ID
func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}

	return b, nil
}

// GetActiveByInstructorDate получает CONFIRMED/PENDING бронирования инструктора на дату.
// Принимает Querier, чтобы проверка конфликтов видела строки транзакции недели.
func (r *BookingRepository) GetActiveByInstructorDate(ctx context.Context, q Querier, instructorID int64, date time.Time) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE instructor_id = $1 AND date = $2 AND status IN ('pending', 'confirmed')
		ORDER BY start_min ASC
	`

	rows, err := r.Q(q).Query(ctx, query, instructorID, date)
	if err != nil {
		return nil, fmt.Errorf("get active bookings: %w", err)
	}

	return r.scanBookings(rows)
}

// UpdateWindow переносит бронирование на новое время
func (r *BookingRepository) UpdateWindow(ctx context.Context, id int64, date time.Time, startMin, endMin int) error {
	query := `
		UPDATE bookings
		SET date = $1, start_min = $2, end_min = $3, updated_at = now()
		WHERE id = $4
	`

	affected, err := r.ExecAffected(ctx, query, date, startMin, endMin, id)
	if err != nil {
		return fmt.Errorf("update booking window: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("booking not found")
	}

	return nil
}

// Cancel переводит бронирование в cancelled и фиксирует инициатора с причиной
func (r *BookingRepository) Cancel(ctx context.Context, id int64, actor model.CancelActor, reason string) error {
	query := `
		UPDATE bookings
		SET status = 'cancelled', cancelled_at = now(), cancelled_by = $1,
		    cancel_reason = $2, updated_at = now()
		WHERE id = $3
	`

	affected, err := r.ExecAffected(ctx, query, actor, reason, id)
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("booking not found")
	}

	return nil
}

// Confirm переводит ожидающее бронирование в confirmed
func (r *BookingRepository) Confirm(ctx context.Context, id int64) error {
	query := `
		UPDATE bookings
		SET status = 'confirmed', confirmed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`

	affected, err := r.ExecAffected(ctx, query, id)
	if err != nil {
		return fmt.Errorf("confirm booking: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("booking not found or not pending")
	}

	return nil
}

// Complete переводит бронирование в completed
func (r *BookingRepository) Complete(ctx context.Context, id int64) error {
	query := `
		UPDATE bookings
		SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE id = $1
	`

	affected, err := r.ExecAffected(ctx, query, id)
	if err != nil {
		return fmt.Errorf("complete booking: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("booking not found")
	}

	return nil
}

// MarkNoShow фиксирует неявку и её виновника
func (r *BookingRepository) MarkNoShow(ctx context.Context, id int64, by model.CancelActor) error {
	query := `
		UPDATE bookings
		SET status = 'no_show', no_show_by = $1, updated_at = now()
		WHERE id = $2
	`

	affected, err := r.ExecAffected(ctx, query, by, id)
	if err != nil {
		return fmt.Errorf("mark no-show: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("booking not found")
	}

	return nil
}

// SetDisputed помечает завершённое занятие как спорное, не меняя статус
func (r *BookingRepository) SetDisputed(ctx context.Context, id int64) error {
	query := `
		UPDATE bookings
		SET disputed = TRUE, updated_at = now()
		WHERE id = $1
	`

	affected, err := r.ExecAffected(ctx, query, id)
	if err != nil {
		return fmt.Errorf("set disputed: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("booking not found")
	}

	return nil
}

// SetPaymentStatus обновляет платёжный статус
func (r *BookingRepository) SetPaymentStatus(ctx context.Context, id int64, status model.PaymentStatus) error {
	query := `
		UPDATE bookings
		SET payment_status = $1, updated_at = now()
		WHERE id = $2
	`

	affected, err := r.ExecAffected(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("booking not found")
	}

	return nil
}

// MarkAuthorized фиксирует успешную авторизацию платежа
func (r *BookingRepository) MarkAuthorized(ctx context.Context, id int64, chargeID string) error {
	query := `
		UPDATE bookings
		SET payment_status = 'authorized', charge_id = $1, auth_last_error = '',
		    updated_at = now()
		WHERE id = $2
	`

	_, err := r.ExecAffected(ctx, query, chargeID, id)
	if err != nil {
		return fmt.Errorf("mark authorized: %w", err)
	}

	return nil
}

// RecordAuthFailure инкрементирует счётчик неудачных авторизаций
func (r *BookingRepository) RecordAuthFailure(ctx context.Context, id int64, lastErr string) (int, error) {
	query := `
		UPDATE bookings
		SET auth_attempts = auth_attempts + 1, auth_last_error = $1, updated_at = now()
		WHERE id = $2
		RETURNING auth_attempts
	`

	var attempts int
	if err := r.QueryRow(ctx, query, lastErr, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("record auth failure: %w", err)
	}

	return attempts, nil
}

// MarkCaptured фиксирует списание, рассчитанную выплату инструктору
// и момент списания, от которого отсчитывается окно расчёта
func (r *BookingRepository) MarkCaptured(ctx context.Context, id int64, payoutCents int64) error {
	query := `
		UPDATE bookings
		SET payment_status = 'captured', payout_cents = $1, capture_last_error = '',
		    captured_at = now(), updated_at = now()
		WHERE id = $2
	`

	_, err := r.ExecAffected(ctx, query, payoutCents, id)
	if err != nil {
		return fmt.Errorf("mark captured: %w", err)
	}

	return nil
}

// RecordCaptureFailure инкрементирует счётчик неудачных списаний
func (r *BookingRepository) RecordCaptureFailure(ctx context.Context, id int64, lastErr string) (int, error) {
	query := `
		UPDATE bookings
		SET capture_attempts = capture_attempts + 1, capture_last_error = $1,
		    updated_at = now()
		WHERE id = $2
		RETURNING capture_attempts
	`

	var attempts int
	if err := r.QueryRow(ctx, query, lastErr, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("record capture failure: %w", err)
	}

	return attempts, nil
}

// SetEscalated проставляет отметку эскалации после исчерпания ретраев
func (r *BookingRepository) SetEscalated(ctx context.Context, id int64) error {
	query := `
		UPDATE bookings
		SET escalated_at = now(), updated_at = now()
		WHERE id = $1 AND escalated_at IS NULL
	`

	_, err := r.ExecAffected(ctx, query, id)
	if err != nil {
		return fmt.Errorf("set escalated: %w", err)
	}

	return nil
}

// GetDueForAuthorization выбирает бронирования для свипа авторизаций:
// подтверждённые, со статусом оплаты scheduled, начало внутри lead-времени,
// лимит попыток не исчерпан
func (r *BookingRepository) GetDueForAuthorization(ctx context.Context, lead time.Duration, retryCap int) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'confirmed'
		  AND payment_status = 'scheduled'
		  AND date + make_interval(mins => start_min) <= now() + $1
		  AND date + make_interval(mins => start_min) > now()
		  AND auth_attempts < $2
		ORDER BY date, start_min
	`

	rows, err := r.Query(ctx, query, lead, retryCap)
	if err != nil {
		return nil, fmt.Errorf("get due for authorization: %w", err)
	}

	return r.scanBookings(rows)
}

// GetDueForCapture выбирает завершённые занятия старше grace-окна,
// всё ещё в статусе authorized, без отметки эскалации
func (r *BookingRepository) GetDueForCapture(ctx context.Context, grace time.Duration, retryCap int) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'completed'
		  AND payment_status = 'authorized'
		  AND completed_at <= now() - $1
		  AND capture_attempts < $2
		  AND escalated_at IS NULL
		ORDER BY completed_at
	`

	rows, err := r.Query(ctx, query, grace, retryCap)
	if err != nil {
		return nil, fmt.Errorf("get due for capture: %w", err)
	}

	return r.scanBookings(rows)
}

// GetDueForSettlement выбирает списанные занятия старше окна споров:
// деньги можно считать окончательно рассчитанными, если занятие
// не оспорено
func (r *BookingRepository) GetDueForSettlement(ctx context.Context, window time.Duration) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'completed'
		  AND payment_status = 'captured'
		  AND disputed = FALSE
		  AND captured_at <= now() - $1
		ORDER BY captured_at
	`

	rows, err := r.Query(ctx, query, window)
	if err != nil {
		return nil, fmt.Errorf("get due for settlement: %w", err)
	}

	return r.scanBookings(rows)
}

// GetNoShowCandidates - грубая стадия детектора неявок: отбирает подтверждённые
// бронирования, стартовавшие раньше минимально возможного grace-периода.
// Точный период по длительности занятия считает сервис.
func (r *BookingRepository) GetNoShowCandidates(ctx context.Context, minGrace time.Duration) ([]*model.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'confirmed'
		  AND no_show_by = ''
		  AND date + make_interval(mins => start_min) <= now() - $1
		ORDER BY date, start_min
	`

	rows, err := r.Query(ctx, query, minGrace)
	if err != nil {
		return nil, fmt.Errorf("get no-show candidates: %w", err)
	}

	return r.scanBookings(rows)
}

// CountByStatus агрегирует бронирования инструктора по статусам
func (r *BookingRepository) CountByStatus(ctx context.Context, instructorID int64) (map[model.BookingStatus]int64, error) {
	query := `
		SELECT status, count(*)
		FROM bookings
		WHERE instructor_id = $1
		GROUP BY status
	`

	rows, err := r.Query(ctx, query, instructorID)
	if err != nil {
		return nil, fmt.Errorf("count bookings by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.BookingStatus]int64)
	for rows.Next() {
		var status model.BookingStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan booking count: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}
