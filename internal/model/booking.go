package model

import "time"

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"   // Ожидает подтверждения
	BookingStatusConfirmed BookingStatus = "confirmed" // Подтверждено
	BookingStatusCompleted BookingStatus = "completed" // Занятие завершено
	BookingStatusCancelled BookingStatus = "cancelled" // Отменено
	BookingStatusNoShow    BookingStatus = "no_show"   // Неявка
)

// IsTerminal сообщает, является ли статус конечным.
// Конечные статусы менять нельзя, платёжный статус при этом может жить дальше.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusNone       PaymentStatus = "none"
	PaymentStatusScheduled  PaymentStatus = "scheduled"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusSettled    PaymentStatus = "settled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusAuthFailed PaymentStatus = "auth_failed"
)

// CancelActor указывает, кто инициировал отмену или неявку
type CancelActor string

const (
	CancelActorStudent    CancelActor = "student"
	CancelActorInstructor CancelActor = "instructor"
	CancelActorAdmin      CancelActor = "admin"
	CancelActorSystem     CancelActor = "system"
)

type Booking struct {
	ID           int64 `json:"id"`
	StudentID    int64 `json:"student_id"`
	InstructorID int64 `json:"instructor_id"`
	ServiceID    int64 `json:"service_id"`

	// Date - день занятия (полночь в опорной таймзоне),
	// StartMin/EndMin - минуты от полуночи, полуинтервал [start, end)
	Date     time.Time `json:"date"`
	StartMin int       `json:"start_min"`
	EndMin   int       `json:"end_min"`

	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	AmountCents int64  `json:"amount_cents"`
	PayoutCents int64  `json:"payout_cents"` // выплата инструктору за вычетом комиссии
	ChargeID    string `json:"charge_id"`    // id авторизации у платёжного провайдера

	ConfirmedAt *time.Time `json:"confirmed_at"`
	CancelledAt *time.Time `json:"cancelled_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CapturedAt  *time.Time `json:"captured_at"`

	CancelledBy  CancelActor `json:"cancelled_by,omitempty"`
	CancelReason string      `json:"cancel_reason,omitempty"`

	NoShowBy CancelActor `json:"no_show_by,omitempty"` // кто не явился
	Disputed bool        `json:"disputed"`             // спор по завершённому занятию

	AuthAttempts     int        `json:"auth_attempts"`
	AuthLastError    string     `json:"auth_last_error,omitempty"`
	CaptureAttempts  int        `json:"capture_attempts"`
	CaptureLastError string     `json:"capture_last_error,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StartAt возвращает момент начала занятия
func (b *Booking) StartAt() time.Time {
	return b.Date.Add(time.Duration(b.StartMin) * time.Minute)
}

// EndAt возвращает момент окончания занятия
func (b *Booking) EndAt() time.Time {
	return b.Date.Add(time.Duration(b.EndMin) * time.Minute)
}

// DurationMinutes возвращает длительность занятия в минутах
func (b *Booking) DurationMinutes() int {
	return b.EndMin - b.StartMin
}

// Overlaps проверяет пересечение полуинтервалов [start, end).
// Занятия встык (общая граница) пересечением не считаются.
func (b *Booking) Overlaps(startMin, endMin int) bool {
	return max(b.StartMin, startMin) < min(b.EndMin, endMin)
}
