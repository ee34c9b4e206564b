package model

import "time"

// Типы событий расписания и бронирований
const (
	EventWeekSaved        = "availability.week_saved"
	EventWeekCopied       = "availability.week_copied"
	EventBookingCreated   = "booking.created"
	EventBookingCancelled = "booking.cancelled"
	EventBookingNoShow    = "booking.no_show"
	EventPaymentAuthWarn  = "payment.auth_warning"
	EventPaymentAuthFail  = "payment.auth_failed"
	EventPaymentEscalated = "payment.capture_escalated"
	EventPaymentSettled   = "payment.settled"
)

// OutboxEvent - событие для доставки нотификатору.
// DedupeKey детерминированно выводится из типа и полезной нагрузки,
// повторная доставка того же события даёт no-op на стороне потребителя.
type OutboxEvent struct {
	ID          int64      `json:"id"`
	EventType   string     `json:"event_type"`
	DedupeKey   string     `json:"dedupe_key"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at"`
}
