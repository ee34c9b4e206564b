package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mkhasanov/tutorbook/internal/model"
	"github.com/mkhasanov/tutorbook/internal/repository"
)

// Интерфейсы хранилищ объявлены на стороне потребителя,
// pgx-репозитории реализуют их без адаптеров.

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type AvailabilityStore interface {
	GetDay(ctx context.Context, instructorID int64, date time.Time) (*model.DayAvailability, error)
	GetRange(ctx context.Context, instructorID int64, from, to time.Time) ([]*model.DayAvailability, error)
	GetDayForUpdate(ctx context.Context, q repository.Querier, instructorID int64, date time.Time) ([]byte, error)
	UpsertDay(ctx context.Context, q repository.Querier, instructorID int64, date time.Time, bits []byte) error
}

type BookingStore interface {
	Create(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id int64) (*model.Booking, error)
	GetActiveByInstructorDate(ctx context.Context, q repository.Querier, instructorID int64, date time.Time) ([]*model.Booking, error)
	UpdateWindow(ctx context.Context, id int64, date time.Time, startMin, endMin int) error
	Cancel(ctx context.Context, id int64, actor model.CancelActor, reason string) error
	Confirm(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64) error
	MarkNoShow(ctx context.Context, id int64, by model.CancelActor) error
	SetDisputed(ctx context.Context, id int64) error
	SetPaymentStatus(ctx context.Context, id int64, status model.PaymentStatus) error
	MarkAuthorized(ctx context.Context, id int64, chargeID string) error
	RecordAuthFailure(ctx context.Context, id int64, lastErr string) (int, error)
	MarkCaptured(ctx context.Context, id int64, payoutCents int64) error
	RecordCaptureFailure(ctx context.Context, id int64, lastErr string) (int, error)
	SetEscalated(ctx context.Context, id int64) error
	GetDueForAuthorization(ctx context.Context, lead time.Duration, retryCap int) ([]*model.Booking, error)
	GetDueForCapture(ctx context.Context, grace time.Duration, retryCap int) ([]*model.Booking, error)
	GetDueForSettlement(ctx context.Context, window time.Duration) ([]*model.Booking, error)
	GetNoShowCandidates(ctx context.Context, minGrace time.Duration) ([]*model.Booking, error)
	CountByStatus(ctx context.Context, instructorID int64) (map[model.BookingStatus]int64, error)
}

type SettingsProvider interface {
	Get(ctx context.Context, instructorID int64) (*model.InstructorSettings, error)
}

type OutboxStore interface {
	Insert(ctx context.Context, q repository.Querier, event *model.OutboxEvent) error
}
