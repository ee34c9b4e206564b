package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mkhasanov/tutorbook/internal/model"
	"github.com/mkhasanov/tutorbook/internal/repository"
	"github.com/mkhasanov/tutorbook/internal/video"
)

// Фейки хранилищ для тестов сервисного слоя. Параметр q игнорируется:
// транзакционность проверяется на уровне интеграционных тестов с базой.

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeTxBeginner struct {
	last *fakeTx
}

func (f *fakeTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	f.last = &fakeTx{}
	return f.last, nil
}

type fakeAvailabilityStore struct {
	mu   sync.Mutex
	days map[string][]byte // instructorID:date -> bits
}

func newFakeAvailabilityStore() *fakeAvailabilityStore {
	return &fakeAvailabilityStore{days: make(map[string][]byte)}
}

func (f *fakeAvailabilityStore) key(instructorID int64, date time.Time) string {
	return fmt.Sprintf("%d:%s", instructorID, date.Format("2006-01-02"))
}

func (f *fakeAvailabilityStore) GetDay(ctx context.Context, instructorID int64, date time.Time) (*model.DayAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bits, ok := f.days[f.key(instructorID, date)]
	if !ok {
		return nil, nil
	}
	return &model.DayAvailability{InstructorID: instructorID, Date: date, Bits: bits}, nil
}

func (f *fakeAvailabilityStore) GetRange(ctx context.Context, instructorID int64, from, to time.Time) ([]*model.DayAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.DayAvailability
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		if bits, ok := f.days[f.key(instructorID, d)]; ok {
			out = append(out, &model.DayAvailability{InstructorID: instructorID, Date: d, Bits: bits})
		}
	}
	return out, nil
}

func (f *fakeAvailabilityStore) GetDayForUpdate(ctx context.Context, q repository.Querier, instructorID int64, date time.Time) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.days[f.key(instructorID, date)], nil
}

func (f *fakeAvailabilityStore) UpsertDay(ctx context.Context, q repository.Querier, instructorID int64, date time.Time, bits []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days[f.key(instructorID, date)] = bits
	return nil
}

type fakeBookingStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.Booking
	now    func() time.Time
}

func newFakeBookingStore(now func() time.Time) *fakeBookingStore {
	return &fakeBookingStore{nextID: 1, rows: make(map[int64]*model.Booking), now: now}
}

func (f *fakeBookingStore) Create(ctx context.Context, b *model.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b.ID = f.nextID
	f.nextID++
	cp := *b
	f.rows[b.ID] = &cp
	return nil
}

func (f *fakeBookingStore) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBookingStore) GetActiveByInstructorDate(ctx context.Context, q repository.Querier, instructorID int64, date time.Time) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Booking
	for _, b := range f.rows {
		if b.InstructorID == instructorID && b.Date.Equal(date) &&
			(b.Status == model.BookingStatusPending || b.Status == model.BookingStatusConfirmed) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) UpdateWindow(ctx context.Context, id int64, date time.Time, startMin, endMin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.rows[id]
	b.Date, b.StartMin, b.EndMin = date, startMin, endMin
	return nil
}

func (f *fakeBookingStore) Cancel(ctx context.Context, id int64, actor model.CancelActor, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.rows[id]
	now := f.now()
	b.Status = model.BookingStatusCancelled
	b.CancelledAt = &now
	b.CancelledBy = actor
	b.CancelReason = reason
	return nil
}

func (f *fakeBookingStore) Confirm(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.rows[id]
	now := f.now()
	b.Status = model.BookingStatusConfirmed
	b.ConfirmedAt = &now
	return nil
}

func (f *fakeBookingStore) Complete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.rows[id]
	now := f.now()
	b.Status = model.BookingStatusCompleted
	b.CompletedAt = &now
	return nil
}

func (f *fakeBookingStore) MarkNoShow(ctx context.Context, id int64, by model.CancelActor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.rows[id]
	b.Status = model.BookingStatusNoShow
	b.NoShowBy = by
	return nil
}

func (f *fakeBookingStore) SetDisputed(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id].Disputed = true
	return nil
}

func (f *fakeBookingStore) SetPaymentStatus(ctx context.Context, id int64, status model.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id].PaymentStatus = status
	return nil
}

func (f *fakeBookingStore) MarkAuthorized(ctx context.Context, id int64, chargeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.rows[id]
	b.PaymentStatus = model.PaymentStatusAuthorized
	b.ChargeID = chargeID
	return nil
}

func (f *fakeBookingStore) RecordAuthFailure(ctx context.Context, id int64, lastErr string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.rows[id]
	b.AuthAttempts++
	b.AuthLastError = lastErr
	return b.AuthAttempts, nil
}

func (f *fakeBookingStore) MarkCaptured(ctx context.Context, id int64, payoutCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.rows[id]
	b.PaymentStatus = model.PaymentStatusCaptured
	b.PayoutCents = payoutCents
	now := f.now()
	b.CapturedAt = &now
	return nil
}

func (f *fakeBookingStore) RecordCaptureFailure(ctx context.Context, id int64, lastErr string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.rows[id]
	b.CaptureAttempts++
	b.CaptureLastError = lastErr
	return b.CaptureAttempts, nil
}

func (f *fakeBookingStore) SetEscalated(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.rows[id]
	if b.EscalatedAt == nil {
		now := f.now()
		b.EscalatedAt = &now
	}
	return nil
}

func (f *fakeBookingStore) GetDueForAuthorization(ctx context.Context, lead time.Duration, retryCap int) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	var out []*model.Booking
	for _, b := range f.rows {
		if b.Status == model.BookingStatusConfirmed &&
			b.PaymentStatus == model.PaymentStatusScheduled &&
			b.AuthAttempts < retryCap &&
			b.StartAt().After(now) && b.StartAt().Sub(now) <= lead {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) GetDueForCapture(ctx context.Context, grace time.Duration, retryCap int) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	var out []*model.Booking
	for _, b := range f.rows {
		if b.Status == model.BookingStatusCompleted &&
			b.PaymentStatus == model.PaymentStatusAuthorized &&
			b.CaptureAttempts < retryCap &&
			b.EscalatedAt == nil &&
			b.CompletedAt != nil && now.Sub(*b.CompletedAt) >= grace {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) GetDueForSettlement(ctx context.Context, window time.Duration) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	var out []*model.Booking
	for _, b := range f.rows {
		if b.Status == model.BookingStatusCompleted &&
			b.PaymentStatus == model.PaymentStatusCaptured &&
			!b.Disputed &&
			b.CapturedAt != nil && now.Sub(*b.CapturedAt) >= window {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) GetNoShowCandidates(ctx context.Context, minGrace time.Duration) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	var out []*model.Booking
	for _, b := range f.rows {
		if b.Status == model.BookingStatusConfirmed &&
			b.NoShowBy == "" &&
			now.Sub(b.StartAt()) >= minGrace {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) CountByStatus(ctx context.Context, instructorID int64) (map[model.BookingStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[model.BookingStatus]int64)
	for _, b := range f.rows {
		if b.InstructorID == instructorID {
			out[b.Status]++
		}
	}
	return out, nil
}

type fakeSettings struct {
	settings model.InstructorSettings
}

func (f *fakeSettings) Get(ctx context.Context, instructorID int64) (*model.InstructorSettings, error) {
	cp := f.settings
	return &cp, nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []*model.OutboxEvent
}

func (f *fakeOutbox) Insert(ctx context.Context, q repository.Querier, event *model.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Дедупликация как в таблице: повторный ключ молча игнорируется
	for _, e := range f.events {
		if e.DedupeKey == event.DedupeKey {
			return nil
		}
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) byType(eventType string) []*model.OutboxEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.OutboxEvent
	for _, e := range f.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeLocker - внутрипроцессный аналог Redis-замка: занятый ключ
// не ждёт, а сразу возвращает false
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

type providerCall struct {
	op       string
	key      string
	chargeID string
	amount   int64
}

// fakeProvider - скриптуемый платёжный провайдер
type fakeProvider struct {
	mu        sync.Mutex
	calls     []providerCall
	authErr   error
	capErr    error
	refundErr error
}

func (f *fakeProvider) Authorize(ctx context.Context, key string, bookingID, amountCents int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, providerCall{op: "authorize", key: key, amount: amountCents})
	if f.authErr != nil {
		return "", f.authErr
	}
	return "chrg_test", nil
}

func (f *fakeProvider) Capture(ctx context.Context, key, chargeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, providerCall{op: "capture", key: key, chargeID: chargeID})
	return f.capErr
}

func (f *fakeProvider) Refund(ctx context.Context, key, chargeID string, amountCents int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, providerCall{op: "refund", key: key, chargeID: chargeID, amount: amountCents})
	return f.refundErr
}

func (f *fakeProvider) callsOf(op string) []providerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []providerCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeVideo struct {
	logs map[int64]*video.JoinLog
}

func (f *fakeVideo) JoinLog(ctx context.Context, bookingID int64) (*video.JoinLog, error) {
	if log, ok := f.logs[bookingID]; ok {
		return log, nil
	}
	return &video.JoinLog{}, nil
}

// env собирает сервисный слой на фейках с управляемыми часами
type env struct {
	now time.Time

	avail    *fakeAvailabilityStore
	bookings *fakeBookingStore
	settings *fakeSettings
	outbox   *fakeOutbox
	locker   *fakeLocker
	provider *fakeProvider
	video    *fakeVideo
	tx       *fakeTxBeginner

	guard     *ConflictGuard
	engine    *WeekScheduleEngine
	lifecycle *BookingLifecycle
	payments  *PaymentScheduler
}

func newEnv(now time.Time) *env {
	e := &env{
		now:      now,
		avail:    newFakeAvailabilityStore(),
		settings: &fakeSettings{settings: model.InstructorSettings{AdvanceBookingHours: 12, AutoAccept: true, CancellationWindowHours: 24}},
		outbox:   &fakeOutbox{},
		locker:   newFakeLocker(),
		provider: &fakeProvider{},
		video:    &fakeVideo{logs: make(map[int64]*video.JoinLog)},
		tx:       &fakeTxBeginner{},
	}
	clock := func() time.Time { return e.now }
	e.bookings = newFakeBookingStore(clock)

	logger := zap.NewNop()
	e.guard = NewConflictGuard(e.avail, e.bookings, e.settings, nil, logger)
	e.guard.now = clock
	e.engine = NewWeekScheduleEngine(e.tx, e.avail, e.bookings, e.outbox, e.guard, logger)
	e.lifecycle = NewBookingLifecycle(e.bookings, e.outbox, e.settings, e.guard, e.locker, e.provider, nil, logger)
	e.lifecycle.now = clock
	e.payments = NewPaymentScheduler(e.bookings, e.outbox, e.lifecycle, e.locker, e.provider, e.video, nil, logger)
	e.payments.now = clock
	return e
}
