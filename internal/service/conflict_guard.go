package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/mkhasanov/tutorbook/internal/apperr"
	"github.com/mkhasanov/tutorbook/internal/bitset"
	"github.com/mkhasanov/tutorbook/internal/model"
	"github.com/mkhasanov/tutorbook/internal/obs"
	"github.com/mkhasanov/tutorbook/internal/repository"
)

// ConflictGuard гарантирует, что инструктора нельзя забронировать дважды.
// Битовая карта хранит только опубликованную доступность, пересечения с
// существующими бронированиями проверяются здесь при каждой мутации.
type ConflictGuard struct {
	availabilityRepo AvailabilityStore
	bookingRepo      BookingStore
	settings         SettingsProvider
	metrics          *obs.Metrics
	logger           *zap.Logger
	now              func() time.Time
}

func NewConflictGuard(
	availabilityRepo AvailabilityStore,
	bookingRepo BookingStore,
	settings SettingsProvider,
	metrics *obs.Metrics,
	logger *zap.Logger,
) *ConflictGuard {
	return &ConflictGuard{
		availabilityRepo: availabilityRepo,
		bookingRepo:      bookingRepo,
		settings:         settings,
		metrics:          metrics,
		logger:           logger,
		now:              time.Now,
	}
}

// CheckAvailable проверяет окно [startMin, endMin) на дату:
//  1. все гранулы входят в опубликованную доступность;
//  2. политика инструктора (минимальный запас часов до начала) соблюдена;
//  3. нет пересечения с CONFIRMED/PENDING бронированиями с учётом буфера.
//
// Пересечение полуинтервалов: max(s1,s2) < min(e1,e2), занятия встык
// конфликтом не считаются. excludeBookingID исключает само бронирование
// при переносе; 0 - ничего не исключать.
func (g *ConflictGuard) CheckAvailable(ctx context.Context, instructorID int64, date time.Time, startMin, endMin int, excludeBookingID int64) error {
	day, err := g.availabilityRepo.GetDay(ctx, instructorID, date)
	if err != nil {
		return fmt.Errorf("load day availability: %w", err)
	}

	if day == nil || !bitset.RangeSet(day.Bits, startMin, endMin) {
		obs.Count(ctx, "conflict_unavailable")
		g.countConflict(ctx, "unavailable")
		return apperr.SlotUnavailable("window [%d, %d) on %s is not within published availability",
			startMin, endMin, date.Format("2006-01-02"))
	}

	settings, err := g.settings.Get(ctx, instructorID)
	if err != nil {
		return fmt.Errorf("load instructor settings: %w", err)
	}

	startAt := date.Add(time.Duration(startMin) * time.Minute)
	if g.now().Add(time.Duration(settings.AdvanceBookingHours) * time.Hour).After(startAt) {
		obs.Count(ctx, "conflict_advance")
		g.countConflict(ctx, "advance_hours")
		return apperr.SlotUnavailable("booking must be made at least %d hours in advance", settings.AdvanceBookingHours)
	}

	bookings, err := g.bookingRepo.GetActiveByInstructorDate(ctx, nil, instructorID, date)
	if err != nil {
		return fmt.Errorf("load active bookings: %w", err)
	}

	buffered := startMin - settings.BufferMinutes
	bufferedEnd := endMin + settings.BufferMinutes
	for _, b := range bookings {
		if b.ID == excludeBookingID {
			continue
		}
		if b.Overlaps(buffered, bufferedEnd) {
			obs.Count(ctx, "conflict_booked")
			g.countConflict(ctx, "booked")
			return apperr.SlotBooked("window [%d, %d) on %s is already taken by another booking",
				startMin, endMin, date.Format("2006-01-02"))
		}
	}

	return nil
}

// ValidateDayWindows проверяет новую карту дня перед записью недели:
// ни одно активное бронирование не должно выпасть из новых окон.
// Выполняется внутри транзакции батча, q - её Querier.
func (g *ConflictGuard) ValidateDayWindows(ctx context.Context, q repository.Querier, instructorID int64, date time.Time, bits []byte) error {
	bookings, err := g.bookingRepo.GetActiveByInstructorDate(ctx, q, instructorID, date)
	if err != nil {
		return fmt.Errorf("load active bookings: %w", err)
	}

	for _, b := range bookings {
		if !bitset.RangeSet(bits, b.StartMin, b.EndMin) {
			g.countConflict(ctx, "shrink_over_booking")
			return apperr.SlotBooked("booking %d [%d, %d) on %s falls outside the new availability",
				b.ID, b.StartMin, b.EndMin, date.Format("2006-01-02"))
		}
	}

	return nil
}

func (g *ConflictGuard) countConflict(ctx context.Context, kind string) {
	if g.metrics != nil {
		g.metrics.Conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// checkWindow валидирует границы окна без обращения к хранилищу
func checkWindow(startMin, endMin int) error {
	if _, err := bitset.Encode([]model.TimeWindow{{StartMin: startMin, EndMin: endMin}}); err != nil {
		return err
	}
	return nil
}
