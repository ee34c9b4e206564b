package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mkhasanov/tutorbook/internal/apperr"
	"github.com/mkhasanov/tutorbook/internal/bitset"
	"github.com/mkhasanov/tutorbook/internal/model"
	"github.com/mkhasanov/tutorbook/internal/render"
)

// WeekScheduleEngine пишет доступность инструктора понедельными батчами.
// Батч атомарен: либо все 7 дней проходят валидацию и записываются в одной
// транзакции, либо не записывается ни один.
type WeekScheduleEngine struct {
	pool             TxBeginner
	availabilityRepo AvailabilityStore
	bookingRepo      BookingStore
	outboxRepo       OutboxStore
	guard            *ConflictGuard
	logger           *zap.Logger
}

func NewWeekScheduleEngine(
	pool TxBeginner,
	availabilityRepo AvailabilityStore,
	bookingRepo BookingStore,
	outboxRepo OutboxStore,
	guard *ConflictGuard,
	logger *zap.Logger,
) *WeekScheduleEngine {
	return &WeekScheduleEngine{
		pool:             pool,
		availabilityRepo: availabilityRepo,
		bookingRepo:      bookingRepo,
		outboxRepo:       outboxRepo,
		guard:            guard,
		logger:           logger,
	}
}

// SaveWeek записывает расписание недели. clearExisting управляет режимом:
// true - карта дня полностью заменяется, false - новые окна добавляются
// к уже опубликованным (побитовое объединение). Перед записью каждый день
// проверяется: ни одно активное бронирование не должно выпасть из новых окон.
func (e *WeekScheduleEngine) SaveWeek(ctx context.Context, instructorID int64, weekStart time.Time, days []model.DaySchedule, clearExisting bool) error {
	return e.saveWeek(ctx, instructorID, weekStart, days, clearExisting, model.EventWeekSaved)
}

func (e *WeekScheduleEngine) saveWeek(ctx context.Context, instructorID int64, weekStart time.Time, days []model.DaySchedule, clearExisting bool, eventType string) error {
	weekStart = truncateToDay(weekStart)
	if err := validateWeekDays(weekStart, days); err != nil {
		return err
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, day := range days {
		bits, err := bitset.Encode(day.Windows)
		if err != nil {
			return fmt.Errorf("encode day %s: %w", day.Date.Format("2006-01-02"), err)
		}

		if !clearExisting {
			existing, err := e.availabilityRepo.GetDayForUpdate(ctx, tx, instructorID, day.Date)
			if err != nil {
				return fmt.Errorf("lock day %s: %w", day.Date.Format("2006-01-02"), err)
			}
			if existing != nil {
				bits = bitset.Merge(existing, bits)
			}
		}

		if err := e.guard.ValidateDayWindows(ctx, tx, instructorID, day.Date, bits); err != nil {
			return err
		}

		if err := e.availabilityRepo.UpsertDay(ctx, tx, instructorID, day.Date, bits); err != nil {
			return fmt.Errorf("upsert day %s: %w", day.Date.Format("2006-01-02"), err)
		}
	}

	event, err := newOutboxEvent(eventType, map[string]any{
		"instructor_id":  instructorID,
		"week_start":     weekStart.Format("2006-01-02"),
		"days":           len(days),
		"clear_existing": clearExisting,
	})
	if err != nil {
		return err
	}
	if err := e.outboxRepo.Insert(ctx, tx, event); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	e.logger.Info("Week schedule saved",
		zap.Int64("instructor_id", instructorID),
		zap.String("week_start", weekStart.Format("2006-01-02")),
		zap.Int("days", len(days)),
		zap.Bool("clear_existing", clearExisting))
	return nil
}

// CopyWeek переносит расписание недели fromWeek на неделю toWeek.
// Это не байтовое копирование: исходные карты декодируются в окна,
// даты перевешиваются на неделю назначения, и запись проходит тот же
// валидируемый путь - бронирования недели назначения учитываются.
func (e *WeekScheduleEngine) CopyWeek(ctx context.Context, instructorID int64, fromWeek, toWeek time.Time) error {
	fromWeek = truncateToDay(fromWeek)
	toWeek = truncateToDay(toWeek)

	source, err := e.availabilityRepo.GetRange(ctx, instructorID, fromWeek, fromWeek.AddDate(0, 0, 7))
	if err != nil {
		return fmt.Errorf("load source week: %w", err)
	}
	if len(source) == 0 {
		return apperr.NotFound("week of %s has no published availability", fromWeek.Format("2006-01-02"))
	}

	days := make([]model.DaySchedule, 0, len(source))
	for _, day := range source {
		offset := int(truncateToDay(day.Date).Sub(fromWeek).Hours() / 24)
		days = append(days, model.DaySchedule{
			Date:    toWeek.AddDate(0, 0, offset),
			Windows: bitset.Decode(day.Bits),
		})
	}

	return e.saveWeek(ctx, instructorID, toWeek, days, true, model.EventWeekCopied)
}

// GetWeek возвращает оставшиеся открытые окна недели: опубликованная
// доступность за вычетом активных бронирований каждого дня.
func (e *WeekScheduleEngine) GetWeek(ctx context.Context, instructorID int64, weekStart time.Time) ([]model.DaySchedule, error) {
	weekStart = truncateToDay(weekStart)
	stored, err := e.availabilityRepo.GetRange(ctx, instructorID, weekStart, weekStart.AddDate(0, 0, 7))
	if err != nil {
		return nil, fmt.Errorf("load week: %w", err)
	}

	byDate := make(map[string][]byte, len(stored))
	for _, day := range stored {
		byDate[truncateToDay(day.Date).Format("2006-01-02")] = day.Bits
	}

	week := make([]model.DaySchedule, 0, 7)
	for i := 0; i < 7; i++ {
		date := weekStart.AddDate(0, 0, i)
		bits, ok := byDate[date.Format("2006-01-02")]
		if !ok {
			week = append(week, model.DaySchedule{Date: date})
			continue
		}

		open := make([]byte, len(bits))
		copy(open, bits)
		bookings, err := e.bookingRepo.GetActiveByInstructorDate(ctx, nil, instructorID, date)
		if err != nil {
			return nil, fmt.Errorf("load bookings for %s: %w", date.Format("2006-01-02"), err)
		}
		for _, b := range bookings {
			if err := bitset.ClearRange(open, b.StartMin, b.EndMin); err != nil {
				return nil, fmt.Errorf("clear booked window: %w", err)
			}
		}

		week = append(week, model.DaySchedule{Date: date, Windows: bitset.Decode(open)})
	}

	return week, nil
}

// RenderWeekPNG рисует картинку недели: открытые окна и занятые слоты
func (e *WeekScheduleEngine) RenderWeekPNG(ctx context.Context, instructorID int64, weekStart time.Time) ([]byte, error) {
	weekStart = truncateToDay(weekStart)
	week, err := e.GetWeek(ctx, instructorID, weekStart)
	if err != nil {
		return nil, err
	}

	var booked []*model.Booking
	for i := 0; i < 7; i++ {
		date := weekStart.AddDate(0, 0, i)
		bookings, err := e.bookingRepo.GetActiveByInstructorDate(ctx, nil, instructorID, date)
		if err != nil {
			return nil, fmt.Errorf("load bookings for %s: %w", date.Format("2006-01-02"), err)
		}
		booked = append(booked, bookings...)
	}

	img, err := render.WeekPNG(weekStart, week, booked)
	if err != nil {
		return nil, fmt.Errorf("render week image: %w", err)
	}
	return img, nil
}

// validateWeekDays проверяет, что батч не длиннее недели, даты уникальны
// и лежат внутри [weekStart, weekStart+7d)
func validateWeekDays(weekStart time.Time, days []model.DaySchedule) error {
	if len(days) == 0 {
		return apperr.Validation("week batch is empty")
	}
	if len(days) > 7 {
		return apperr.Validation("week batch has %d days, at most 7 allowed", len(days))
	}
	weekEnd := weekStart.AddDate(0, 0, 7)
	seen := make(map[string]bool, len(days))
	for _, day := range days {
		date := truncateToDay(day.Date)
		if date.Before(weekStart) || !date.Before(weekEnd) {
			return apperr.Validation("day %s is outside week of %s", date.Format("2006-01-02"), weekStart.Format("2006-01-02"))
		}
		key := date.Format("2006-01-02")
		if seen[key] {
			return apperr.Validation("day %s appears twice in the batch", key)
		}
		seen[key] = true
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
