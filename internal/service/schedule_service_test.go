package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkhasanov/tutorbook/internal/apperr"
	"github.com/mkhasanov/tutorbook/internal/model"
)

// Понедельник; часы тестов выставлены за двое суток до него,
// чтобы запас по advance_booking_hours всегда выполнялся
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func mondaySchedule() []model.DaySchedule {
	return []model.DaySchedule{
		{
			Date: monday,
			Windows: []model.TimeWindow{
				{StartMin: 9 * 60, EndMin: 12 * 60},
				{StartMin: 14 * 60, EndMin: 17 * 60},
			},
		},
	}
}

func TestSaveWeekPersistsAndEmitsEvent(t *testing.T) {
	e := newEnv(monday.Add(-48 * time.Hour))
	ctx := context.Background()

	err := e.engine.SaveWeek(ctx, 1, monday, mondaySchedule(), true)
	require.NoError(t, err)
	require.NotNil(t, e.tx.last)
	assert.True(t, e.tx.last.committed)

	week, err := e.engine.GetWeek(ctx, 1, monday)
	require.NoError(t, err)
	require.Len(t, week, 7)
	assert.Equal(t, []model.TimeWindow{
		{StartMin: 9 * 60, EndMin: 12 * 60},
		{StartMin: 14 * 60, EndMin: 17 * 60},
	}, week[0].Windows)

	events := e.outbox.byType(model.EventWeekSaved)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].DedupeKey)
}

func TestSaveWeekIdempotent(t *testing.T) {
	e := newEnv(monday.Add(-48 * time.Hour))
	ctx := context.Background()

	require.NoError(t, e.engine.SaveWeek(ctx, 1, monday, mondaySchedule(), true))
	first, err := e.avail.GetDay(ctx, 1, monday)
	require.NoError(t, err)

	require.NoError(t, e.engine.SaveWeek(ctx, 1, monday, mondaySchedule(), true))
	second, err := e.avail.GetDay(ctx, 1, monday)
	require.NoError(t, err)

	assert.Equal(t, first.Bits, second.Bits)
}

func TestSaveWeekMergeMode(t *testing.T) {
	e := newEnv(monday.Add(-48 * time.Hour))
	ctx := context.Background()

	require.NoError(t, e.engine.SaveWeek(ctx, 1, monday, mondaySchedule(), true))

	extra := []model.DaySchedule{
		{Date: monday, Windows: []model.TimeWindow{{StartMin: 18 * 60, EndMin: 20 * 60}}},
	}
	require.NoError(t, e.engine.SaveWeek(ctx, 1, monday, extra, false))

	week, err := e.engine.GetWeek(ctx, 1, monday)
	require.NoError(t, err)
	assert.Equal(t, []model.TimeWindow{
		{StartMin: 9 * 60, EndMin: 12 * 60},
		{StartMin: 14 * 60, EndMin: 17 * 60},
		{StartMin: 18 * 60, EndMin: 20 * 60},
	}, week[0].Windows)
}

func TestSaveWeekRejectsBookingOutsideNewWindows(t *testing.T) {
	e := newEnv(monday.Add(-48 * time.Hour))
	ctx := context.Background()

	require.NoError(t, e.engine.SaveWeek(ctx, 1, monday, mondaySchedule(), true))
	_, err := e.lifecycle.CreateBooking(ctx, CreateBookingRequest{
		StudentID: 10, InstructorID: 1, ServiceID: 1,
		Date: monday, StartMin: 9 * 60, EndMin: 10 * 60, AmountCents: 5000,
	})
	require.NoError(t, err)

	// Новое расписание не покрывает занятые 09:00-10:00
	shrunk := []model.DaySchedule{
		{Date: monday, Windows: []model.TimeWindow{{StartMin: 14 * 60, EndMin: 17 * 60}}},
	}
	err = e.engine.SaveWeek(ctx, 1, monday, shrunk, true)
	assert.ErrorIs(t, err, apperr.ErrSlotBooked)
	assert.True(t, e.tx.last.rolledBack)
	assert.False(t, e.tx.last.committed)
}

func TestSaveWeekValidation(t *testing.T) {
	e := newEnv(monday.Add(-48 * time.Hour))
	ctx := context.Background()

	bad := []model.DaySchedule{
		{Date: monday, Windows: []model.TimeWindow{{StartMin: 10 * 60, EndMin: 9 * 60}}},
	}
	assert.ErrorIs(t, e.engine.SaveWeek(ctx, 1, monday, bad, true), apperr.ErrValidation)

	outside := []model.DaySchedule{
		{Date: monday.AddDate(0, 0, 9), Windows: []model.TimeWindow{{StartMin: 9 * 60, EndMin: 10 * 60}}},
	}
	assert.ErrorIs(t, e.engine.SaveWeek(ctx, 1, monday, outside, true), apperr.ErrValidation)

	assert.ErrorIs(t, e.engine.SaveWeek(ctx, 1, monday, nil, true), apperr.ErrValidation)
}

func TestCopyWeekCopiesWindows(t *testing.T) {
	e := newEnv(monday.Add(-48 * time.Hour))
	ctx := context.Background()

	require.NoError(t, e.engine.SaveWeek(ctx, 1, monday, mondaySchedule(), true))

	nextWeek := monday.AddDate(0, 0, 7)
	require.NoError(t, e.engine.CopyWeek(ctx, 1, monday, nextWeek))

	week, err := e.engine.GetWeek(ctx, 1, nextWeek)
	require.NoError(t, err)
	assert.Equal(t, []model.TimeWindow{
		{StartMin: 9 * 60, EndMin: 12 * 60},
		{StartMin: 14 * 60, EndMin: 17 * 60},
	}, week[0].Windows)

	assert.Len(t, e.outbox.byType(model.EventWeekCopied), 1)
}

func TestCopyWeekValidatesDestinationBookings(t *testing.T) {
	e := newEnv(monday.Add(-48 * time.Hour))
	ctx := context.Background()

	require.NoError(t, e.engine.SaveWeek(ctx, 1, monday, mondaySchedule(), true))

	// На неделе назначения уже есть занятие вне копируемых окон
	nextWeek := monday.AddDate(0, 0, 7)
	wide := []model.DaySchedule{
		{Date: nextWeek, Windows: []model.TimeWindow{{StartMin: 7 * 60, EndMin: 12 * 60}}},
	}
	require.NoError(t, e.engine.SaveWeek(ctx, 1, nextWeek, wide, true))
	_, err := e.lifecycle.CreateBooking(ctx, CreateBookingRequest{
		StudentID: 10, InstructorID: 1, ServiceID: 1,
		Date: nextWeek, StartMin: 7 * 60, EndMin: 8 * 60, AmountCents: 5000,
	})
	require.NoError(t, err)

	err = e.engine.CopyWeek(ctx, 1, monday, nextWeek)
	assert.ErrorIs(t, err, apperr.ErrSlotBooked)
}

func TestCopyWeekMissingSource(t *testing.T) {
	e := newEnv(monday.Add(-48 * time.Hour))
	err := e.engine.CopyWeek(context.Background(), 1, monday, monday.AddDate(0, 0, 7))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// Расписание одного инструктора не должно просачиваться к другому:
// ни в просмотр недели, ни в проверку доступности при бронировании
func TestWeekIsolatedPerInstructor(t *testing.T) {
	e := newEnv(monday.Add(-48 * time.Hour))
	ctx := context.Background()

	require.NoError(t, e.engine.SaveWeek(ctx, 1, monday, mondaySchedule(), true))

	week, err := e.engine.GetWeek(ctx, 2, monday)
	require.NoError(t, err)
	for _, day := range week {
		assert.Empty(t, day.Windows)
	}

	_, err = e.lifecycle.CreateBooking(ctx, CreateBookingRequest{
		StudentID: 10, InstructorID: 2, ServiceID: 1,
		Date: monday, StartMin: 9 * 60, EndMin: 10 * 60, AmountCents: 5000,
	})
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
}

func TestGetWeekMidnightWindow(t *testing.T) {
	e := newEnv(monday.Add(-48 * time.Hour))
	ctx := context.Background()

	days := []model.DaySchedule{
		{Date: monday, Windows: []model.TimeWindow{{StartMin: 20 * 60, EndMin: 24 * 60}}},
	}
	require.NoError(t, e.engine.SaveWeek(ctx, 1, monday, days, true))

	week, err := e.engine.GetWeek(ctx, 1, monday)
	require.NoError(t, err)
	assert.Equal(t, []model.TimeWindow{{StartMin: 20 * 60, EndMin: 24 * 60}}, week[0].Windows)
	// Окно до полуночи не должно заворачиваться на начало дня
	assert.NotEqual(t, 0, week[0].Windows[0].StartMin)
}
