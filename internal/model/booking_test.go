package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOverlapsHalfOpen(t *testing.T) {
	b := &Booking{StartMin: 9 * 60, EndMin: 10 * 60}

	assert.True(t, b.Overlaps(9*60+30, 10*60+30))
	assert.True(t, b.Overlaps(8*60, 12*60)) // полностью накрывает
	assert.True(t, b.Overlaps(9*60+15, 9*60+45))

	// Встык - не пересечение
	assert.False(t, b.Overlaps(10*60, 11*60))
	assert.False(t, b.Overlaps(8*60, 9*60))
	assert.False(t, b.Overlaps(12*60, 13*60))
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, BookingStatusPending.IsTerminal())
	assert.False(t, BookingStatusConfirmed.IsTerminal())
	assert.True(t, BookingStatusCompleted.IsTerminal())
	assert.True(t, BookingStatusCancelled.IsTerminal())
	assert.True(t, BookingStatusNoShow.IsTerminal())
}

func TestStartEndAt(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	b := &Booking{Date: date, StartMin: 9 * 60, EndMin: 10*60 + 30}

	assert.Equal(t, date.Add(9*time.Hour), b.StartAt())
	assert.Equal(t, date.Add(10*time.Hour+30*time.Minute), b.EndAt())
	assert.Equal(t, 90, b.DurationMinutes())
}
