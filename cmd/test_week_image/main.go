package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mkhasanov/tutorbook/internal/model"
	"github.com/mkhasanov/tutorbook/internal/render"
)

func main() {
	// Создаем тестовые данные
	now := time.Now()
	weekStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	// Начинаем с понедельника текущей недели
	for weekStart.Weekday() != time.Monday {
		weekStart = weekStart.AddDate(0, 0, -1)
	}

	days := []model.DaySchedule{
		// Понедельник: утро и вторая половина дня
		{
			Date: weekStart,
			Windows: []model.TimeWindow{
				{StartMin: 9 * 60, EndMin: 12 * 60},
				{StartMin: 14 * 60, EndMin: 17 * 60},
			},
		},
		// Вторник
		{
			Date: weekStart.AddDate(0, 0, 1),
			Windows: []model.TimeWindow{
				{StartMin: 10 * 60, EndMin: 13 * 60},
			},
		},
		// Четверг: окно до полуночи
		{
			Date: weekStart.AddDate(0, 0, 3),
			Windows: []model.TimeWindow{
				{StartMin: 20 * 60, EndMin: 24 * 60},
			},
		},
	}

	bookings := []*model.Booking{
		{
			ID:           1,
			InstructorID: 1,
			Date:         weekStart,
			StartMin:     9 * 60,
			EndMin:       10 * 60,
			Status:       model.BookingStatusConfirmed,
		},
		{
			ID:           2,
			InstructorID: 1,
			Date:         weekStart.AddDate(0, 0, 1),
			StartMin:     11 * 60,
			EndMin:       12 * 60,
			Status:       model.BookingStatusConfirmed,
		},
	}

	png, err := render.WeekPNG(weekStart, days, bookings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "render week image: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile("week.png", png, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write week.png: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("week.png written")
}
