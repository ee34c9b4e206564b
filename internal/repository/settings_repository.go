package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkhasanov/tutorbook/internal/model"
	"github.com/mkhasanov/tutorbook/internal/repository/base"
)

// Дефолтная политика для инструкторов без сохранённых настроек
var defaultSettings = model.InstructorSettings{
	AdvanceBookingHours:     12,
	BufferMinutes:           0,
	AutoAccept:              true,
	CancellationWindowHours: 24,
}

type SettingsRepository struct {
	*base.Repository
}

func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{Repository: base.NewRepository(pool)}
}

// Get читает политику бронирования инструктора; при отсутствии записи
// возвращает дефолты
func (r *SettingsRepository) Get(ctx context.Context, instructorID int64) (*model.InstructorSettings, error) {
	query := `
		SELECT instructor_id, advance_booking_hours, buffer_minutes,
		       auto_accept, cancellation_window_hours
		FROM instructor_settings
		WHERE instructor_id = $1
	`

	var s model.InstructorSettings
	err := r.QueryRow(ctx, query, instructorID).Scan(
		&s.InstructorID,
		&s.AdvanceBookingHours,
		&s.BufferMinutes,
		&s.AutoAccept,
		&s.CancellationWindowHours,
	)

	if err != nil {
		if base.IsNotFound(err) {
			defaults := defaultSettings
			defaults.InstructorID = instructorID
			return &defaults, nil
		}
		return nil, fmt.Errorf("get instructor settings: %w", err)
	}

	return &s, nil
}
