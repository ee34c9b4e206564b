package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkhasanov/tutorbook/internal/model"
	"github.com/mkhasanov/tutorbook/internal/repository/base"
)

type AvailabilityRepository struct {
	*base.Repository
}

func NewAvailabilityRepository(pool *pgxpool.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{Repository: base.NewRepository(pool)}
}

// GetDay получает битовую карту дня. Записи нет - возвращает nil, nil:
// день без записи означает "ничего не опубликовано".
func (r *AvailabilityRepository) GetDay(ctx context.Context, instructorID int64, date time.Time) (*model.DayAvailability, error) {
	query := `
		SELECT instructor_id, date, bits, created_at, updated_at
		FROM day_availability
		WHERE instructor_id = $1 AND date = $2
	`

	var day model.DayAvailability
	err := r.QueryRow(ctx, query, instructorID, date).Scan(
		&day.InstructorID,
		&day.Date,
		&day.Bits,
		&day.CreatedAt,
		&day.UpdatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get day availability: %w", err)
	}

	return &day, nil
}

// GetRange получает карты за диапазон дат [from, to]
func (r *AvailabilityRepository) GetRange(ctx context.Context, instructorID int64, from, to time.Time) ([]*model.DayAvailability, error) {
	query := `
		SELECT instructor_id, date, bits, created_at, updated_at
		FROM day_availability
		WHERE instructor_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`

	rows, err := r.Query(ctx, query, instructorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get availability range: %w", err)
	}
	defer rows.Close()

	var days []*model.DayAvailability
	for rows.Next() {
		var day model.DayAvailability
		err := rows.Scan(
			&day.InstructorID,
			&day.Date,
			&day.Bits,
			&day.CreatedAt,
			&day.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan day availability: %w", err)
		}
		days = append(days, &day)
	}

	return days, nil
}

// GetDayForUpdate читает биты дня под блокировкой строки внутри транзакции недели.
// Отсутствие записи - не ошибка, вернётся nil.
func (r *AvailabilityRepository) GetDayForUpdate(ctx context.Context, q Querier, instructorID int64, date time.Time) ([]byte, error) {
	query := `
		SELECT bits
		FROM day_availability
		WHERE instructor_id = $1 AND date = $2
		FOR UPDATE
	`

	var bits []byte
	err := r.Q(q).QueryRow(ctx, query, instructorID, date).Scan(&bits)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get day bits for update: %w", err)
	}

	return bits, nil
}

// UpsertDay записывает биты дня: создаёт запись при первой записи,
// при последующих полностью заменяет блоб (merge делается в сервисе)
func (r *AvailabilityRepository) UpsertDay(ctx context.Context, q Querier, instructorID int64, date time.Time, bits []byte) error {
	query := `
		INSERT INTO day_availability (instructor_id, date, bits)
		VALUES ($1, $2, $3)
		ON CONFLICT (instructor_id, date)
		DO UPDATE SET bits = EXCLUDED.bits, updated_at = now()
	`

	_, err := r.Q(q).Exec(ctx, query, instructorID, date, bits)
	if err != nil {
		return fmt.Errorf("upsert day availability: %w", err)
	}

	return nil
}
