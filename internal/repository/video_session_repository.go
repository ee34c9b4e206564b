package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkhasanov/tutorbook/internal/repository/base"
	"github.com/mkhasanov/tutorbook/internal/video"
)

// VideoSessionRepository отдаёт журнал присоединений к видеосессии занятия.
// Таймстемпы пишет интеграция с видеопровайдером, здесь только чтение.
type VideoSessionRepository struct {
	*base.Repository
}

func NewVideoSessionRepository(pool *pgxpool.Pool) *VideoSessionRepository {
	return &VideoSessionRepository{Repository: base.NewRepository(pool)}
}

// JoinLog возвращает, кто и когда присоединился к занятию.
// Сессии нет - значит не присоединился никто.
func (r *VideoSessionRepository) JoinLog(ctx context.Context, bookingID int64) (*video.JoinLog, error) {
	query := `
		SELECT student_joined_at, instructor_joined_at
		FROM video_sessions
		WHERE booking_id = $1
	`

	var log video.JoinLog
	err := r.QueryRow(ctx, query, bookingID).Scan(&log.StudentJoinedAt, &log.InstructorJoinedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return &video.JoinLog{}, nil
		}
		return nil, fmt.Errorf("get video join log: %w", err)
	}

	return &log, nil
}
