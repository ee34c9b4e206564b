// Package video - контракт провайдера видео-занятий.
// Ядру нужны только отметки входа участников для атрибуции неявок.
package video

import (
	"context"
	"time"
)

// JoinLog - кто и когда вошёл в видео-комнату занятия.
// nil означает "не входил".
type JoinLog struct {
	StudentJoinedAt    *time.Time
	InstructorJoinedAt *time.Time
}

// Provider - внешний видео-коллаборатор
type Provider interface {
	JoinLog(ctx context.Context, bookingID int64) (*JoinLog, error)
}
