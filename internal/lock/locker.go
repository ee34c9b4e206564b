// Package lock - межпроцессный мьютекс бронирования.
// Для фиксированного ключа все критические секции строго сериализуются
// в порядке захвата; между разными ключами порядок не гарантируется.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/mkhasanov/tutorbook/internal/apperr"
)

// Locker - capability-интерфейс распределённого замка.
// Acquire возвращает false по таймауту, не блокируясь бесконечно:
// вызывающий обязан трактовать false как транзиентное состояние.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// BookingKey возвращает ключ замка для бронирования
func BookingKey(bookingID int64) string {
	return fmt.Sprintf("booking:lock:%d", bookingID)
}

// SlotKey возвращает ключ замка создания бронирования: у нового бронирования
// ещё нет id, поэтому конкурирующие чекауты сериализуются по паре
// (инструктор, дата).
func SlotKey(instructorID int64, date time.Time) string {
	return fmt.Sprintf("booking:create:%d:%s", instructorID, date.Format("2006-01-02"))
}

// WithLock выполняет fn под замком и гарантирует освобождение на любом
// пути выхода: успех, доменная ошибка или паника уровнем выше.
// При невзятии замка возвращает apperr.ErrLockBusy.
func WithLock(ctx context.Context, l Locker, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ok, err := l.Acquire(ctx, key, timeout)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return apperr.LockBusy(key)
	}
	defer func() {
		// Замок снимаем даже если контекст запроса уже отменён
		_ = l.Release(context.WithoutCancel(ctx), key)
	}()
	return fn(ctx)
}
