package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL ограничивает время жизни замка: упавший держатель
	// не оставит бронирование заблокированным навсегда
	DefaultTTL = 30 * time.Second
	// pollInterval - пауза между повторными попытками SetNX
	pollInterval = 50 * time.Millisecond
)

// releaseScript удаляет ключ только если токен совпадает,
// чтобы не снять чужой замок после истечения собственного TTL
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker - реализация Locker на Redis SET NX + TTL
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string // ключ -> токен, выданный этим процессом

	newToken func() string
}

func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{
		client:   client,
		ttl:      DefaultTTL,
		tokens:   make(map[string]string),
		newToken: uuid.NewString,
	}
}

// Acquire пытается взять замок, опрашивая SetNX до истечения таймаута.
// false означает "замок занят", это не ошибка.
func (l *RedisLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	token := l.newToken()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("setnx %s: %w", key, err)
		}
		if ok {
			l.mu.Lock()
			l.tokens[key] = token
			l.mu.Unlock()
			return true, nil
		}
		if !time.Now().Add(pollInterval).Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release снимает замок, если он всё ещё принадлежит этому процессу
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
