package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkhasanov/tutorbook/internal/apperr"
)

func newTestLocker(t *testing.T) (*RedisLocker, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	l := NewRedisLocker(client)
	l.newToken = func() string { return "token-1" }
	return l, mock
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	l, mock := newTestLocker(t)
	key := BookingKey(42)

	mock.ExpectSetNX(key, "token-1", DefaultTTL).SetVal(true)
	mock.ExpectEvalSha(releaseScript.Hash(), []string{key}, "token-1").SetVal(int64(1))

	ok, err := l.Acquire(context.Background(), key, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Release(context.Background(), key))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_AcquireTimesOutWhenHeld(t *testing.T) {
	l, mock := newTestLocker(t)
	key := BookingKey(42)

	// Замок занят другим процессом: SetNX отвечает false до истечения таймаута
	mock.ExpectSetNX(key, "token-1", DefaultTTL).SetVal(false)

	ok, err := l.Acquire(context.Background(), key, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "timeout must surface as false, not as an error")
}

func TestRedisLocker_AcquirePropagatesRedisError(t *testing.T) {
	l, mock := newTestLocker(t)
	key := BookingKey(7)

	mock.ExpectSetNX(key, "token-1", DefaultTTL).SetErr(errors.New("connection refused"))

	_, err := l.Acquire(context.Background(), key, time.Second)
	assert.Error(t, err)
}

func TestRedisLocker_ReleaseWithoutAcquireIsNoop(t *testing.T) {
	l, mock := newTestLocker(t)

	require.NoError(t, l.Release(context.Background(), BookingKey(99)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLock_RunsFnAndReleases(t *testing.T) {
	l, mock := newTestLocker(t)
	key := BookingKey(1)

	mock.ExpectSetNX(key, "token-1", DefaultTTL).SetVal(true)
	mock.ExpectEvalSha(releaseScript.Hash(), []string{key}, "token-1").SetVal(int64(1))

	ran := false
	err := WithLock(context.Background(), l, key, time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLock_ReleasesOnBusinessError(t *testing.T) {
	l, mock := newTestLocker(t)
	key := BookingKey(1)

	mock.ExpectSetNX(key, "token-1", DefaultTTL).SetVal(true)
	mock.ExpectEvalSha(releaseScript.Hash(), []string{key}, "token-1").SetVal(int64(1))

	wantErr := errors.New("business rule failed")
	err := WithLock(context.Background(), l, key, time.Second, func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.NoError(t, mock.ExpectationsWereMet(), "lock must be released even on failure")
}

func TestWithLock_BusyLockIsRetryable(t *testing.T) {
	l, mock := newTestLocker(t)
	key := BookingKey(1)

	mock.ExpectSetNX(key, "token-1", DefaultTTL).SetVal(false)

	err := WithLock(context.Background(), l, key, 10*time.Millisecond, func(ctx context.Context) error {
		t.Fatal("fn must not run when the lock is busy")
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrLockBusy)
}
