package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("doctor schedule lock not acquired")
)

// Locker is used by the appointment service to serialize the
// validate-then-write section for one doctor's calendar.
type Locker interface {
	WithDoctorLock(ctx context.Context, clinic string, doctorID int64, fn func(ctx context.Context) error) error
}

type redisDoctorLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDoctorLocker creates a locker that uses a per doctor Redis key
func NewRedisDoctorLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisDoctorLocker{
		client: client,
		ttl:    ttl,
	}
}

func LockKey(clinic string, doctorID int64) string {
	return fmt.Sprintf("lock:clinic:%s:doctor:%d", clinic, doctorID)
}

func (l *redisDoctorLocker) WithDoctorLock(ctx context.Context, clinic string, doctorID int64, fn func(ctx context.Context) error) error {
	key := LockKey(clinic, doctorID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire doctor lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDoctorLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor lock: %w", err)
	}
	return nil
}

// NopLocker runs fn without any coordination. Used when locking is disabled.
type NopLocker struct{}

func (NopLocker) WithDoctorLock(ctx context.Context, _ string, _ int64, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
