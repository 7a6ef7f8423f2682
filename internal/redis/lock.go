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
	ErrLockNotAcquired = errors.New("insured lock not acquired")
	// ErrLockUnavailable means Redis could not be asked for the lock; fn did not run.
	ErrLockUnavailable = errors.New("insured lock unavailable")
)

// Locker serialises creation attempts for the same insured across processes.
type Locker interface {
	WithInsuredLock(ctx context.Context, insuredID string, fn func(ctx context.Context) error) error
}

type redisInsuredLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisInsuredLocker creates a locker that uses a per insured Redis key
func NewRedisInsuredLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisInsuredLocker{
		client: client,
		ttl:    ttl,
	}
}

func lockKey(insuredID string) string {
	return fmt.Sprintf("lock:insured:%s", insuredID)
}

func (l *redisInsuredLocker) WithInsuredLock(ctx context.Context, insuredID string, fn func(ctx context.Context) error) error {
	key := lockKey(insuredID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		// release even if ctx was cancelled while fn ran
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
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

func (l *redisInsuredLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release insured lock: %w", err)
	}
	return nil
}
