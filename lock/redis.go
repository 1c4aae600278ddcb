/*
redis.go - Cross-process slot lock over Redis

PURPOSE:
  Narrows the window in which two API instances resolve the same slot at
  the same time. The lock is advisory: the store's unique indexes still
  decide the winner when Redis is down or a lock expires early.

PROTOCOL:
  Lock:   SET lock:<key> <token> NX PX <ttl>
  Unlock: delete only if the value is still our token (Lua compare-and-del)

SEE ALSO:
  - booking/service.go: CreateBooking takes the lock before its transaction
*/
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warp/lesson-booking/generic"
	"go.uber.org/zap"
)

// ErrLocked is returned when another holder owns the key.
var ErrLocked = generic.ErrSlotLocked

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLock struct {
	client redis.UniversalClient
	log    *zap.Logger
}

// NewRedisLock connects to addr and pings it.
func NewRedisLock(ctx context.Context, addr, password string, db int, log *zap.Logger) (*RedisLock, error) {
	const op = "lock.NewRedisLock"

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return NewFromClient(client, log), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client redis.UniversalClient, log *zap.Logger) *RedisLock {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLock{client: client, log: log}
}

// Lock acquires key for ttl. The returned func releases it and is safe to
// call after the lock expired.
func (r *RedisLock) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	const op = "lock.RedisLock.Lock"

	lockKey := "lock:" + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func() {
		// Release even if the request context was cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, r.client, []string{lockKey}, token).Err(); err != nil {
			r.log.Warn("lock release failed", zap.String("key", lockKey), zap.Error(err))
		}
	}, nil
}

func (r *RedisLock) Close() error {
	return r.client.Close()
}
