package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only when the caller still holds it, so a
// lock that expired and was re-acquired elsewhere is never released by the
// old owner.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker is a redis SetNX lock guarding scheduler jobs against concurrent
// instances of the service.
type Locker struct {
	client *redis.Client
	log    *zap.Logger
}

func NewLocker(p Params) *Locker {
	return &Locker{client: p.Redis, log: p.Log.Named("ratelimit.locker")}
}

// Acquire takes the named lock for ttl. When redis is unavailable the lock
// is granted; a single-instance deployment must not stall because its
// accelerator is down.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	if l.client == nil {
		return token, true, nil
	}

	ok, err := l.client.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		l.log.Warn("lock acquire failed, proceeding unlocked", zap.String("lock", name), zap.Error(err))
		return token, true, nil
	}
	return token, ok, nil
}

// Release frees the lock if the token still owns it.
func (l *Locker) Release(ctx context.Context, name, token string) error {
	if l.client == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{lockKey(name)}, token).Err()
}

func lockKey(name string) string { return "lock:" + name }
