package dialoginfra

import (
	"context"
	"log"
	"time"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	defaultLockTTL   = 30 * time.Second
	lockRetryBackoff = 50 * time.Millisecond
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializa turnos entre réplicas con SET NX PX.
type RedisLocker struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

var _ dialog.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{redis: client, prefix: prefix, ttl: ttl}
}

// Lock waits until the lock is free or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (dialog.Unlock, error) {
	lockKey := l.prefix + ":lock:" + key
	token := uuid.New().String()

	for {
		ok, err := l.redis.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, errx.Wrap(err, "failed to acquire conversation lock", errx.TypeInternal).
				WithDetail("conversation", key)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, dialog.ErrConversationLocked().
				WithDetail("conversation", key).
				WithCause(ctx.Err())
		case <-time.After(lockRetryBackoff):
		}
	}

	return func() {
		// released with a fresh context so a cancelled turn still unlocks
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.redis, []string{lockKey}, token).Err(); err != nil && err != redis.Nil {
			log.Printf("⚠️  Failed to release lock %s: %v", lockKey, err)
		}
	}, nil
}
