package nslock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maistro-platform/maistro/internal/memory"
)

// releaseScript deletes the lease only if the caller still holds it, so a
// slow holder whose lease expired cannot release someone else's.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisLocker implements Locker as a Redis lease: SET NX PX with a random
// token, polled until granted, released via a token-checked script. The
// TTL bounds how long a crashed holder can block a namespace.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client redis.Cmdable, ttl, retry time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retry: retry}
}

func lockKey(ns memory.Namespace) string {
	return "nslock:" + ns.String()
}

func (l *RedisLocker) Acquire(ctx context.Context, ns memory.Namespace) (func(), error) {
	key := lockKey(ns)
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lease for %s: %w", ns, err)
		}
		if ok {
			release := func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
			}
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
