package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tourneyrating/server/domain"
)

// releaseScript deletes the key only if it still holds the token this
// holder set, so a TryAcquire that outlives its TTL can never delete a
// lock some other process has since acquired.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Redis is a Lock backed by a single Redis SET NX PX key per
// (scope, period), grounded on
// _examples/jason-s-yu-cambia-service/internal/cache/redis.go's client
// wiring.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an already-connected go-redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("acquire lock %q: %w", key, domain.ErrStoreUnavailable)
	}
	if !ok {
		return false, nil, nil
	}
	release := func(ctx context.Context) error {
		_, err := r.client.Eval(ctx, releaseScript, []string{key}, token).Result()
		return err
	}
	return true, release, nil
}
