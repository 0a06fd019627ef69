// Package lock provides the cross-process advisory lock spec.md §5
// requires: two processes racing to recompute the same (scope, period)
// must have exactly one of them proceed. Grounded on
// _examples/jason-s-yu-cambia-service's internal/cache/redis.go for the
// go-redis/v9 client shape and connection lifecycle.
package lock

import (
	"context"
	"time"

	"tourneyrating/server/domain"
)

// Lock is a keyed, time-bounded mutual exclusion primitive. TryAcquire
// returns held=false (no error) when another holder already has the
// key — that is the expected, non-exceptional outcome of a race, not a
// failure. release is non-nil only when held is true.
type Lock interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (held bool, release func(context.Context) error, err error)
}

// Key builds the advisory lock key for a (scope, period) recompute run.
func Key(scope domain.Scope, period domain.Month) string {
	return "tourneyrating:recompute:" + scope.Key() + ":" + period.String()
}
