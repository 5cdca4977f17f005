// Package ratelimit throttles requests per user per minute. It is separate
// from the ledger quotas: a throttled request never reaches a provider and
// uses none of the user's quota.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Window is the throttle window. Clients are told to retry after whatever
// is left of it.
const Window = time.Minute

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter. A nil
// *Limiter allows everything.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, requestsPerMinute int) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(requestsPerMinute),
		extratelimit.WithWindow(Window),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(userID string) string {
	return fmt.Sprintf("ratelimit:user:%s", userID)
}

// Allow takes one request from userID's window. A nil *Limiter always
// allows.
func (l *Limiter) Allow(ctx context.Context, userID string) (*extratelimit.Result, error) {
	if l == nil {
		return &extratelimit.Result{Allowed: true}, nil
	}
	return l.store.Allow(ctx, key(userID))
}

// RetryAfter is how long a throttled caller should wait, rounded up to whole
// seconds. A backend that reports no reset time gets the full Window.
func RetryAfter(res *extratelimit.Result) time.Duration {
	if res == nil || res.ResetAfter <= 0 {
		return Window
	}
	secs := (res.ResetAfter + time.Second - 1) / time.Second
	return secs * time.Second
}
