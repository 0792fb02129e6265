package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports a failed Ping.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// RedisCheck issues PING against the cart and rate limit store.
func RedisCheck(c redis.Cmdable) CheckFunc {
	return func(ctx context.Context) error {
		if err := c.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis ping")
		}
		return nil
	}
}

// GoroutineCountCheck reports unhealthy when the number of goroutines
// exceeds threshold, which usually means a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}
