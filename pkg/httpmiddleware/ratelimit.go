package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each sliding window.
	Window time.Duration
	// Prefix namespaces the Redis keys. Defaults to "kart:rl".
	Prefix string
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
}

// slidingWindow counts requests in two adjacent fixed windows and weights the
// previous one by how much of it still overlaps the sliding window. A request
// over the limit is not counted.
//
// KEYS[1] current window counter, KEYS[2] previous window counter.
// ARGV[1] max, ARGV[2] previous window weight, ARGV[3] counter TTL in ms.
var slidingWindow = redis.NewScript(`
local curr = tonumber(redis.call('GET', KEYS[1]) or '0')
local prev = tonumber(redis.call('GET', KEYS[2]) or '0')
local max = tonumber(ARGV[1])
local weight = tonumber(ARGV[2])
if prev * weight + curr >= max then
  return {0, tostring(prev * weight + curr)}
end
curr = redis.call('INCR', KEYS[1])
if curr == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {1, tostring(prev * weight + curr)}
`)

// rateLimiter keeps its counters in Redis so every replica shares the limit.
type rateLimiter struct {
	cfg    RateLimitConfig
	client redis.Scripter
	now    func() time.Time
}

func newRateLimiter(client redis.Scripter, cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = defaultKeyFunc
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "kart:rl"
	}
	return &rateLimiter{cfg: cfg, client: client, now: time.Now}
}

// allow checks whether the request identified by key is within the rate limit.
// It returns the remaining request count, the window reset time, and whether
// the request is allowed.
func (rl *rateLimiter) allow(ctx context.Context, key string, now time.Time) (remaining int, resetAt time.Time, allowed bool, err error) {
	currStart := now.Truncate(rl.cfg.Window)
	prevStart := currStart.Add(-rl.cfg.Window)
	resetAt = currStart.Add(rl.cfg.Window)

	elapsed := now.Sub(currStart)
	weight := 1.0 - elapsed.Seconds()/rl.cfg.Window.Seconds()
	if weight < 0 {
		weight = 0
	}

	res, err := slidingWindow.Run(ctx, rl.client,
		[]string{rl.windowKey(key, currStart), rl.windowKey(key, prevStart)},
		rl.cfg.Max,
		strconv.FormatFloat(weight, 'f', 6, 64),
		(2 * rl.cfg.Window).Milliseconds(),
	).Slice()
	if err != nil {
		return 0, resetAt, false, errors.Wrap(err, "run script")
	}
	if len(res) != 2 {
		return 0, resetAt, false, errors.Errorf("unexpected script result %v", res)
	}
	ok, _ := res[0].(int64)
	s, _ := res[1].(string)
	effective, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, resetAt, false, errors.Wrap(err, "parse count")
	}

	remaining = int(float64(rl.cfg.Max) - math.Ceil(effective))
	if remaining < 0 || ok != 1 {
		remaining = 0
	}
	return remaining, resetAt, ok == 1, nil
}

func (rl *rateLimiter) windowKey(key string, start time.Time) string {
	return rl.cfg.Prefix + ":" + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// RateLimit returns a middleware that enforces a per-key sliding window rate
// limit shared through Redis. When the limit is exceeded, it responds with
// 429 Too Many Requests and a JSON body. Every response includes
// X-RateLimit-Limit, X-RateLimit-Remaining, and X-RateLimit-Reset headers.
// If Redis cannot be reached the request is let through.
func RateLimit(client redis.Scripter, cfg RateLimitConfig) Middleware {
	return newRateLimiter(client, cfg).middleware
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.cfg.KeyFunc(r)

		remaining, resetAt, allowed, err := rl.allow(r.Context(), key, rl.now())
		if err != nil {
			zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := resetAt.Sub(rl.now())
			if retryAfter < 0 {
				retryAfter = 0
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeProblem(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// defaultKeyFunc extracts the client IP from the request, checking
// X-Forwarded-For first, then X-Real-IP, then falling back to RemoteAddr.
func defaultKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For may contain a comma-separated list; use the first.
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeProblem(w http.ResponseWriter, status int, kind, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("error", func(e *jx.Encoder) { e.Str(kind) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
