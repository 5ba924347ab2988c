package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	apperrors "github.com/zzxzyz/ai-meeting-sub001/pkg/errors"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/httputil"
	"github.com/zzxzyz/ai-meeting-sub001/pkg/logger"
)

// Limiter decides whether the caller identified by key may proceed.
// retryAfter is a hint for rejected callers.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// fixedWindowScript increments the window counter and returns
// {allowed, pttl}. The expiry is set only when the window opens.
const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if current > tonumber(ARGV[2]) then
  return {0, ttl}
end
return {1, ttl}
`

// RedisLimiter is a fixed-window limiter shared by every replica.
type RedisLimiter struct {
	client  redis.Scripter
	script  *redis.Script
	prefix  string
	limit   int
	window  time.Duration
	timeout time.Duration
}

// NewRedisLimiter allows limit requests per window per key.
func NewRedisLimiter(client redis.Scripter, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:  client,
		script:  redis.NewScript(fixedWindowScript),
		prefix:  prefix,
		limit:   limit,
		window:  window,
		timeout: 250 * time.Millisecond,
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.limit <= 0 || l.window <= 0 {
		return true, 0, nil
	}
	ttl := l.window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	res, err := l.script.Run(ctx, l.client, []string{l.prefix + key}, ttl, l.limit).Int64Slice()
	if err != nil {
		return true, 0, fmt.Errorf("run rate limit script: %w", err)
	}
	if len(res) != 2 {
		return true, 0, fmt.Errorf("unexpected rate limit reply length %d", len(res))
	}
	return res[0] == 1, time.Duration(max(res[1], 0)) * time.Millisecond, nil
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is an in-process token bucket per key. It is used when Redis
// is not configured; limits are then per replica.
type LocalLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

// NewLocalLimiter allows limit requests per window per key with a burst of
// limit.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(limit) / window.Seconds()),
		burst:    limit,
		ttl:      max(window, 3*time.Minute),
		now:      time.Now,
	}
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now

	res := v.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

// Cleanup evicts keys not seen within the idle TTL.
func (l *LocalLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, key)
		}
	}
}

// Run evicts idle keys periodically until ctx is done.
func (l *LocalLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

func (l *LocalLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// RateLimit rejects requests over the limiter's budget with 429. The key is
// the client IP plus the route, so login attempts do not consume the refresh
// budget. Limiter errors fail open.
func RateLimit(limiter Limiter, fallback *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			key := ip + ":" + r.Method + ":" + r.URL.Path

			allowed, retryAfter, err := limiter.Allow(r.Context(), key)
			if err != nil {
				l := logger.FromContext(r.Context())
				if l == slog.Default() && fallback != nil {
					l = fallback
				}
				l.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					slog.String("error", err.Error()),
				)
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				}
				httputil.WriteError(w, r, apperrors.TooManyRequests("too many requests"), fallback)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
