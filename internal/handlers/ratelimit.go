package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qrpass/apiserver/internal/metrics"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RateLimiter takes one token from the bucket identified by key.
type RateLimiter interface {
	Take(ctx context.Context, key string, now time.Time) (Decision, error)
}

// tokenBucketScript refills continuously at rate tokens per second.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local rate_per_ms = tonumber(ARGV[3])
	local ttl_seconds = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	local elapsed = math.max(0, now_ms - last_refill)
	tokens = math.min(capacity, tokens + elapsed * rate_per_ms)
	last_refill = now_ms

	local allowed = 0
	local retry_after_ms = 0
	if tokens >= 1 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_after_ms = math.ceil((1 - tokens) / rate_per_ms)
	end

	redis.call('HSET', key, 'tokens', tostring(tokens), 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, math.floor(tokens), retry_after_ms }
`)

// RedisLimiter is a token bucket kept in Redis.
type RedisLimiter struct {
	client   redis.Scripter
	prefix   string
	capacity int
	rate     float64
	ttl      time.Duration
}

// NewRedisLimiter returns a limiter allowing bursts of capacity requests,
// refilled at rate tokens per second.
func NewRedisLimiter(client redis.Scripter, capacity int, rate float64) *RedisLimiter {
	if capacity < 1 {
		capacity = 1
	}
	if rate <= 0 {
		rate = 1
	}
	// Keep idle buckets until they would be full again.
	ttl := time.Duration(float64(capacity)/rate*float64(time.Second)) + time.Minute
	return &RedisLimiter{
		client:   client,
		prefix:   "rl",
		capacity: capacity,
		rate:     rate,
		ttl:      ttl,
	}
}

// Capacity returns the bucket size.
func (l *RedisLimiter) Capacity() int {
	return l.capacity
}

func (l *RedisLimiter) Take(ctx context.Context, key string, now time.Time) (Decision, error) {
	args := []any{
		now.UnixMilli(),
		l.capacity,
		l.rate / 1000,
		int64(l.ttl / time.Second),
	}
	vals, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, args...).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit result: %v", vals)
	}
	return Decision{
		Allowed:    vals[0] == 1,
		Remaining:  vals[1],
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// RateLimit builds middleware that limits requests per client address on
// route. Limiter errors let the request through.
func RateLimit(limiter RateLimiter, capacity int, route string, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := route + ":" + clientIP(r)
			decision, err := limiter.Take(r.Context(), key, time.Now())
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable", "route", route, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(capacity))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			if !decision.Allowed {
				secs := int(math.Ceil(decision.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				m.ObserveRateLimited(route)
				logger.InfoContext(r.Context(), "rate limit exceeded", "route", route, "key", key)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the request's remote host. chi's RealIP middleware has
// already applied forwarding headers when installed.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}
