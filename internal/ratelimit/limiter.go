// Package ratelimit provides Redis-backed sliding-window rate limiting for
// the public OAuth endpoints.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mcp-memory-gateway/internal/config"
	"mcp-memory-gateway/internal/logging"
)

// slidingWindowScript counts requests in a rolling window atomically.
// KEYS[1]: limit key, ARGV[1]: limit, ARGV[2]: window ms, ARGV[3]: now ms.
const slidingWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local current = redis.call('ZCARD', key)

if current < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random())
    redis.call('EXPIRE', key, math.ceil(window / 1000))
    return {1, current + 1}
end
return {0, current}
`

// Limiter enforces a per-client request budget over a sliding window.
// Redis failures fail open: an unreachable limiter must not take the auth
// endpoints down with it.
type Limiter struct {
	client *redis.Client
	script *redis.Script
	limit  int
	window time.Duration
	logger logging.Logger
}

// NewLimiter connects to Redis and verifies the connection.
func NewLimiter(cfg *config.RedisConfig) (*Limiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	return &Limiter{
		client: client,
		script: redis.NewScript(slidingWindowScript),
		limit:  cfg.RateLimit,
		window: time.Duration(cfg.RateWindow) * time.Second,
		logger: logging.WithComponent("ratelimit"),
	}, nil
}

// Allow reports whether the key may make another request in the current
// window. Errors talking to Redis allow the request through.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixMilli()
	result, err := l.script.Run(ctx, l.client, []string{"ratelimit:" + key},
		l.limit, l.window.Milliseconds(), now).Result()
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit check failed, allowing request",
			"error", err.Error())
		return true, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) < 1 {
		return true, fmt.Errorf("unexpected script result %T", result)
	}
	allowed, _ := values[0].(int64)
	return allowed == 1, nil
}

// Close releases the Redis connection.
func (l *Limiter) Close() error {
	return l.client.Close()
}

// Middleware rate limits by client IP and answers over-budget requests with
// 429 and a Retry-After hint.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, _ := l.Allow(r.Context(), clientIP(r))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
