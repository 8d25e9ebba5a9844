package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
	}
}

// RateLimiter is a fixed-window counter shared by every instance through
// Redis. It only throttles requests and never stores authorization state.
type RateLimiter struct {
	redis   *redis.Client
	config  *RateLimitConfig
	prefix  string
	metrics *observability.Metrics
}

// NewRateLimiter creates a new Redis-backed rate limiter
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &RateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// WithMetrics attaches the rate-limited counter
func (rl *RateLimiter) WithMetrics(metrics *observability.Metrics) *RateLimiter {
	rl.metrics = metrics
	return rl
}

func (rl *RateLimiter) redisKey(key string) string {
	return rl.prefix + ":" + key
}

// window is the state of one key's fixed window after a request was counted
type window struct {
	count int64
	ttl   time.Duration
}

func (w window) remaining(limit int) int {
	if left := int64(limit) - w.count; left > 0 {
		return int(left)
	}
	return 0
}

// take counts one request against key. INCR and PTTL run in one
// transaction; a key without expiry starts a new window.
func (rl *RateLimiter) take(ctx context.Context, key string) (window, error) {
	redisKey := rl.redisKey(key)

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return window{}, fmt.Errorf("redis error: %w", err)
	}

	w := window{count: incr.Val(), ttl: pttl.Val()}
	if w.ttl < 0 {
		if err := rl.redis.PExpire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return w, fmt.Errorf("redis error: %w", err)
		}
		w.ttl = rl.config.WindowDuration
	}
	return w, nil
}

// Allow counts a request against key. On Redis errors it fails open and
// returns the error for logging.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	w, err := rl.take(ctx, key)
	if err != nil {
		return true, err
	}
	return w.count <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the number of requests key may still make in its window
func (rl *RateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.redisKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return rl.config.RequestsPerWindow, nil
	}
	if err != nil {
		return 0, err
	}
	return window{count: count}.remaining(rl.config.RequestsPerWindow), nil
}

// Reset clears the counter of key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.redisKey(key)).Err()
}

// limitKey identifies the caller: the user when authenticated, the client
// address otherwise
func limitKey(r *http.Request) string {
	if authCtx := GetAuthContext(r); authCtx != nil && authCtx.User != nil {
		return "user:" + userIDString(authCtx.User.ID)
	}
	return "ip:" + auth.ClientIP(r)
}

// Middleware enforces the limit per caller and reports it in
// X-RateLimit-* headers
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limit := rl.config.RequestsPerWindow
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))

		win, err := rl.take(ctx, limitKey(r))
		if err != nil {
			observability.FromContext(ctx).WithError(err).Warn("rate limiter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(win.remaining(limit)))
		if win.count > int64(limit) {
			rl.metrics.RecordRateLimited()
			retry := int((win.ttl + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
