package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/assetvault/pkg/contextkeys"
	"github.com/platinummonkey/assetvault/pkg/httputil"
	"github.com/platinummonkey/assetvault/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the sustained rate
	RequestsPerWindow int
	WindowDuration    time.Duration
	// BurstSize is allowed on top of RequestsPerWindow
	BurstSize int
}

// Capacity is the most requests a caller can make back to back
func (c *RateLimitConfig) Capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// DefaultRateLimitConfig returns limits for anonymous callers
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerUserRateLimitConfig returns limits for identified callers
func PerUserRateLimitConfig(perMinute int) *RateLimitConfig {
	if perMinute <= 0 {
		perMinute = 1000
	}
	return &RateLimitConfig{
		RequestsPerWindow: perMinute,
		WindowDuration:    time.Minute,
		BurstSize:         perMinute / 20,
	}
}

// Decision is the outcome of counting one request
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // set when denied
}

// Limiter counts requests against a key
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimiter is an in-process token bucket per key. Tokens refill
// continuously at RequestsPerWindow per WindowDuration.
type RateLimiter struct {
	config *RateLimitConfig
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	seen   time.Time
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates an in-process limiter. A nil config uses DefaultRateLimitConfig.
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (rl *RateLimiter) refillRate() float64 {
	return float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds()
}

// Allow takes a token for key. It never returns an error.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	capacity := float64(rl.config.Capacity())

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, seen: now}
		rl.buckets[key] = b
	} else {
		b.tokens = math.Min(capacity, b.tokens+now.Sub(b.seen).Seconds()*rl.refillRate())
		b.seen = now
	}

	d := Decision{Limit: rl.config.RequestsPerWindow}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
		d.Remaining = int(b.tokens)
		return d, nil
	}

	wait := (1 - b.tokens) * rl.config.WindowDuration.Seconds() / float64(rl.config.RequestsPerWindow)
	d.RetryAfter = time.Duration(wait * float64(time.Second))
	return d, nil
}

// Cleanup drops buckets idle for two windows; a dropped bucket is full anyway
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-2 * rl.config.WindowDuration)
	removed := 0
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// DistributedRateLimiter shares fixed-window counters across instances through redis
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

var _ Limiter = (*DistributedRateLimiter)(nil)

// NewDistributedRateLimiter creates a redis-backed limiter
func NewDistributedRateLimiter(client *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "assetvault:ratelimit"
	}
	return &DistributedRateLimiter{redis: client, config: config, prefix: prefix}
}

// Allow increments the window counter for key in one round trip
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := rl.prefix + ":" + key

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, rl.config.WindowDuration)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}

	capacity := int64(rl.config.Capacity())
	count := incr.Val()
	d := Decision{Limit: rl.config.RequestsPerWindow}
	if count <= capacity {
		d.Allowed = true
		d.Remaining = int(capacity - count)
		return d, nil
	}

	d.RetryAfter = ttl.Val()
	if d.RetryAfter <= 0 {
		d.RetryAfter = rl.config.WindowDuration
	}
	return d, nil
}

// RateLimitMiddleware limits requests per caller, or per client IP for
// anonymous requests. Identified callers go through redis when configured and
// fall back to the in-process limiter when redis fails.
type RateLimitMiddleware struct {
	users       *RateLimiter
	anonymous   *RateLimiter
	distributed Limiter
}

// NewRateLimitMiddleware allows perMinute requests per user. redisClient may be nil.
func NewRateLimitMiddleware(perMinute int, redisClient *redis.Client) *RateLimitMiddleware {
	userConfig := PerUserRateLimitConfig(perMinute)
	m := &RateLimitMiddleware{
		users:     NewRateLimiter(userConfig),
		anonymous: NewRateLimiter(DefaultRateLimitConfig()),
	}
	if redisClient != nil {
		m.distributed = NewDistributedRateLimiter(redisClient, userConfig, "assetvault:ratelimit:user")
	}
	return m
}

// StartCleanup runs bucket cleanup for the in-process limiters
func (m *RateLimitMiddleware) StartCleanup(ctx context.Context) {
	m.users.StartCleanup(ctx)
	m.anonymous.StartCleanup(ctx)
}

func (m *RateLimitMiddleware) decide(r *http.Request) Decision {
	ctx := r.Context()
	user := contextkeys.GetUser(ctx)
	if user == nil {
		d, _ := m.anonymous.Allow(ctx, "ip:"+clientIP(r))
		return d
	}

	key := user.ID
	if m.distributed != nil {
		d, err := m.distributed.Allow(ctx, key)
		if err == nil {
			return d
		}
		observability.FromContext(ctx).WithError(err).Warn("distributed rate limit unavailable, using local limiter")
	}
	d, _ := m.users.Allow(ctx, key)
	return d
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := m.decide(r)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		seconds := int(math.Ceil(d.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		h.Set("Retry-After", strconv.Itoa(seconds))
		httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{
			Error: "rate limit exceeded",
			Code:  "rate_limited",
		})
	})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer address
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
