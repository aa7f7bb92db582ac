package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/config"
	"github.com/stemsi/uexam-backend/internal/response"
)

// RateLimiter implements a per-client token bucket. Authenticated requests are
// keyed by user, anonymous ones by IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // Tokens per interval
	interval time.Duration // Refill interval
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 10 requests per minute).
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-rl.stop:
				return
			case <-ticker.C:
				rl.cleanup()
			}
		}
	}()

	return rl
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Allow takes a token for key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{tokens: rl.rate, lastSeen: now}
		rl.visitors[key] = v
	}

	// Refill tokens based on elapsed time.
	refill := int(now.Sub(v.lastSeen)/rl.interval) * rl.rate
	if refill > 0 {
		v.tokens += refill
		if v.tokens > rl.rate {
			v.tokens = rl.rate
		}
		v.lastSeen = now
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// Middleware returns a Gin middleware that rate-limits requests.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(clientKey(c)) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if rl.now().Sub(v.lastSeen) > 3*rl.interval {
			delete(rl.visitors, key)
		}
	}
}

func clientKey(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return "user:" + strconv.Itoa(claims.UserID)
	}
	return "ip:" + c.ClientIP()
}

// CodeRunLimiter caps code executions per user across server instances with a
// fixed window counter in Redis. When Redis is unreachable it falls back to
// the local limiter.
type CodeRunLimiter struct {
	rdb      *redis.Client
	limit    int64
	window   time.Duration
	fallback *RateLimiter
	log      zerolog.Logger
}

// NewCodeRunLimiter allows limit runs per window.
func NewCodeRunLimiter(rdb *redis.Client, limit int, window time.Duration, log zerolog.Logger) *CodeRunLimiter {
	return &CodeRunLimiter{
		rdb:      rdb,
		limit:    int64(limit),
		window:   window,
		fallback: NewRateLimiter(limit, window),
		log:      log.With().Str("component", "code_run_limiter").Logger(),
	}
}

// Allow counts one run for userID.
func (l *CodeRunLimiter) Allow(ctx context.Context, userID int) bool {
	key := config.CacheKey.CodeRunRateKey(userID)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn().Err(err).Msg("Redis rate limit unavailable, using local limiter")
		return l.fallback.Allow("user:" + strconv.Itoa(userID))
	}
	return incr.Val() <= l.limit
}

// Middleware rate-limits authenticated code runs. Must run after a JWT guard.
func (l *CodeRunLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if !l.Allow(c.Request.Context(), claims.UserID) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
