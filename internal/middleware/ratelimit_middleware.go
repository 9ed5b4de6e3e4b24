package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"market-booking/internal/redis"
	"market-booking/internal/transport/httpdto"
	"market-booking/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BookingRateLimitMiddleware limits reservation creates per caller: the user
// id when authenticated, the client IP for guests. Redis errors let the
// request through.
func BookingRateLimitMiddleware(limiter *redis.RateLimiter, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id, ok := IdentityFrom(c); ok {
			key = "user:" + id.UserID.String()
		}

		result, err := limiter.AllowBooking(c.Request.Context(), key)
		if err != nil {
			l.WithContext(c.Request.Context()).Warn("booking rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("booking rate limit exceeded", "RATE_LIMITED"))
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}

// ConnectLimiter throttles stream (re)connects per identity with a token
// bucket held in process memory.
type ConnectLimiter struct {
	mu       sync.Mutex
	limiters map[string]*connectEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
}

type connectEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewConnectLimiter(perSecond float64, burst int) *ConnectLimiter {
	return &ConnectLimiter{
		limiters: make(map[string]*connectEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

func (cl *ConnectLimiter) Allow(key string, now time.Time) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	e, ok := cl.limiters[key]
	if !ok {
		e = &connectEntry{limiter: rate.NewLimiter(cl.rate, cl.burst)}
		cl.limiters[key] = e
	}
	e.lastSeen = now

	if len(cl.limiters) > 1024 {
		for k, v := range cl.limiters {
			if now.Sub(v.lastSeen) > cl.idle {
				delete(cl.limiters, k)
			}
		}
	}
	return e.limiter.AllowN(now, 1)
}

// Middleware must run after RequireStreamAuth.
func (cl *ConnectLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id, ok := IdentityFrom(c); ok {
			key = "user:" + id.UserID.String()
		}
		if !cl.Allow(key, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("too many stream connections", "RATE_LIMITED"))
			return
		}
		c.Next()
	}
}
