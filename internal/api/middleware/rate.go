package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig sizes each client's token bucket.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// IdleTTL evicts limiters of clients quiet for this long.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig matches the RATE_LIMIT_* defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           10 * time.Minute,
	}
}

// clientKey identifies the caller: the session in the path when there is
// one, the client IP otherwise.
func clientKey(c *gin.Context) string {
	if s := c.Param("session"); s != "" {
		return "session:" + s
	}
	return "ip:" + c.ClientIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type buckets struct {
	cfg RateLimitConfig

	mu        sync.Mutex
	byKey     map[string]*bucket
	lastSweep time.Time
}

func (b *buckets) get(key string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.IdleTTL > 0 && now.Sub(b.lastSweep) > b.cfg.IdleTTL {
		for k, bk := range b.byKey {
			if now.Sub(bk.lastSeen) > b.cfg.IdleTTL {
				delete(b.byKey, k)
			}
		}
		b.lastSweep = now
	}
	bk, ok := b.byKey[key]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(rate.Limit(b.cfg.RequestsPerSecond), b.cfg.Burst)}
		b.byKey[key] = bk
	}
	bk.lastSeen = now
	return bk.limiter
}

// RateLimit throttles each client separately. Clients are sessions on
// session routes and IPs elsewhere. Rejected requests get 429 with a
// Retry-After in whole seconds.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	b := &buckets{cfg: cfg, byKey: make(map[string]*bucket), lastSweep: time.Now()}

	return func(c *gin.Context) {
		now := time.Now()
		limiter := b.get(clientKey(c), now)

		r := limiter.ReserveN(now, 1)
		if delay := r.DelayFrom(now); !r.OK() || delay > 0 {
			r.CancelAt(now)
			if r.OK() {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
