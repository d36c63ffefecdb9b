package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// DefaultRateLimitIdle is how long a client's bucket is kept after its last
// request when RateLimit.Idle is zero.
const DefaultRateLimitIdle = 10 * time.Minute

// RateLimit configures per-client token buckets.
type RateLimit struct {
	RPS   int
	Burst int // zero = 2*RPS
	// Idle evicts buckets unused for this long. The sweep runs every Idle/2.
	Idle time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type clientLimiter struct {
	cfg RateLimit

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newClientLimiter(cfg RateLimit) *clientLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 2 * cfg.RPS
	}
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultRateLimitIdle
	}
	return &clientLimiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// allow takes a token for key. When the bucket is empty it returns the wait
// until the next token.
func (l *clientLimiter) allow(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// evict drops buckets idle since before now-Idle and returns how many remain.
func (l *clientLimiter) evict(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.Idle {
			delete(l.buckets, key)
		}
	}
	return len(l.buckets)
}

func (l *clientLimiter) sweep(ctx context.Context) {
	t := time.NewTicker(l.cfg.Idle / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			SetRateLimitClients(l.evict(now))
		}
	}
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting. Rejected requests get 429 with Retry-After in whole seconds.
// Idle buckets are swept until ctx is done.
func RateLimiter(ctx context.Context, cfg RateLimit) gin.HandlerFunc {
	l := newClientLimiter(cfg)
	go l.sweep(ctx)

	return func(c *gin.Context) {
		ok, wait := l.allow(c.ClientIP(), time.Now())
		if !ok {
			RecordRateLimited(c.FullPath())
			secs := int(wait.Round(time.Second) / time.Second)
			c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
