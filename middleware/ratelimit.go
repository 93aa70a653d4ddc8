package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// limiterSet hands out one token bucket per key and forgets idle keys.
type limiterSet struct {
	r        rate.Limit
	b        int
	limiters sync.Map
}

func newLimiterSet(r rate.Limit, b int) *limiterSet {
	s := &limiterSet{r: r, b: b}

	// Cleanup goroutine: remove stale entries every 5 minutes.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			s.sweep(time.Now().Add(-10 * time.Minute))
		}
	}()
	return s
}

func (s *limiterSet) allow(key string) bool {
	v, _ := s.limiters.LoadOrStore(key, &keyLimiter{limiter: rate.NewLimiter(s.r, s.b)})
	kl := v.(*keyLimiter)
	kl.lastSeen.Store(time.Now().UnixNano())
	return kl.limiter.Allow()
}

func (s *limiterSet) sweep(cutoff time.Time) {
	s.limiters.Range(func(k, v any) bool {
		if v.(*keyLimiter).lastSeen.Load() < cutoff.UnixNano() {
			s.limiters.Delete(k)
		}
		return true
	})
}

// RateLimit provides per-client token-bucket rate limiting. Requests that
// already carry an authenticated owner are limited per owner, the rest per
// IP. r = requests per second, b = burst size.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	set := newLimiterSet(r, b)
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if owner := GetOwnerID(c); owner != 0 {
			key = "owner:" + formatID(owner)
		}
		if !set.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
