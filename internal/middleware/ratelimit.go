package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/carebridge/pkg/errors"
	"github.com/carebridge/carebridge/pkg/response"
)

// RateLimit returns a middleware that limits requests per (clientIP,path) within a fixed window.
// Counters live in memory, so limits are per instance. Used on the credential endpoints.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	return rateLimit(maxRequests, window, time.Now)
}

func rateLimit(maxRequests int, window time.Duration, now func() time.Time) gin.HandlerFunc {
	limiter := newWindowLimiter(window)

	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		count, resetIn := limiter.hit(c.ClientIP()+"|"+c.FullPath(), now())

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			response.Error(c, errors.ErrTooManyRequests)
			c.Abort()
			return
		}

		c.Next()
	}
}

type windowCounter struct {
	count     int
	windowEnd time.Time
}

// windowLimiter counts hits per key in fixed windows. Expired counters are
// swept at most once per window.
type windowLimiter struct {
	window time.Duration

	mu        sync.Mutex
	counters  map[string]*windowCounter
	nextSweep time.Time
}

func newWindowLimiter(window time.Duration) *windowLimiter {
	return &windowLimiter{window: window, counters: make(map[string]*windowCounter)}
}

// hit records one request for key and returns the count within the current
// window and the time left until it resets.
func (l *windowLimiter) hit(key string, now time.Time) (int, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.nextSweep) {
		for k, ct := range l.counters {
			if now.After(ct.windowEnd) {
				delete(l.counters, k)
			}
		}
		l.nextSweep = now.Add(l.window)
	}

	ct, ok := l.counters[key]
	if !ok || now.After(ct.windowEnd) {
		ct = &windowCounter{windowEnd: now.Add(l.window)}
		l.counters[key] = ct
	}
	ct.count++
	return ct.count, ct.windowEnd.Sub(now)
}
