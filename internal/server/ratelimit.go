package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultConnectRate  = 1.0
	defaultConnectBurst = 5
	limiterIdleSweep    = 3 * time.Minute
)

// connectLimiter throttles realtime connection attempts per client IP with a token bucket.
type connectLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newConnectLimiter(perSecond float64, burst int) *connectLimiter {
	if perSecond <= 0 {
		perSecond = defaultConnectRate
	}
	if burst <= 0 {
		burst = defaultConnectBurst
	}
	return &connectLimiter{
		limiters:  make(map[string]*rate.Limiter),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *connectLimiter) allow(ip string) bool {
	if ip == "" {
		ip = "unknown_ip"
	}
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= limiterIdleSweep {
		l.sweepLocked(now)
	}
	limiter, exists := l.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = limiter
	}
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// sweepLocked drops limiters whose bucket has refilled, i.e. clients that went quiet.
func (l *connectLimiter) sweepLocked(now time.Time) {
	for ip, limiter := range l.limiters {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(l.limiters, ip)
		}
	}
	l.lastSweep = now
}

func (l *connectLimiter) middleware(c *gin.Context) {
	if !l.allow(c.ClientIP()) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}
	c.Next()
}
