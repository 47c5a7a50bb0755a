package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limita submissões por usuário (token bucket por userId).
type RateLimiter struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	visitors map[string]*visitor
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{rps: rate.Limit(rps), burst: burst, visitors: make(map[string]*visitor)}
}

func (l *RateLimiter) Allow(userID string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[userID]
	if !ok {
		if len(l.visitors) >= 10_000 {
			l.evict(now)
		}
		v = &visitor{lim: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[userID] = v
	}
	v.lastSeen = now
	return v.lim.AllowN(now, 1)
}

func (l *RateLimiter) evict(now time.Time) {
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > limiterIdle {
			delete(l.visitors, id)
		}
	}
}
