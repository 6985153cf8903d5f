package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

// senderLimiter implements a per-sender token bucket for answer engine calls.
// Idle senders are evicted lazily so the map does not grow without bound.
type senderLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newSenderLimiter allows perMinute questions per sender per minute.
// A non-positive perMinute disables limiting and returns nil.
func newSenderLimiter(perMinute int) *senderLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &senderLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

// Allow reports whether sender may ask another question at now.
func (l *senderLimiter) Allow(sender string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= limiterSweepInterval {
		for key, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.limiters, key)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.limiters[sender]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[sender] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}
