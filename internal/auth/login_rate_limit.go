package auth

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"bullhorn-gateway/internal/observability"
)

const maxTrackedIPs = 5000

// LoginRateLimiter is a sliding-window limiter keyed by client IP.
type LoginRateLimiter struct {
	mu      sync.Mutex
	maxHits int
	window  time.Duration
	clock   clockwork.Clock
	hits    map[string][]time.Time
}

func NewLoginRateLimiter(maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		maxHits: maxHits,
		window:  window,
		clock:   clockwork.NewRealClock(),
		hits:    make(map[string][]time.Time),
	}
}

func (l *LoginRateLimiter) WithClock(clock clockwork.Clock) {
	if clock != nil {
		l.clock = clock
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(observability.ClientIP(r), l.clock.Now())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := pruneBefore(l.hits[ip], threshold)
	if len(recent) >= l.maxHits {
		l.hits[ip] = recent
		retryAfter := recent[0].Add(l.window).Sub(now)
		return false, max(retryAfter, time.Second)
	}
	l.hits[ip] = append(recent, now)

	if len(l.hits) > maxTrackedIPs {
		for key, value := range l.hits {
			if len(pruneBefore(value, threshold)) == 0 {
				delete(l.hits, key)
			}
		}
	}

	return true, 0
}

func pruneBefore(hits []time.Time, threshold time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(threshold) {
		i++
	}
	return hits[i:]
}
