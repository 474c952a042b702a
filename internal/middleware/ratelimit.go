package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

type caller struct {
	count       int
	windowStart time.Time
}

// RateLimiter throttles anonymous widget endpoints per remote address.
// Fixed window per caller; counters are pruned once they go idle.
type RateLimiter struct {
	mu      sync.Mutex
	callers map[string]*caller
	limit   int
	window  time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		callers: make(map[string]*caller),
		limit:   limit,
		window:  window,
	}

	go func() {
		for {
			time.Sleep(window)
			rl.mu.Lock()
			for addr, c := range rl.callers {
				if time.Since(c.windowStart) > window {
					delete(rl.callers, addr)
				}
			}
			rl.mu.Unlock()
		}
	}()

	return rl
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := r.RemoteAddr

		rl.mu.Lock()
		c, exists := rl.callers[addr]
		if !exists || time.Since(c.windowStart) > rl.window {
			rl.callers[addr] = &caller{count: 1, windowStart: time.Now()}
			rl.mu.Unlock()
			next.ServeHTTP(w, r)
			return
		}

		c.count++
		over := c.count > rl.limit
		retryAfter := rl.window - time.Since(c.windowStart)
		rl.mu.Unlock()

		if over {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", r)
			return
		}

		next.ServeHTTP(w, r)
	})
}
