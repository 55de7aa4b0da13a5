package handlers

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/OMARxKHALID/POSify-sub001/internal/platform/auth"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/httpx"
)

type rateLimiter interface {
	// Allow admits one request for key. When it refuses, retryAfter is the wait until the
	// key's window resets.
	Allow(key string) (ok bool, retryAfter time.Duration)
}

// fixedWindowLimiter admits limit requests per key in each window. Idle keys are swept
// at most once per window.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	windows   map[string]window
	nextSweep time.Time
}

type window struct {
	used  int
	reset time.Time
}

func newFixedWindowLimiter(limit int, period time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || period <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{limit: limit, window: period, clock: clock, windows: make(map[string]window)}
}

func (l *fixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.nextSweep) {
		for k, w := range l.windows {
			if !now.Before(w.reset) {
				delete(l.windows, k)
			}
		}
		l.nextSweep = now.Add(l.window)
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		w = window{reset: now.Add(l.window)}
	}
	if w.used >= l.limit {
		return false, w.reset.Sub(now)
	}
	w.used++
	l.windows[key] = w
	return true, 0
}

// terminalRateLimit throttles order submissions per authenticated terminal. Requests
// without a terminal share one bucket per remote address.
func terminalRateLimit(limiter rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "addr:" + r.RemoteAddr
			if terminal, ok := auth.TerminalFromContext(r.Context()); ok {
				key = "terminal:" + terminal.Scope()
			}
			if ok, wait := limiter.Allow(key); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many order submissions from this terminal", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
