package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter allows at most limit events in any trailing window. Privileged
// endpoints share one limiter so flushes and token issues count against the same budget.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu     sync.Mutex
	stamps []time.Time
	next   int
}

// NewSlidingWindowLimiter constructs a limiter. A non-positive window or limit disables it.
func NewSlidingWindowLimiter(window time.Duration, limit int, clock func() time.Time) *SlidingWindowLimiter {
	if clock == nil {
		clock = time.Now
	}
	limiter := &SlidingWindowLimiter{window: window, limit: limit, now: clock}
	if limiter.enabled() {
		limiter.stamps = make([]time.Time, limit)
	}
	return limiter
}

func (l *SlidingWindowLimiter) enabled() bool {
	return l != nil && l.limit > 0 && l.window > 0
}

// Allow records an event and reports whether it fits the window.
func (l *SlidingWindowLimiter) Allow() bool {
	if !l.enabled() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	//1.- The ring holds the last limit accepted events; the slot about to be reused is the oldest.
	now := l.now()
	oldest := l.stamps[l.next]
	if !oldest.IsZero() && now.Sub(oldest) < l.window {
		return false
	}
	l.stamps[l.next] = now
	l.next = (l.next + 1) % l.limit
	return true
}

// Remaining reports how many events the window would still accept right now.
func (l *SlidingWindowLimiter) Remaining() int {
	if !l.enabled() {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	remaining := 0
	for _, stamp := range l.stamps {
		if stamp.IsZero() || now.Sub(stamp) >= l.window {
			remaining++
		}
	}
	return remaining
}
