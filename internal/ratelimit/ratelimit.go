// Package ratelimit implements a fixed-window request counter keyed by
// caller identity.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows up to max requests per identity within each window. A max
// of zero (or below) disables limiting entirely. Allow never blocks.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	now     func() time.Time
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

func New(max int, windowSize time.Duration) *Limiter {
	if windowSize <= 0 {
		windowSize = time.Minute
	}
	return &Limiter{
		max:     max,
		window:  windowSize,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow reports whether the identity may proceed, counting the request when
// it does not exceed the window budget.
func (l *Limiter) Allow(identity string) bool {
	if l == nil || l.max <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identity]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[identity] = &window{start: now, count: 1}
		l.sweepLocked(now)
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// RetryAfter reports how long the identity must wait for the current window
// to reset. Zero when the identity is not limited.
func (l *Limiter) RetryAfter(identity string) time.Duration {
	if l == nil || l.max <= 0 {
		return 0
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[identity]
	if !ok || w.count < l.max {
		return 0
	}
	remaining := l.window - now.Sub(w.start)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// sweepLocked drops stale windows so idle identities do not accumulate.
func (l *Limiter) sweepLocked(now time.Time) {
	if len(l.windows) < 4096 {
		return
	}
	for identity, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, identity)
		}
	}
}
