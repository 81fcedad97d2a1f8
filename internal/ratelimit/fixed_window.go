package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// FixedWindowLimiter limits requests per key in a window that opens on the
// first request for that key and closes exactly one window later.
// State lives in process memory; it does not coordinate across processes.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*windowState

	stop      chan struct{}
	closeOnce sync.Once
}

type windowState struct {
	count   int64
	resetAt time.Time
}

// Option customizes a FixedWindowLimiter.
type Option func(*FixedWindowLimiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindowLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewFixedWindowLimiter creates an in-memory limiter and starts its janitor.
// Call Close to stop the janitor.
func NewFixedWindowLimiter(limit int, window time.Duration, opts ...Option) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	l := &FixedWindowLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*windowState),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.janitor()
	return l, nil
}

// Allow increments the counter for key and reports whether it is within quota.
func (l *FixedWindowLimiter) Allow(_ context.Context, key string) Decision {
	key = normalizeKey(strings.TrimSpace(key))
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &windowState{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}
	w.count++
	return decide(w.count, l.limit, w.resetAt.Sub(now))
}

// Close stops the janitor. It is safe to call more than once.
func (l *FixedWindowLimiter) Close() error {
	l.closeOnce.Do(func() { close(l.stop) })
	return nil
}

func (l *FixedWindowLimiter) janitor() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *FixedWindowLimiter) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

func (l *FixedWindowLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
