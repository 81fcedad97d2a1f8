package ratelimit

import (
	"context"
	"time"
)

// Decision reports the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Limiter counts requests per key within a window.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
	Close() error
}

func normalizeKey(key string) string {
	if key == "" {
		return "unknown"
	}
	return key
}

func decide(count int64, limit int, reset time.Duration) Decision {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if reset < 0 {
		reset = 0
	}
	return Decision{
		Allowed:    count <= int64(limit),
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: reset,
	}
}
