// Package ratelimit provides an in-memory, per-identifier sliding-window
// implementation of the RateLimiter capability. State lives for the
// process lifetime; distributed coordination is out of scope.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/flowline-ai/flowline/pkg/models"
)

// MemoryLimiter allows at most Limit checks per identifier within Window.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	history map[string][]time.Time
}

// NewMemoryLimiter creates a limiter allowing limit requests per window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		history: make(map[string][]time.Time),
	}
}

// Check implements contracts.RateLimiter. A denied decision carries the
// seconds until the oldest in-window request ages out.
func (l *MemoryLimiter) Check(_ context.Context, identifier string) (models.RateDecision, error) {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.history[identifier][:0]
	for _, t := range l.history[identifier] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.limit {
		l.history[identifier] = recent
		retryAfter := int(math.Ceil(l.window.Seconds() - now.Sub(recent[0]).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return models.RateDecision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	l.history[identifier] = append(recent, now)
	return models.RateDecision{Allowed: true}, nil
}

// Reset forgets one identifier's history.
func (l *MemoryLimiter) Reset(identifier string) {
	l.mu.Lock()
	delete(l.history, identifier)
	l.mu.Unlock()
}
