// Package rpcratelimit is an optional request limiter the dispatch pipeline
// can consult before invoking a service method: a local, in-process
// token-bucket limiter for single-host deployments, and a Redis-backed
// sliding-window limiter for a fleet of hosts sharing one limit.
package rpcratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter reports whether one more call for key is allowed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalConfig controls the per-key token bucket.
type LocalConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LocalLimiter keeps one golang.org/x/time/rate.Limiter per key (e.g. per
// service/method pair), created lazily on first use.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

// NewLocalLimiter builds a LocalLimiter. A non-positive RequestsPerSecond
// disables limiting (Allow always returns true).
func NewLocalLimiter(cfg LocalConfig) *LocalLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &LocalLimiter{
		buckets: map[string]*rate.Limiter{},
		rps:     rate.Limit(cfg.RequestsPerSecond),
		burst:   burst,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.rps <= 0 {
		return true, nil
	}
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow(), nil
}
