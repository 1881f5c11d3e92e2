package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Quota is a per-source request budget.
type Quota struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultQuota is used for sources that declare nothing.
var DefaultQuota = Quota{RequestsPerSecond: 2, Burst: 1}

func (q Quota) limit() rate.Limit {
	if q.RequestsPerSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(q.RequestsPerSecond)
}

func (q Quota) burst() int {
	if q.Burst < 1 {
		return 1
	}
	return q.Burst
}

// Limiter throttles every call made against one external source.
// A nil *Limiter never blocks.
type Limiter struct {
	source string
	tokens *rate.Limiter

	mu      sync.Mutex
	blocked time.Time
	now     func() time.Time
}

// NewLimiter builds a token bucket for source.
func NewLimiter(source string, q Quota) *Limiter {
	return &Limiter{
		source: source,
		tokens: rate.NewLimiter(q.limit(), q.burst()),
		now:    time.Now,
	}
}

// Source is the label the limiter was created for.
func (l *Limiter) Source() string {
	if l == nil {
		return ""
	}
	return l.source
}

// Wait blocks until any pending wait hint has expired and a token is free.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	for {
		d := l.pending()
		if d <= 0 {
			break
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return l.tokens.Wait(ctx)
}

// Defer makes subsequent calls wait at least d, honoring a source's
// Retry-After. Shorter hints never shorten an existing one.
func (l *Limiter) Defer(d time.Duration) {
	if l == nil || d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(d)
	if until.After(l.blocked) {
		l.blocked = until
	}
}

// Pending reports how long the next call would wait for a hint to expire.
func (l *Limiter) Pending() time.Duration {
	if l == nil {
		return 0
	}
	return l.pending()
}

func (l *Limiter) pending() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocked.Sub(l.now())
}

// Set hands out one shared Limiter per source label.
type Set struct {
	mu        sync.Mutex
	limiters  map[string]*Limiter
	overrides map[string]Quota
}

func NewSet() *Set {
	return &Set{
		limiters:  map[string]*Limiter{},
		overrides: map[string]Quota{},
	}
}

// Override fixes the quota used for source; it must be set before the
// source's limiter is first requested.
func (s *Set) Override(source string, q Quota) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[source] = q
}

// For returns the limiter of source, creating it with fallback (or the
// override) on first use.
func (s *Set) For(source string, fallback Quota) *Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[source]; ok {
		return l
	}
	q := fallback
	if o, ok := s.overrides[source]; ok {
		q = o
	}
	if q.RequestsPerSecond == 0 && q.Burst == 0 {
		q = DefaultQuota
	}
	l := NewLimiter(source, q)
	s.limiters[source] = l
	return l
}
