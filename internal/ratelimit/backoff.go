package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shii9/PassiveNio/internal/core"
)

// RetryPolicy decides how often and how patiently a call is retried.
type RetryPolicy struct {
	// MaxAttempts includes the first try. Default: 3
	MaxAttempts int
	// BaseDelay is the delay after the first failure. Default: 1s
	BaseDelay time.Duration
	// MaxDelay caps the exponential schedule. Default: 30s
	MaxDelay time.Duration
	// Jitter is the +/- fraction applied to each delay. Default: 0.2
	Jitter float64
	// Retryable selects transient errors. Default: core.IsRetryable
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the policy used when nothing is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
		Retryable:   core.IsRetryable,
	}
}

// Merge combines this policy with defaults, preferring explicit values.
func (p RetryPolicy) Merge(defaults RetryPolicy) RetryPolicy {
	result := defaults
	if p.MaxAttempts > 0 {
		result.MaxAttempts = p.MaxAttempts
	}
	if p.BaseDelay > 0 {
		result.BaseDelay = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		result.MaxDelay = p.MaxDelay
	}
	if p.Jitter > 0 {
		result.Jitter = p.Jitter
	}
	if p.Retryable != nil {
		result.Retryable = p.Retryable
	}
	return result
}

var (
	jitterMu  sync.Mutex
	jitterSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jitterFloat() float64 {
	jitterMu.Lock()
	defer jitterMu.Unlock()
	return jitterSrc.Float64()
}

// Delay is the wait after the given failed attempt (1-based). r in [0,1)
// picks the jitter offset.
func (p RetryPolicy) Delay(attempt int, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*r - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Do runs fn under lim until it succeeds, fails permanently or attempts run
// out. It returns the number of attempts made and the last error.
func Do(ctx context.Context, p RetryPolicy, lim *Limiter, fn func(ctx context.Context) error) (int, error) {
	p = p.Merge(DefaultRetryPolicy())
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		// Only a pending Retry-After hint is honoured here; request tokens
		// are taken by the calls fn makes through lim.
		if werr := sleep(ctx, lim.Pending()); werr != nil {
			if err == nil {
				err = werr
			}
			return attempt - 1, err
		}

		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil || !p.Retryable(err) || attempt == p.MaxAttempts {
			return attempt, err
		}

		// An explicit hint replaces the schedule.
		if hint := core.RetryAfter(err); hint > 0 {
			lim.Defer(hint)
			if lim == nil {
				if serr := sleep(ctx, hint); serr != nil {
					return attempt, err
				}
			}
			continue
		}

		if serr := sleep(ctx, p.Delay(attempt, jitterFloat())); serr != nil {
			return attempt, err
		}
	}
	return p.MaxAttempts, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
