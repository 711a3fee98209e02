package dlcore

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy governs how the supervisor waits between segment retry
// attempts. The spec only requires a configurable flat delay
// (retry_delay_seconds); Backoff and Jitter generalize that to optional
// exponential backoff without changing the flat-delay default.
type RetryPolicy struct {
	MaxRetries int           // 0 disables retrying entirely
	BaseDelay  time.Duration // retry_delay_seconds
	MaxDelay   time.Duration // ceiling once Backoff > 1
	Backoff    float64       // 1.0 reproduces a flat delay
	Jitter     float64       // fraction of the delay randomized, 0..1
}

// DefaultRetryPolicy mirrors typical Settings defaults: flat delay, no
// backoff growth.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  5 * time.Second,
		MaxDelay:   5 * time.Second,
		Backoff:    1.0,
		Jitter:     0,
	}
}

// Delay returns the wait duration before retry attempt n (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay)
	if p.Backoff > 1 {
		for i := 1; i < attempt; i++ {
			d *= p.Backoff
		}
	}
	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = float64(p.BaseDelay)
	}
	return time.Duration(d)
}

// Allow reports whether attempt (1-based, the attempt about to be made)
// is still within MaxRetries. MaxRetries == 0 allows no retries.
func (p RetryPolicy) Allow(attempt int) bool {
	return attempt <= p.MaxRetries
}

// Wait blocks for the configured delay or until ctx is cancelled, whichever
// comes first.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.Delay(attempt)):
		return nil
	}
}
