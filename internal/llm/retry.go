package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"time"

	"github.com/PranavPipariya/Godel/internal/httpkit"
)

// RetryPolicy controls how failed requests are retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter spreads each delay uniformly over ±50%.
	Jitter bool
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// isRetryable classifies errors from a request that has not yet
// delivered any event.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if httpkit.IsConnectError(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// withRetry runs attempt until it succeeds, fails permanently, or the
// policy is exhausted. An attempt that has already delivered events
// reports started=true and is never retried.
func withRetry(ctx context.Context, p RetryPolicy, onRetry func(attempt int, err error, wait time.Duration), attempt func() (started bool, err error)) error {
	for n := 0; ; n++ {
		started, err := attempt()
		if err == nil || started || n >= p.MaxRetries || !isRetryable(err) {
			return err
		}
		wait := p.Delay(n)
		if onRetry != nil {
			onRetry(n+1, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
