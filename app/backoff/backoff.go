package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy describes a bounded exponential retry schedule with full jitter.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	Jitter      bool
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.Base <= 0 {
		return 0
	}

	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.Cap > 0 && delay >= p.Cap {
			delay = p.Cap
			break
		}
	}
	if p.Cap > 0 && delay > p.Cap {
		delay = p.Cap
	}

	if p.Jitter && delay > 0 {
		delay = time.Duration(rand.Int64N(int64(delay)) + 1)
	}

	return delay
}

// Retry runs fn until it succeeds, retryable reports false, attempts run out
// or ctx is done. The last error from fn is returned.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}

	return err
}
