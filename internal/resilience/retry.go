package resilience

import (
	"context"
	"time"
)

// RetryConfig bounds a [Retry] loop.
type RetryConfig struct {
	// Attempts is the total number of tries. Default 2 (one retry).
	Attempts int

	// Backoff is the wait before each retry. Default 500ms.
	Backoff time.Duration
}

// Retry runs fn up to cfg.Attempts times, sleeping cfg.Backoff between tries.
// It returns nil on the first success, the last error otherwise. Context
// cancellation aborts the wait and returns ctx.Err().
//
// A transport failure gets exactly one backed-off retry before the caller
// apologizes and abandons the step; Retry never masks the failure by
// pretending success.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}

	var err error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(cfg.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}
