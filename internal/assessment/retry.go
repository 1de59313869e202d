package assessment

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/brightpath/assessor/internal/model"
)

const (
	defaultRetryWait = 100 * time.Millisecond
	maxRetryWait     = 2 * time.Second
)

// retryRead retries transient read failures. Missing rows are final.
func (c *Controller) retryRead(ctx context.Context, fn func() error) error {
	return c.retry(ctx, c.cfg.ReadRetries, func(err error) bool {
		var re *model.ReadError
		return errors.As(err, &re)
	}, fn)
}

// retryWrite retries store write failures. Writes are keyed (event id,
// session version) so a retry after an ambiguous failure cannot double-apply.
func (c *Controller) retryWrite(ctx context.Context, fn func() error) error {
	return c.retry(ctx, c.cfg.WriteRetries, func(err error) bool {
		var we *model.WriteError
		return errors.As(err, &we)
	}, fn)
}

func (c *Controller) retry(ctx context.Context, attempts int, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := range attempts {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt == attempts-1 {
			break
		}
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// backoff is exponential with ±20% jitter.
func (c *Controller) backoff(attempt int) time.Duration {
	base := c.cfg.RetryWait
	if base <= 0 {
		base = defaultRetryWait
	}
	wait := float64(base) * math.Pow(2, float64(attempt))
	if wait > float64(maxRetryWait) {
		wait = float64(maxRetryWait)
	}
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	return time.Duration(max(wait, 0))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
