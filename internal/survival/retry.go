package survival

import (
	"context"
	"time"

	"github.com/coursetrack/survival/internal/model"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/logze/v2"
)

// withRetry runs op with the configured timeout and bounded backoff.
// Transient errors are retried with doubling delay, rate limits with the
// longer rate-limit delay. Fatal and unclassified errors return immediately.
func withRetry(ctx context.Context, cfg Config, log logze.Logger, name string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		err := op(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if model.IsFatal(err) || !model.IsTransient(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.RetryBackoff << (attempt - 1)
		if errm.Is(err, model.ErrRateLimited) {
			delay = cfg.RateLimitBackoff
		}

		log.Warn("retrying after transient error",
			"call", name, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errm.Wrap(ctx.Err(), "analysis cancelled")
		}
	}

	return errm.Wrap(lastErr, "retry budget exhausted")
}
