package processing

import (
	"context"
	"log/slog"
	"time"

	"github.com/vidprofile/vidprofile/internal/blobstore"
)

// withRetry runs fn until it succeeds, fails with a non-transient error, or
// has been tried retries+1 times. Backoff grows linearly with each attempt.
func withRetry(ctx context.Context, logger *slog.Logger, op string, retries int, backoff time.Duration, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !blobstore.IsTransient(err) || attempt > retries {
			return err
		}

		wait := backoff * time.Duration(attempt)
		logger.Warn("blob operation failed, retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
