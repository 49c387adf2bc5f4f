// Package backoff provides the Fibonacci retry loop shared by the root
// package's Retry helper and the replication manager (transient push
// failures). The object store adapter does not retry.
//
// Grounded directly on the teacher's retry.go: the same Fibonacci backoff
// starting at one second, capped at five retries, logging a warning and
// invoking an optional give-up callback when retries are exhausted.
package backoff

import (
	"context"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry runs task with Fibonacci backoff up to five retries. task marks an
// error as worth retrying by wrapping it with Retryable; any other
// non-nil error stops the loop immediately. If retries are exhausted,
// gaveUpTask is invoked (when not nil) and the final error is returned.
func Retry(ctx context.Context, task retry.RetryFunc, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(1 * time.Second)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), task); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// Retryable marks err as transient so Retry attempts it again rather than
// treating it as a terminal failure.
func Retryable(err error) error {
	return retry.RetryableError(err)
}
