package yamabiko

import (
	"context"
	"errors"

	"github.com/yamabiko-db/yamabiko/backoff"
)

// Retry executes task with Fibonacci backoff, retrying only errors
// ShouldRetry accepts as transient. Collection's own methods do not call it.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	return backoff.Retry(ctx, func(ctx context.Context) error {
		err := task(ctx)
		if err != nil && ShouldRetry(err) {
			return backoff.Retryable(err)
		}
		return err
	}, gaveUpTask)
}

// ShouldRetry reports whether err looks transient and worth retrying.
// Context cancellations and known-permanent yamabiko error codes are
// treated as non-retryable.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case FormatMismatch, InvalidKey, IndexAlreadyExists, IndexUnknown:
			return false
		}
	}
	return true
}
