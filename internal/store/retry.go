package store

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// defaultMaxRetries bounds how often a failed batch commit is retried
// before the batch is reported failed.
const defaultMaxRetries = 3

// retryable reports whether a SQLite error is transient. Lock contention
// clears on its own; everything else is permanent.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// withRetry runs fn under a bounded exponential backoff, converting
// non-transient errors to permanent ones so they fail fast. Returns the
// number of attempts made alongside the final error.
func withRetry(ctx context.Context, maxRetries uint64, fn func() error) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if err := fn(); err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	return attempts, err
}
