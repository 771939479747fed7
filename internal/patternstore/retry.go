package patternstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/katoml/kato/internal/katoerr"
)

// maxStorageRetries bounds how many times a transient storage fault is
// retried before it surfaces to the caller.
const maxStorageRetries = 3

// withRetry runs op, retrying with exponential backoff when the failure is
// classified as transient (isTransient). A collision, a context
// cancellation, or any other permanent fault is returned on the first
// attempt: a hash collision can never succeed on retry, and a cancelled
// operation must not be retried past its deadline.
func withRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxStorageRetries),
		ctx,
	)
	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, policy)
	if err != nil {
		return lastErr
	}
	return nil
}

// isTransient classifies retryable storage faults: connection resets,
// broken pipes, serialization/deadlock failures that a
// retry can plausibly resolve. Collisions, cancellations, and constraint
// violations are permanent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var collision *katoerr.CollisionError
	if errors.As(err, &collision) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		case "55P03": // lock_not_available — Upsert's FOR UPDATE hit database.Config.LockTimeout
			return true
		}
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" // connection_exception class
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, driver.ErrBadConn)
}
