package errs

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound marks lookups for tenants, documents, or chunks that do not
// exist. Callers receive it unchanged; it is never retried.
var ErrNotFound = errors.New("not found")

// TransientError wraps failures of external dependencies (embedding provider,
// vector index) that are safe to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable dependency failure.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is a retryable dependency failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsTimeout reports whether err stems from a deadline expiry on an external
// call. Timeouts are always transient but callers may want to distinguish them.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
