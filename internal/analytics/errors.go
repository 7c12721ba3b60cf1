package analytics

import (
	"errors"
	"fmt"
)

// Error kinds observable to callers. Refreshers and backfill drivers branch
// on these with errors.Is / errors.As.
var (
	// ErrAuth means the upstream rejected our credentials. Never retried.
	ErrAuth = errors.New("analytics: unauthorized")

	// ErrQuotaExceeded means the upstream reported payment required /
	// credit exhaustion. Propagated unchanged so backfill drivers can
	// stop the whole pass.
	ErrQuotaExceeded = errors.New("analytics: quota exceeded")

	// ErrQueryTimeout means the execution did not reach a terminal state
	// within the polling budget.
	ErrQueryTimeout = errors.New("analytics: query timed out")
)

// TransientError wraps upstream failures that are worth retrying:
// 5xx responses, timeouts, connection resets, rate limiting.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("analytics: transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// QueryFailedError carries backend diagnostics for a failed execution.
// Not retried.
type QueryFailedError struct {
	ExecutionID string
	Message     string
	Line        int
	Column      int
}

func (e *QueryFailedError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("analytics: query failed at line %d column %d: %s", e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("analytics: query failed: %s", e.Message)
}
