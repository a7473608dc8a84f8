package httpclient

import (
	"fmt"
	"time"
)

// RetriesExhaustedError reports a request that ran out of retry budget.
// RetryAfter carries the delay the next attempt would have waited, so a
// caller with its own scheduling can honor the server's pacing.
type RetriesExhaustedError struct {
	StatusCode int
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *RetriesExhaustedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d: retries exhausted after %d attempts (retry after %v)",
			e.StatusCode, e.Attempts, e.RetryAfter)
	}
	return fmt.Sprintf("retries exhausted after %d attempts", e.Attempts)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}
