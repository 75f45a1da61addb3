package judge

import (
	"errors"
	"math/rand/v2"
	"time"
)

// MaxRetries bounds the extra attempts a Guarded judge makes per call.
const MaxRetries = 3

// ErrTimeout is returned when a single call exceeds the per-call timeout
// while the caller's context is still live.
var ErrTimeout = errors.New("judge call timed out")

// IsRetryable reports whether a judge error is transient: rate limits and
// server errors from the backend, or a per-call timeout. ErrUnavailable and
// cancellation of the caller's context are final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return false
	}
	var retryErr *RetryableError
	return errors.As(err, &retryErr) || errors.Is(err, ErrTimeout)
}

// Backoff returns the wait before retry n (0-indexed): 2^n seconds capped at
// 30s, plus up to half of that as jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}
