package pipeline

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/topictree/internal/extract"
	"github.com/dgallion1/topictree/internal/services"
)

// IsRetryable checks if an error is worth retrying: rate limits and
// server errors from Claude or the model services, and dropped
// connections.
func IsRetryable(err error) bool {
	var retryErr *extract.RetryableError
	return errors.As(err, &retryErr) || services.IsTransient(err)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

const MaxRetries = 3
