// Package backoff computes requeue delays for redelivered events.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Delay returns base doubled per attempt, capped at max, with ±25% jitter.
// Attempts are 1-based; attempt 0 or less yields zero.
func Delay(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d <= 0 || (max > 0 && d > max) {
		d = max
	}
	if d < 4 {
		return d
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2)) - d/4
	return d + jitter
}
