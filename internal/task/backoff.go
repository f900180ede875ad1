package task

import (
	"math"
	"time"
)

// backoff returns base * 2^(attempts-1), capped at maxDelay.
func backoff(attempts int, base, maxDelay time.Duration) time.Duration {
	if attempts <= 0 || base <= 0 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(attempts-1)) * float64(base))
	if maxDelay > 0 && (d > maxDelay || d <= 0) {
		return maxDelay
	}
	return d
}
