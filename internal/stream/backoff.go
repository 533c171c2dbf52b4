package stream

import "time"

// Backoff returns the delay before reconnection attempt k (1-based):
// min(base * 2^(k-1), cap).
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	shift := uint(attempt - 1)
	if shift >= 62 || base > cap>>shift {
		return cap
	}
	return base << shift
}
