package transport

import "time"

// Backoff returns the delay before reconnect attempt n (zero based):
// base * 2^n, capped at max when max > 0.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for range attempt {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
		// overflow
		if d <= 0 {
			if max > 0 {
				return max
			}
			return time.Duration(1<<63 - 1)
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
