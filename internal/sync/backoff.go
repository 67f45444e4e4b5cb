package sync

import "time"

// backoffDelay returns the wait before the next attempt of a mutation
// that has already failed retry times: base doubling per failure, capped.
func backoffDelay(retry int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	if max <= 0 {
		max = 5 * time.Minute
	}
	if retry > 20 {
		return max
	}
	d := base << uint(retry)
	if d <= 0 || d > max {
		return max
	}
	return d
}
