// Package backoff provides the wait policy shared by every retryable I/O step.
package backoff

import "time"

// Policy maps an attempt number (1-based) to the wait before the next try.
// Linear growth is enough here: with a small attempt ceiling there is no
// runaway wait, and it is monotone so concurrent workers spread out.
type Policy struct {
	Base        time.Duration
	MaxAttempts int
}

// Default matches the worker's standard retry posture: 2s base, 3 attempts.
func Default() Policy {
	return Policy{Base: 2 * time.Second, MaxAttempts: 3}
}

// Wait returns the pause after a failed attempt. Attempts below 1 are
// treated as 1 so a miscounted caller never gets a zero wait.
func (p Policy) Wait(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.Base * time.Duration(attempt)
}
