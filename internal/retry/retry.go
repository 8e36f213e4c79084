// Package retry computes backoff schedules for failed deliveries.
//
// Delays are deterministic: given the same attempt count and policy the
// same delay comes back, which keeps retry timing auditable and testable.
package retry

import (
	"math"
	"time"

	"github.com/AbdullahHassan176/hookrelay/internal/domain"
)

// NextDelay returns the capped exponential backoff delay before the next
// attempt. attemptCount is the count after the failed attempt, so the first
// retry (attemptCount=1) waits exactly policy.InitialDelay.
func NextDelay(attemptCount int, p domain.RetryPolicy) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attemptCount-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	return time.Duration(delay)
}

// NextAttemptTime returns the activation time for the retry job scheduled
// after a failed attempt.
func NextAttemptTime(now time.Time, attemptCount int, p domain.RetryPolicy) time.Time {
	return now.Add(NextDelay(attemptCount, p))
}
