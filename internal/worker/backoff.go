package worker

import (
	"math"
	"math/rand"
	"time"

	"github.com/ordinaut/ordinaut/internal/domain"
)

const (
	// backoffBase and backoffCap govern exponential_jitter and linear:
	// delay = base * 2^(attempt-1) * U(0.5, 1.5), capped at backoffCap.
	backoffBase = 2 * time.Second
	backoffCap  = 300 * time.Second

	// defaultFixedInterval is used for the fixed strategy when a task
	// doesn't configure its own interval.
	defaultFixedInterval = 30 * time.Second
)

// Delay computes the wait before the next retry attempt for a task's
// backoff strategy. attempt is 1-based (the attempt number that just
// failed). fixedSeconds is the task's configured interval for the fixed
// strategy; zero or negative falls back to defaultFixedInterval.
//
// ValidBackoff must be checked at task-create time; Delay treats anything
// else as a programming error and falls back to backoffBase rather than
// panicking mid-retry.
func Delay(strategy domain.BackoffStrategy, attempt int, fixedSeconds int) time.Duration {
	switch strategy {
	case domain.BackoffExponentialJitter:
		jitter := 0.5 + rand.Float64() // U(0.5, 1.5)
		delay := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempt-1)) * jitter)
		if delay > backoffCap || delay <= 0 {
			delay = backoffCap
		}
		return delay
	case domain.BackoffLinear:
		delay := backoffBase * time.Duration(attempt)
		if delay > backoffCap {
			delay = backoffCap
		}
		return delay
	case domain.BackoffFixed:
		if fixedSeconds > 0 {
			return time.Duration(fixedSeconds) * time.Second
		}
		return defaultFixedInterval
	default:
		return backoffBase
	}
}
