package workflow

import (
	"time"

	"github.com/bububa/nutrition-agents/components"
)

// MaxAttemptsLimit upper bound of RetryPolicy.MaxAttempts
const MaxAttemptsLimit = 3

// RetryPolicy how often a node is re-invoked after a retryable error
type RetryPolicy struct {
	// MaxAttempts total invocations, 1..3
	MaxAttempts int
	// Backoff delay before the first retry
	Backoff time.Duration
	// Multiplier grows the delay each retry, 2.0 when <= 0
	Multiplier float64
	// MaxBackoff caps the delay, no cap when <= 0
	MaxBackoff time.Duration
	// Retryable classifies errors, components.IsRetryable when nil
	Retryable func(error) bool
}

// DefaultRetry two extra attempts for retryable errors
var DefaultRetry = RetryPolicy{
	MaxAttempts: MaxAttemptsLimit,
	Backoff:     200 * time.Millisecond,
	Multiplier:  2,
	MaxBackoff:  2 * time.Second,
}

// NoRetry a single attempt
var NoRetry = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.MaxAttempts > MaxAttemptsLimit {
		p.MaxAttempts = MaxAttemptsLimit
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	if p.Retryable == nil {
		p.Retryable = components.IsRetryable
	}
	return p
}

// Delay before retry number n, starting at 1
func (p RetryPolicy) Delay(n int) time.Duration {
	if p.Backoff <= 0 || n <= 0 {
		return 0
	}
	delay := float64(p.Backoff)
	for i := 1; i < n; i++ {
		delay *= p.Multiplier
		if p.MaxBackoff > 0 && delay >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	return time.Duration(delay)
}
