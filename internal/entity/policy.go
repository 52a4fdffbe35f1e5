package entity

import (
	"math"
	"time"
)

// RetryPolicy controls how failed attempts are retried. MaxAttempts is
// the default ceiling for jobs that do not set their own.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffCap        time.Duration
	Retryable         map[ErrorKind]bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		BackoffCap:        30 * time.Second,
		Retryable: map[ErrorKind]bool{
			ErrorKindTimeout:       true,
			ErrorKindNavigation:    true,
			ErrorKindPoolExhausted: true,
		},
	}
}

// Backoff returns the delay before retry number n. The first retry
// (n=1) waits BackoffBase, each following retry multiplies that, and
// the result never exceeds BackoffCap.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := time.Duration(float64(p.BackoffBase) * math.Pow(p.BackoffMultiplier, float64(n-1)))
	if d < 0 || d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}

func (p RetryPolicy) IsRetryable(kind ErrorKind) bool {
	return p.Retryable[kind]
}
