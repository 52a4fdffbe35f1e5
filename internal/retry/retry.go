// Package retry decides what happens after a failed attempt: how the
// error is classified, whether another try is warranted, and when it
// should run.
package retry

import (
	"context"
	"errors"
	"time"

	"scraperd/internal/browser"
	"scraperd/internal/entity"
	"scraperd/internal/queue"
)

// Classify maps an attempt error onto the failure taxonomy. An explicit
// classification on the error wins, infrastructure sentinels come next,
// everything else is unknown.
func Classify(err error) entity.ErrorKind {
	if err == nil {
		return ""
	}

	var ce *entity.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	switch {
	case errors.Is(err, browser.ErrExhausted), errors.Is(err, browser.ErrLaunchFailed):
		return entity.ErrorKindPoolExhausted
	case errors.Is(err, queue.ErrFull):
		return entity.ErrorKindQueueFull
	case errors.Is(err, context.DeadlineExceeded):
		return entity.ErrorKindTimeout
	}
	return entity.ErrorKindUnknown
}

type Decision struct {
	Kind  entity.ErrorKind
	Retry bool
	Delay time.Duration
}

// Coordinator applies one retry policy to every job in the system.
type Coordinator struct {
	policy entity.RetryPolicy
}

func NewCoordinator(policy entity.RetryPolicy) *Coordinator {
	return &Coordinator{policy: policy}
}

// Decide reports whether a job whose attempt just failed with err
// should run again. attempts counts executed attempts including the
// failed one; maxAttempts of zero falls back to the policy default.
func (c *Coordinator) Decide(err error, attempts, maxAttempts int) Decision {
	d := Decision{Kind: Classify(err)}

	if maxAttempts <= 0 {
		maxAttempts = c.policy.MaxAttempts
	}
	if !c.policy.IsRetryable(d.Kind) {
		return d
	}
	if attempts >= maxAttempts {
		return d
	}

	d.Retry = true
	d.Delay = c.policy.Backoff(attempts)
	return d
}
