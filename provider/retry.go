package provider

import (
	"errors"
	"time"
)

// RetryDecision is the outcome of classifying one failed attempt: either
// give up, or try again after a delay.
type RetryDecision struct {
	Retry bool
	After time.Duration
}

// NoRetry surfaces the error to the caller.
func NoRetry() RetryDecision { return RetryDecision{} }

// RetryAfter schedules another attempt after d.
func RetryAfter(d time.Duration) RetryDecision {
	return RetryDecision{Retry: true, After: d}
}

// RetryPolicy decides which failures are worth another attempt.
//
// The default is deliberately asymmetric: transport-level failures
// (connection closed, refused, timed out) retry immediately because they
// are usually transient socket races, while HTTP responses of any status
// do not retry because their bodies carry actionable, non-transient
// information. Providers wanting 429/5xx retries opt in through the
// RetryClassifier interface.
type RetryPolicy struct {
	// MaxAttempts is the total attempt ceiling, first try included.
	MaxAttempts int

	// Delay maps the 1-based attempt number to the pause before the next
	// attempt. Nil means immediate retry.
	Delay func(attempt int) time.Duration
}

// DefaultRetryPolicy returns the stock policy: three attempts, no delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3}
}

// Classify is a pure function of (error, attempt, policy). attempt is
// 1-based: the attempt that just failed. Timeouts arrive wrapped in
// TransportError and classify like any other transport fault; the
// pipeline separately stops retrying once the caller's context is done.
func (p RetryPolicy) Classify(err error, attempt int) RetryDecision {
	if attempt >= p.MaxAttempts {
		return NoRetry()
	}

	var te *TransportError
	if !errors.As(err, &te) {
		return NoRetry()
	}
	if p.Delay == nil {
		return RetryAfter(0)
	}
	return RetryAfter(p.Delay(attempt))
}

// RetryClassifier lets a caller override the default retry policy, for
// example to retry a provider's known-flaky transient status code.
type RetryClassifier interface {
	ClassifyRetry(err error, attempt int) RetryDecision
}

// ClassifyRetry makes RetryPolicy a RetryClassifier.
func (p RetryPolicy) ClassifyRetry(err error, attempt int) RetryDecision {
	return p.Classify(err, attempt)
}
