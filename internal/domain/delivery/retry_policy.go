package delivery

import (
	"math"
	"strings"
	"time"
)

// RetryStrategy selects how the delay between delivery attempts grows
type RetryStrategy string

const (
	RetryImmediate          RetryStrategy = "immediate"
	RetryExponentialBackoff RetryStrategy = "exponential_backoff"
	RetryFixedInterval      RetryStrategy = "fixed_interval"
	RetryCustom             RetryStrategy = "custom"
)

// IsValid reports whether s is a known strategy
func (s RetryStrategy) IsValid() bool {
	switch s {
	case RetryImmediate, RetryExponentialBackoff, RetryFixedInterval, RetryCustom:
		return true
	}
	return false
}

// Error keywords used to classify delivery failures
const (
	ErrorConnectionTimeout    = "connection_timeout"
	ErrorConnectionRefused    = "connection_refused"
	ErrorNetwork              = "network_error"
	ErrorTemporaryFailure     = "temporary_failure"
	ErrorInvalidMessage       = "invalid_message"
	ErrorAuthenticationFailed = "authentication_failed"
	ErrorAuthorizationFailed  = "authorization_failed"
)

// RetryPolicy controls how failed deliveries are retried
type RetryPolicy struct {
	Strategy          RetryStrategy
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// RetryOnErrors lists error keywords that are known to be transient
	RetryOnErrors []string
	// DeadLetterOnErrors lists error keywords that send a message straight to the dead letter queue
	DeadLetterOnErrors []string
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Strategy:          RetryExponentialBackoff,
		MaxRetries:        3,
		InitialDelay:      60 * time.Second,
		MaxDelay:          3600 * time.Second,
		BackoffMultiplier: 2.0,
		RetryOnErrors: []string{
			ErrorConnectionTimeout,
			ErrorConnectionRefused,
			ErrorNetwork,
			ErrorTemporaryFailure,
		},
		DeadLetterOnErrors: []string{
			ErrorInvalidMessage,
			ErrorAuthenticationFailed,
			ErrorAuthorizationFailed,
		},
	}
}

// Delay returns the wait before the next attempt once retryCount attempts have failed.
// Delays are truncated to whole seconds.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	switch p.Strategy {
	case RetryImmediate:
		return 0
	case RetryExponentialBackoff:
		exp := retryCount - 1
		if exp < 0 {
			exp = 0
		}
		seconds := p.InitialDelay.Seconds() * math.Pow(p.BackoffMultiplier, float64(exp))
		maxSeconds := p.MaxDelay.Seconds()
		if math.IsInf(seconds, 0) || math.IsNaN(seconds) || seconds > maxSeconds {
			return p.MaxDelay.Truncate(time.Second)
		}
		return time.Duration(int64(seconds)) * time.Second
	default:
		// fixed_interval and custom both wait the initial delay
		return p.InitialDelay
	}
}

// IsDeadLetterError reports whether errText names a failure that must not be retried
func (p RetryPolicy) IsDeadLetterError(errText string) bool {
	if errText == "" {
		return false
	}
	lowered := strings.ToLower(errText)
	for _, keyword := range p.DeadLetterOnErrors {
		if keyword != "" && strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

// IsRetryableError reports whether errText names a known transient failure.
// Unknown errors are retried too; this only distinguishes them for reporting.
func (p RetryPolicy) IsRetryableError(errText string) bool {
	lowered := strings.ToLower(errText)
	for _, keyword := range p.RetryOnErrors {
		if keyword != "" && strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

// ShouldRetry decides whether a message that has now failed retryCount times gets another attempt
func (p RetryPolicy) ShouldRetry(retryCount, maxRetries int, lastError string) bool {
	if maxRetries <= 0 {
		maxRetries = p.MaxRetries
	}
	if retryCount >= maxRetries {
		return false
	}
	return !p.IsDeadLetterError(lastError)
}

// ErrorKind returns the first known error keyword found in errText, or "other".
// It keeps metric label cardinality bounded.
func ErrorKind(errText string) string {
	lowered := strings.ToLower(errText)
	for _, keyword := range []string{
		ErrorConnectionTimeout,
		ErrorConnectionRefused,
		ErrorNetwork,
		ErrorTemporaryFailure,
		ErrorInvalidMessage,
		ErrorAuthenticationFailed,
		ErrorAuthorizationFailed,
	} {
		if strings.Contains(lowered, keyword) {
			return keyword
		}
	}
	if errText == "" {
		return ""
	}
	return "other"
}
