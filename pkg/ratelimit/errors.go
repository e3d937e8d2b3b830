package ratelimit

import "net/http"

// RateLimitError is the only error surfaced to callers on a denial. Callers
// cannot distinguish a policy denial from a degraded fallback denial; both
// carry the policy's configured message.
type RateLimitError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RateLimitError) Error() string {
	return e.Message
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

func newRateLimitError(message string, err error) *RateLimitError {
	if message == "" {
		message = DefaultDenialMessage
	}
	return &RateLimitError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Err:        err,
	}
}
