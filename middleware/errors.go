package middleware

import "errors"

var (
	// ErrRateLimitExceeded indicates the call budget has been spent
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
