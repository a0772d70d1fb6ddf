package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrInvalidRequest = errors.New("invalid request body")
	ErrStorage        = errors.New("storage unavailable")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrUnknownGame    = errors.New("unknown game")
	// ErrScoreStored marks a failure after the record was persisted; retrying would duplicate it.
	ErrScoreStored = errors.New("score stored, rank unavailable")
)

// ValidationError is a client-caused rejection carrying the first rule that failed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Invalid builds a ValidationError with a formatted reason.
func Invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// RateLimitError reports a request rejected by the rate limiter.
type RateLimitError struct {
	Message    string
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return e.Message
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// IsValidationError checks if an error was caused by invalid client input
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
