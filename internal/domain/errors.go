package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes search failures
type ErrorKind string

const (
	KindConfiguration     ErrorKind = "configuration"
	KindRateLimited       ErrorKind = "rate_limited"
	KindTransient         ErrorKind = "transient"
	KindUpstreamExhausted ErrorKind = "upstream_exhausted"
	KindTierUnavailable   ErrorKind = "tier_unavailable"
	KindInvalidQuery      ErrorKind = "invalid_query"
)

// SearchError is an error with a kind used for retry and surfacing decisions
type SearchError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to work
func (e *SearchError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a fatal configuration error
func NewConfigurationError(message string) error {
	return &SearchError{Kind: KindConfiguration, Message: message}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(message string, err error) error {
	return &SearchError{Kind: KindRateLimited, Message: message, Err: err}
}

// NewTransientError creates a retryable error
func NewTransientError(message string, err error) error {
	return &SearchError{Kind: KindTransient, Message: message, Err: err}
}

// NewExhaustedError creates an error reporting that retries ran out
func NewExhaustedError(message string, err error) error {
	return &SearchError{Kind: KindUpstreamExhausted, Message: message, Err: err}
}

// NewTierError creates a cache tier failure
func NewTierError(tier string, err error) error {
	return &SearchError{Kind: KindTierUnavailable, Message: tier + " tier unavailable", Err: err}
}

// KindOf returns the kind of err, or an empty kind when err is not a SearchError
func KindOf(err error) ErrorKind {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsRetryable reports whether err may succeed on a later attempt
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// MessageOf returns the caller-facing message for err
func MessageOf(err error) string {
	var se *SearchError
	if errors.As(err, &se) {
		switch se.Kind {
		case KindConfiguration:
			return "search service not configured: " + se.Message
		case KindRateLimited:
			return "search provider is rate limiting requests, try again later"
		case KindUpstreamExhausted:
			return "search provider unavailable: " + se.Message
		}
		return se.Message
	}
	return err.Error()
}

// NewInvalidQueryError creates an error for a request that cannot be served as given
func NewInvalidQueryError(message string) error {
	return &SearchError{Kind: KindInvalidQuery, Message: message}
}
