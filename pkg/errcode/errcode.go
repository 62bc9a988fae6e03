// Package errcode defines the stable error taxonomy exported to callers.
//
// Every failure surfaced across a package boundary carries one of the
// enumerated [Code] values. Codes are stable strings; the human-readable
// message for a code is looked up per locale. [Validate] checks at startup
// that every locale table covers every code and message key, so a missing
// translation aborts the process instead of appearing at error time.
package errcode

import (
	"errors"
	"fmt"
)

// Code is a stable error code string.
type Code string

// Parameter and validation errors.
const (
	InvalidParameter Code = "INVALID_PARAMETER"
	ValidationError  Code = "VALIDATION_ERROR"
	ResourceNotFound Code = "RESOURCE_NOT_FOUND"
)

// Database and store errors.
const (
	DatabaseError      Code = "DATABASE_ERROR"
	DatabaseQueryError Code = "DATABASE_QUERY_ERROR"
	DatabaseTimeout    Code = "DATABASE_TIMEOUT"
)

// Network and external service errors.
const (
	HTTPTimeout          Code = "HTTP_TIMEOUT"
	ExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	APIRateLimitExceeded Code = "API_RATE_LIMIT_EXCEEDED"
)

// LLM errors.
const (
	LLMCallFailed         Code = "LLM_CALL_FAILED"
	LLMOutputParsingError Code = "LLM_OUTPUT_PARSING_ERROR"
	LLMRetryExhausted     Code = "LLM_RETRY_EXHAUSTED"
)

// Codes returns all defined error codes.
func Codes() []Code {
	return []Code{
		InvalidParameter,
		ValidationError,
		ResourceNotFound,
		DatabaseError,
		DatabaseQueryError,
		DatabaseTimeout,
		HTTPTimeout,
		ExternalServiceError,
		APIRateLimitExceeded,
		LLMCallFailed,
		LLMOutputParsingError,
		LLMRetryExhausted,
	}
}

// Key is a localized message key for operational strings that are not
// error codes (queue rejection reasons, consumer states).
type Key string

// Message keys.
const (
	KeyQueueFull     Key = "queue_full"
	KeyDeliveryError Key = "delivery_error"
	KeyJoinRequired  Key = "join_required"
	KeyNoQueues      Key = "no_queues"
)

// Keys returns all defined message keys.
func Keys() []Key {
	return []Key{KeyQueueFull, KeyDeliveryError, KeyJoinRequired, KeyNoQueues}
}

// Error is a code-carrying error. Detail is free-form context for logs;
// the localized message comes from the code.
type Error struct {
	Code   Code
	Detail string
	Err    error
}

// New creates an Error with the given code and detail.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Newf creates an Error with a formatted detail.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping err.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return string(e.Code)
	}
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the error code from err.
// Returns empty string and false if err carries no code.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
