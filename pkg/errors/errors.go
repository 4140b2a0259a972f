// Package errors provides structured error handling for the QuickStats connector
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeRateLimit represents rate limit errors (HTTP 429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents network connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeTransient represents server-side failures that may succeed on retry (HTTP 5xx)
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeAuthentication represents missing or rejected credentials
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeMalformed represents a response body that breaks the API contract
	ErrorTypeMalformed ErrorType = "malformed"
	// ErrorTypeData represents data processing errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeQuery represents a query rejected by the API
	ErrorTypeQuery ErrorType = "query"
)

// Detail keys understood by the helpers in this package.
const (
	DetailRetryAfter    = "retry_after"
	DetailStatusCode    = "status_code"
	DetailLimitExceeded = "limit_exceeded"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value previously attached with WithDetail.
func (e *Error) Detail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack and details
	var existingErr *Error
	if errors.As(err, &existingErr) {
		wrapped := &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
		for k, v := range existingErr.Details {
			wrapped.WithDetail(k, v)
		}
		return wrapped
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Auth returns an authentication error.
func Auth(message string) *Error {
	e := New(ErrorTypeAuthentication, message)
	e.Stack = captureStack(2)
	return e
}

// RateLimited returns a rate limit error carrying the server's requested delay (zero when
// the server gave none).
func RateLimited(message string, retryAfter time.Duration) *Error {
	e := New(ErrorTypeRateLimit, message)
	e.Stack = captureStack(2)
	if retryAfter > 0 {
		e.WithDetail(DetailRetryAfter, retryAfter)
	}
	return e
}

// Transient wraps a network failure or server-side error that may succeed on retry.
func Transient(err error, message string) *Error {
	if err == nil {
		e := New(ErrorTypeTransient, message)
		e.Stack = captureStack(2)
		return e
	}
	return Wrap(err, ErrorTypeTransient, message)
}

// Malformed returns an error for a response that does not match the API contract.
func Malformed(err error, message string) *Error {
	if err == nil {
		e := New(ErrorTypeMalformed, message)
		e.Stack = captureStack(2)
		return e
	}
	return Wrap(err, ErrorTypeMalformed, message)
}

// LimitExceeded returns a query error reporting that the result set is over the server cap.
func LimitExceeded(message string) *Error {
	e := New(ErrorTypeQuery, message)
	e.Stack = captureStack(2)
	return e.WithDetail(DetailLimitExceeded, true)
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeConnection, ErrorTypeTransient:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsAuth reports whether err is an authentication error.
func IsAuth(err error) bool {
	return IsType(err, ErrorTypeAuthentication)
}

// IsRateLimit reports whether err is a rate limit error.
func IsRateLimit(err error) bool {
	return IsType(err, ErrorTypeRateLimit)
}

// IsTransient reports whether err is a network or server-side error worth retrying.
// Rate limiting is reported separately by IsRateLimit.
func IsTransient(err error) bool {
	return IsType(err, ErrorTypeTransient) || IsType(err, ErrorTypeConnection) || IsType(err, ErrorTypeTimeout)
}

// IsMalformed reports whether err is a malformed response error.
func IsMalformed(err error) bool {
	return IsType(err, ErrorTypeMalformed)
}

// IsLimitExceeded reports whether err says the query matched more rows than the API returns.
func IsLimitExceeded(err error) bool {
	var e *Error
	for current := err; errors.As(current, &e); current = e.Cause {
		if v, ok := e.Detail(DetailLimitExceeded); ok {
			if b, _ := v.(bool); b {
				return true
			}
		}
		if e.Cause == nil {
			break
		}
	}
	return false
}

// RetryAfter returns the delay requested by the server for a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	v, ok := e.Detail(DetailRetryAfter)
	if !ok {
		return 0, false
	}
	d, ok := v.(time.Duration)
	return d, ok && d > 0
}

// As is errors.As, re-exported so callers importing this package need not alias the standard one.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
