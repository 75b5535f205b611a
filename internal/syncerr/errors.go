// Package syncerr provides the structured error type used by every unit of
// sync work. Errors carry a category, a code, and a retryable flag so callers
// can decide whether to skip the unit, retry it later, or halt the run.
package syncerr

import (
	"errors"
	"fmt"
)

// Category classifies errors by the stage that produced them.
type Category string

const (
	CategorySource Category = "SOURCE" // network or API failure talking to the source
	CategorySchema Category = "SCHEMA" // DDL or introspection failure
	CategoryWrite  Category = "WRITE"  // upsert or junction population failure
	CategoryConfig Category = "CONFIG" // missing credentials, unknown tables, bad files
	CategoryFatal  Category = "FATAL"  // the run cannot start
)

// Error codes per category.
const (
	// Source codes
	CodeRequestFailed = "REQUEST_FAILED"
	CodeHTTPStatus    = "HTTP_STATUS"
	CodeRateLimited   = "RATE_LIMITED"
	CodeBreakerOpen   = "BREAKER_OPEN"
	CodeDecodeFailed  = "DECODE_FAILED"

	// Schema codes
	CodeIntrospect  = "INTROSPECT_FAILED"
	CodeCreateTable = "CREATE_TABLE_FAILED"
	CodeAddColumn   = "ADD_COLUMN_FAILED"

	// Write codes
	CodeBatchFailed    = "BATCH_FAILED"
	CodeWatermark      = "WATERMARK_FAILED"
	CodeJunctionFailed = "JUNCTION_FAILED"

	// Config codes
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeUnknownTable       = "UNKNOWN_TABLE"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeAlreadyRunning     = "ALREADY_RUNNING"

	// Fatal codes
	CodeNoConnection = "NO_CONNECTION"
)

// Error is the structured error type for sync work.
type Error struct {
	Category  Category
	Code      string
	Message   string
	Details   map[string]any
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category Category, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping cause.
func Wrap(category Category, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithRetryable returns a copy of the error with the retryable flag overridden.
func (e *Error) WithRetryable(retryable bool) *Error {
	cp := *e
	cp.Retryable = retryable
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsFatal reports whether err must halt the whole run.
func IsFatal(err error) bool {
	return GetCategory(err) == CategoryFatal
}

// GetCategory extracts the category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) Category {
	var se *Error
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the code from an error chain.
func GetCode(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetDetails extracts the details map from an error chain.
func GetDetails(err error) map[string]any {
	var se *Error
	if errors.As(err, &se) {
		return se.Details
	}
	return nil
}

func isRetryable(category Category, code string) bool {
	switch {
	case category == CategorySource && code == CodeRequestFailed:
		return true
	case category == CategorySource && code == CodeRateLimited:
		return true
	case category == CategorySource && code == CodeBreakerOpen:
		return true
	default:
		return false
	}
}

// Convenience constructors.

func NewSourceError(code, message string, cause error) *Error {
	return Wrap(CategorySource, code, message, cause)
}

func NewSchemaError(code, message string, cause error) *Error {
	return Wrap(CategorySchema, code, message, cause)
}

func NewWriteError(code, message string, cause error) *Error {
	return Wrap(CategoryWrite, code, message, cause)
}

func NewConfigError(code, message string) *Error {
	return New(CategoryConfig, code, message)
}

func NewFatalError(message string, cause error) *Error {
	return Wrap(CategoryFatal, CodeNoConnection, message, cause)
}
