package errors

import (
	"errors"
	"fmt"
)

// FinragError is the structured error type for finrag.
// It provides rich context for error handling, logging, and user presentation.
type FinragError struct {
	// Code is the unique error code (e.g., "ERR_301_BACKEND_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinels for errors.Is matching. Matching is by code, so any FinragError
// carrying the same code satisfies errors.Is against these.
var (
	ErrBackendTimeout     = &FinragError{Code: ErrCodeBackendTimeout}
	ErrBackendUnavailable = &FinragError{Code: ErrCodeBackendUnavailable}
	ErrAllBackendsFailed  = &FinragError{Code: ErrCodeAllBackendsFailed}
	ErrInvalidInput       = &FinragError{Code: ErrCodeInvalidInput}
	ErrDimensionMismatch  = &FinragError{Code: ErrCodeDimensionMismatch}
)

// Error implements the error interface. The cause is appended unless the
// message already is the cause's text.
func (e *FinragError) Error() string {
	if e.Cause != nil {
		if cause := e.Cause.Error(); cause != e.Message {
			return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, cause)
		}
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FinragError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// Empty and over-long queries also match ErrInvalidInput.
func (e *FinragError) Is(target error) bool {
	t, ok := target.(*FinragError)
	if !ok {
		return false
	}
	if e.Code == t.Code {
		return true
	}
	return t.Code == ErrCodeInvalidInput &&
		(e.Code == ErrCodeQueryEmpty || e.Code == ErrCodeQueryTooLong)
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *FinragError) WithDetail(key, value string) *FinragError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *FinragError) WithSuggestion(suggestion string) *FinragError {
	e.Suggestion = suggestion
	return e
}

// New creates a new FinragError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *FinragError {
	return &FinragError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FinragError from an existing error.
// The error's message becomes the FinragError message.
func Wrap(code string, err error) *FinragError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *FinragError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates an error for a store that could not be opened or queried.
func StoreError(message string, cause error) *FinragError {
	return New(ErrCodeStoreQuery, message, cause)
}

// BackendTimeout reports a backend that did not answer within its budget.
func BackendTimeout(backend string, cause error) *FinragError {
	return New(ErrCodeBackendTimeout, backend+" backend timed out", cause).
		WithDetail("backend", backend)
}

// BackendUnavailable reports a backend that failed for a reason other than time.
func BackendUnavailable(backend string, cause error) *FinragError {
	return New(ErrCodeBackendUnavailable, backend+" backend unavailable", cause).
		WithDetail("backend", backend)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *FinragError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *FinragError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain holds a FinragError with Retryable set.
func IsRetryable(err error) bool {
	var fe *FinragError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var fe *FinragError
	if errors.As(err, &fe) {
		return fe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first FinragError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var fe *FinragError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// GetCategory extracts the category from the first FinragError in the chain.
func GetCategory(err error) Category {
	var fe *FinragError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ""
}
