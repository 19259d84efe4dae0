package errors

import (
	stderrors "errors"
	"fmt"
)

// WatchError is the structured error type for jeeves-watcher.
// It carries enough context for error handling, structured logging, and
// user presentation.
type WatchError struct {
	// Code is the unique error code (e.g., "ERR_301_VECTOR_STORE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *WatchError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *WatchError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with WatchError.
func (e *WatchError) Is(target error) bool {
	if t, ok := target.(*WatchError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *WatchError) WithDetail(key, value string) *WatchError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new WatchError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *WatchError {
	return &WatchError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a WatchError from an existing error.
// The error's message becomes the WatchError message.
func Wrap(code string, err error) *WatchError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Normalize converts an arbitrary recovered value into an error.
// Non-error values are stringified and wrapped so structured logs
// always carry a message and a cause.
func Normalize(v any) error {
	switch err := v.(type) {
	case nil:
		return nil
	case *WatchError:
		return err
	case error:
		return Wrap(ErrCodeInternal, err)
	default:
		return New(ErrCodeInternal, fmt.Sprintf("%v", v), fmt.Errorf("%v", v))
	}
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *WatchError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// VectorStoreError creates a vector-store transport error.
// These are retryable by default.
func VectorStoreError(message string, cause error) *WatchError {
	return New(ErrCodeVectorStore, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a WatchError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if we, ok := err.(*WatchError); ok {
		return we.Retryable
	}
	return false
}

// IsCode reports whether any error in the chain carries the given
// code. Unlike GetCode it sees through wrapping.
func IsCode(err error, code string) bool {
	return stderrors.Is(err, &WatchError{Code: code})
}

// GetCode extracts the error code from a WatchError.
// Returns empty string if not a WatchError.
func GetCode(err error) string {
	if we, ok := err.(*WatchError); ok {
		return we.Code
	}
	return ""
}
