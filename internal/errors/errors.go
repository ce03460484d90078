package errors

import (
	"errors"
	"fmt"
)

// SuggestError is the structured error type for suggest.
// It provides rich context for error handling, logging, and user presentation.
type SuggestError struct {
	// Code is the unique error code (e.g., "ERR_203_DOCUMENT_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *SuggestError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SuggestError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with SuggestError.
func (e *SuggestError) Is(target error) bool {
	if t, ok := target.(*SuggestError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *SuggestError) WithDetail(key, value string) *SuggestError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *SuggestError) WithSuggestion(suggestion string) *SuggestError {
	e.Suggestion = suggestion
	return e
}

// New creates a new SuggestError with the given code and message.
// Category and severity are derived from the code.
func New(code string, message string, cause error) *SuggestError {
	return &SuggestError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates a SuggestError from an existing error.
// The error's message becomes the SuggestError message.
func Wrap(code string, err error) *SuggestError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *SuggestError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates a store operation error.
func StoreError(message string, cause error) *SuggestError {
	return New(ErrCodeStoreOperation, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *SuggestError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *SuggestError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first SuggestError in err's chain.
func As(err error) (*SuggestError, bool) {
	var se *SuggestError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	se, ok := As(err)
	return ok && se.Severity == SeverityFatal
}

// HasCode reports whether any SuggestError in err's chain carries code.
func HasCode(err error, code string) bool {
	return errors.Is(err, &SuggestError{Code: code})
}

// GetCode extracts the error code from a SuggestError.
// Returns empty string if not a SuggestError.
func GetCode(err error) string {
	if se, ok := As(err); ok {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a SuggestError.
// Returns empty string if not a SuggestError.
func GetCategory(err error) Category {
	if se, ok := As(err); ok {
		return se.Category
	}
	return ""
}
