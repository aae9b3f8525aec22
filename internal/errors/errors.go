package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource (job, page, variant config) was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., duplicate active job).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeBudgetExceeded indicates a pre-flight budget check failed.
	// Budget errors abort the whole job and are never retried.
	ErrCodeBudgetExceeded ErrorCode = "budget_exceeded"
	// ErrCodeProvider indicates an unrecoverable upstream provider error.
	ErrCodeProvider ErrorCode = "provider"
	// ErrCodeTransient indicates a retryable failure (network, HTTP 429/5xx).
	ErrCodeTransient ErrorCode = "transient"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the content field being translated when the error occurred (optional)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithField returns a copy of the error annotated with the offending field name.
func (e *AppError) WithField(field string) *AppError {
	clone := *e
	clone.Field = field
	return &clone
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: message,
	}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf(format, args...),
	}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: message,
	}
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf(format, args...),
	}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// BudgetExceeded creates a new BudgetExceeded error.
func BudgetExceeded(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBudgetExceeded,
		Message: message,
	}
}

// BudgetExceededf creates a new BudgetExceeded error with formatted message.
func BudgetExceededf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeBudgetExceeded,
		Message: fmt.Sprintf(format, args...),
	}
}

// Provider creates a new non-retryable Provider error.
func Provider(message string) *AppError {
	return &AppError{
		Code:    ErrCodeProvider,
		Message: message,
	}
}

// Providerf creates a new Provider error with formatted message.
func Providerf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeProvider,
		Message: fmt.Sprintf(format, args...),
	}
}

// Transient creates a new retryable Transient error.
func Transient(message string) *AppError {
	return &AppError{
		Code:    ErrCodeTransient,
		Message: message,
	}
}

// Transientf creates a new Transient error with formatted message.
func Transientf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeTransient,
		Message: fmt.Sprintf(format, args...),
	}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
	}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsBudgetExceeded checks if an error is a BudgetExceeded error.
func IsBudgetExceeded(err error) bool {
	return isCode(err, ErrCodeBudgetExceeded)
}

// IsTransient checks if an error is a retryable Transient error.
func IsTransient(err error) bool {
	return isCode(err, ErrCodeTransient)
}

// IsProvider checks if an error is a Provider error.
func IsProvider(err error) bool {
	return isCode(err, ErrCodeProvider)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
