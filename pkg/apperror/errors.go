package apperror

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrConsistencyFault    = errors.New("consistency fault")
	ErrTransport           = errors.New("store unavailable")
	ErrInternal            = errors.New("internal server error")
)

// AppError is a custom error type that can hold an HTTP status code
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Invalid wraps a validation message as ErrInvalidOperation.
func Invalid(message string) *AppError {
	return New(http.StatusBadRequest, message, ErrInvalidOperation)
}

// NotFound wraps a message as ErrNotFound.
func NotFound(message string) *AppError {
	return New(http.StatusNotFound, message, ErrNotFound)
}

// Forbidden wraps a message as ErrForbidden.
func Forbidden(message string) *AppError {
	return New(http.StatusForbidden, message, ErrForbidden)
}

// IsRetryable reports whether the caller may safely retry the command.
// Conflicts and transport failures never leave a partially applied write behind.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, context.DeadlineExceeded)
}

// MapErrorToStatus maps common errors to HTTP status codes
func MapErrorToStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != 0 {
		return appErr.Code
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrForbidden) {
		return http.StatusForbidden
	}
	if errors.Is(err, ErrInvalidOperation) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrConcurrencyConflict) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	// Default to internal server error
	return http.StatusInternalServerError
}
