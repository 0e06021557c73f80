package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a closed set of application error codes. Every layer switches
// on the code; nothing inspects error message text.
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// Authentication / authorization errors
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden        ErrorCode = "FORBIDDEN"
	ErrCodeNotAParticipant  ErrorCode = "NOT_A_PARTICIPANT"

	// Not found errors
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// State / conflict errors
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
	ErrCodeConflict     ErrorCode = "CONFLICT"

	// External provider errors
	ErrCodeProvider      ErrorCode = "PROVIDER_ERROR"
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Err        error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error under the given code, preserving the cause
func Wrap(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

// Authentication errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// Authorization errors
func ForbiddenError(message string) *AppError {
	return NewWithStatus(ErrCodeForbidden, message, http.StatusForbidden)
}

// NotAParticipantError signals the caller is not invited to the session
func NotAParticipantError(message string) *AppError {
	return NewWithStatus(ErrCodeNotAParticipant, message, http.StatusForbidden)
}

// Not found errors
func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// InvalidStateError signals an operation illegal for the current call status
func InvalidStateError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidState, message, http.StatusConflict)
}

// ConflictError signals a concurrent-write conflict
func ConflictError(message string) *AppError {
	return NewWithStatus(ErrCodeConflict, message, http.StatusConflict)
}

// ProviderError wraps a media-provider failure
func ProviderError(message string, err error) *AppError {
	return Wrap(ErrCodeProvider, message, http.StatusBadGateway, err)
}

// QuotaExceededError signals a provider-side capacity limit
func QuotaExceededError(message string) *AppError {
	return NewWithStatus(ErrCodeQuotaExceeded, message, http.StatusTooManyRequests)
}

// Internal errors
func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

// DatabaseError wraps a record-store failure as internal
func DatabaseError(err error) *AppError {
	return Wrap(ErrCodeInternal, "Database error", http.StatusInternalServerError, err)
}

// GetAppError extracts an AppError from err, wrapping anything else as internal
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(ErrCodeInternal, "Internal error", http.StatusInternalServerError, err)
}

// HasCode reports whether err is an AppError carrying the given code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
