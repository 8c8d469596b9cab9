package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound           ErrCode = "NOT_FOUND"
	ErrCodeLoginRequired      ErrCode = "LOGIN_REQUIRED"
	ErrCodeInsufficientAccess ErrCode = "INSUFFICIENT_ACCESS"
	ErrCodeUnprocessable      ErrCode = "UNPROCESSABLE"
	ErrCodeConflict           ErrCode = "CONFLICT"
	ErrCodeBadRequest         ErrCode = "BAD_REQUEST"
	ErrCodeInternal           ErrCode = "INTERNAL_ERROR"
)

// AppError represents an application error.
// Every AppError is terminal for the request that produced it.
type AppError struct {
	Code         ErrCode
	Message      string
	ResourceType string // set for not found and insufficient access
	Permission   string // capability that was missing
	Err          error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error.
// Missing and invisible resources share this error so that existence is not disclosed.
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:         ErrCodeNotFound,
		Message:      fmt.Sprintf("%s not found (or insufficient access)", resource),
		ResourceType: resource,
	}
}

// NewLoginRequiredError creates a new login required error
func NewLoginRequiredError() *AppError {
	return &AppError{
		Code:    ErrCodeLoginRequired,
		Message: "login required",
	}
}

// NewInsufficientAccessError creates a new authorization error for a missing capability
func NewInsufficientAccessError(resource, permission string) *AppError {
	return &AppError{
		Code:         ErrCodeInsufficientAccess,
		Message:      fmt.Sprintf("operation requires %s access to %s", permission, resource),
		ResourceType: resource,
		Permission:   permission,
	}
}

// NewUnprocessableError creates a new domain validation error
func NewUnprocessableError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUnprocessable,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeConflict,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// As returns the AppError in err's chain, if any
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsUnprocessable checks if the error is a domain validation error
func IsUnprocessable(err error) bool {
	return hasCode(err, ErrCodeUnprocessable)
}

// IsInsufficientAccess checks if the error is an authorization error
func IsInsufficientAccess(err error) bool {
	return hasCode(err, ErrCodeInsufficientAccess)
}

func hasCode(err error, code ErrCode) bool {
	if appErr, ok := As(err); ok {
		return appErr.Code == code
	}
	return false
}
