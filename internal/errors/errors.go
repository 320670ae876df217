package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound               = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists          = new(ErrCodeAlreadyExists, "resource already exists")
	ErrConflict               = new(ErrCodeConflict, "operation conflicts with current state")
	ErrValidation             = new(ErrCodeValidation, "validation error")
	ErrInvalidStateTransition = new(ErrCodeInvalidStateTransition, "invalid state transition")
	ErrInvalidHierarchy       = new(ErrCodeInvalidHierarchy, "invalid subscription hierarchy")
	ErrPaymentFailed          = new(ErrCodePaymentFailed, "payment attempt failed")
	ErrInvalidOperation       = new(ErrCodeInvalidOperation, "invalid operation")
	ErrDatabase               = new(ErrCodeDatabase, "database error")
	ErrSystem                 = new(ErrCodeSystemError, "system error")

	// maps errors to http status codes
	statusCodeMap = map[error]int{
		ErrNotFound:               http.StatusNotFound,
		ErrAlreadyExists:          http.StatusConflict,
		ErrConflict:               http.StatusConflict,
		ErrValidation:             http.StatusBadRequest,
		ErrInvalidStateTransition: http.StatusBadRequest,
		ErrInvalidHierarchy:       http.StatusBadRequest,
		ErrPaymentFailed:          http.StatusPaymentRequired,
		ErrInvalidOperation:       http.StatusBadRequest,
		ErrDatabase:               http.StatusInternalServerError,
		ErrSystem:                 http.StatusInternalServerError,
	}
)

const (
	ErrCodeNotFound               = "not_found"
	ErrCodeAlreadyExists          = "already_exists"
	ErrCodeConflict               = "conflict"
	ErrCodeValidation             = "validation_error"
	ErrCodeInvalidStateTransition = "invalid_state_transition"
	ErrCodeInvalidHierarchy       = "invalid_hierarchy"
	ErrCodePaymentFailed          = "payment_failed"
	ErrCodeInvalidOperation       = "invalid_operation"
	ErrCodeDatabase               = "database_error"
	ErrCodeSystemError            = "system_error"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidStateTransition checks if an error is a state transition error
func IsInvalidStateTransition(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition)
}

// IsInvalidHierarchy checks if an error is a hierarchy violation
func IsInvalidHierarchy(err error) bool {
	return errors.Is(err, ErrInvalidHierarchy)
}

// IsPaymentFailed checks if an error is a failed payment attempt
func IsPaymentFailed(err error) bool {
	return errors.Is(err, ErrPaymentFailed)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsDatabase checks if an error is a database error
func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

func HTTPStatusFromErr(err error) int {
	for e, status := range statusCodeMap {
		if errors.Is(err, e) {
			return status
		}
	}
	return http.StatusInternalServerError
}
