package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to callers.
const (
	CodeValidation                 = "VALIDATION_FAILED"
	CodeNotFound                   = "NOT_FOUND"
	CodeUnauthorized               = "UNAUTHORIZED"
	CodeForbidden                  = "FORBIDDEN"
	CodeInternal                   = "INTERNAL_ERROR"
	CodeInvalidTransition          = "INVALID_TRANSITION"
	CodeTicketNotFound             = "TICKET_NOT_FOUND"
	CodeStorageUnavailable         = "STORAGE_UNAVAILABLE"
	CodeConcurrentModificationLost = "CONCURRENT_MODIFICATION_LOST"
)

type detailer interface {
	Details() map[string]any
}

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Retryable  bool
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewInvalidTransition reports an action that is not legal for the ticket's current status.
// Details are taken from err when it provides them.
func NewInvalidTransition(err error) error {
	var details map[string]any
	var d detailer
	if errors.As(err, &d) {
		details = d.Details()
	}
	return &DomainError{
		Code:       CodeInvalidTransition,
		Message:    "invalid ticket transition",
		HTTPStatus: http.StatusConflict,
		Details:    details,
		Err:        err,
	}
}

// NewTicketNotFound reports a reference to a ticket id that does not exist.
func NewTicketNotFound(id int64) error {
	return &DomainError{
		Code:       CodeTicketNotFound,
		Message:    "ticket not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"ticket_id": id},
	}
}

// NewStorageUnavailable wraps a backend failure or timeout. The write may or may not have happened.
func NewStorageUnavailable(err error) error {
	return &DomainError{
		Code:       CodeStorageUnavailable,
		Message:    "ticket storage unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
		Err:        err,
	}
}

// NewConcurrentModificationLost reports that per-ticket serialization could not be obtained or was bypassed.
func NewConcurrentModificationLost(id int64, err error) error {
	return &DomainError{
		Code:       CodeConcurrentModificationLost,
		Message:    "concurrent modification lost",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
		Details:    map[string]any{"ticket_id": id},
		Err:        err,
	}
}

// HasCode reports whether err carries a DomainError with the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// IsRetryable reports whether the caller may retry after re-reading current state.
func IsRetryable(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
