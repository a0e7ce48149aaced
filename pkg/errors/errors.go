package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Session pool outcomes. The caller must branch on the code: a full pool is
// transient and worth waiting out, an invalid session needs re-authentication.
var (
	ErrSlotsFull      = New("SLOTS_FULL", http.StatusServiceUnavailable, "all session slots are serving active transfers")
	ErrInvalidSession = New("INVALID_SESSION", http.StatusUnauthorized, "session is no longer authorized, please re-authenticate")
	ErrCreationFailed = New("CREATION_FAILED", http.StatusBadGateway, "failed to establish platform session")
)

// Transfer outcomes.
var (
	ErrTransferTransient = New("TRANSFER_TRANSIENT", http.StatusBadGateway, "transient transfer error")
	ErrTransferFatal     = New("TRANSFER_FATAL", http.StatusUnprocessableEntity, "transfer failed permanently")
	ErrCancelled         = New("CANCELLED", http.StatusConflict, "transfer cancelled")
	ErrDeadlineExceeded  = New("DEADLINE_EXCEEDED", http.StatusGatewayTimeout, "transfer deadline exceeded")
	ErrQueueFull         = New("QUEUE_FULL", http.StatusTooManyRequests, "transfer queue is full, please try again later")
	ErrDuplicateTask     = New("DUPLICATE_TASK", http.StatusConflict, "a transfer for this user is already queued or active")
	ErrFileTooLarge      = New("FILE_TOO_LARGE", http.StatusRequestEntityTooLarge, "file exceeds the size limit for this account tier")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the same code as target. Predefined errors
// double as sentinels; wrapped copies produced by Wrap and Clone still match.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
