// Package errors is the service-wide error type. Every failure that crosses a
// package boundary is an *Error carrying one of the codes below so handlers
// can map it to a transport status without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error.
type Code string

const (
	ErrCodeNotFound          Code = "NOT_FOUND"
	ErrCodeConflict          Code = "CONFLICT"
	ErrCodeForbidden         Code = "FORBIDDEN"
	ErrCodeInvalidTransition Code = "INVALID_TRANSITION"
	ErrCodeValidation        Code = "VALIDATION_ERROR"
	ErrCodeNoApprover        Code = "NO_APPROVER_FOUND"
	ErrCodeUnauthenticated   Code = "UNAUTHENTICATED"
	ErrCodeInternal          Code = "INTERNAL"
)

// Error is a coded error with optional structured details.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error by code, so errors.Is(err, &Error{Code: X}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns e with key set in its details.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error with the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. A nil err yields nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("%s %s not found", resource, id)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// InvalidInput reports a validation failure on one field.
func InvalidInput(field, message string) *Error {
	return New(ErrCodeValidation, message).WithDetail("field", field)
}

// Conflict reports an optimistic lock mismatch. currentVersion lets the
// caller refetch and decide whether to retry.
func Conflict(resource, id string, currentVersion int) *Error {
	return New(ErrCodeConflict,
		fmt.Sprintf("%s %s was modified concurrently (current version %d)", resource, id, currentVersion)).
		WithDetail("resource", resource).
		WithDetail("id", id).
		WithDetail("currentVersion", currentVersion)
}

// Forbidden reports an actor without authority for the attempted action.
func Forbidden(message string) *Error {
	return New(ErrCodeForbidden, message)
}

// InvalidTransition reports an action that is illegal in the current state.
func InvalidTransition(from, action string) *Error {
	return New(ErrCodeInvalidTransition,
		fmt.Sprintf("action %s is not allowed in state %s", action, from)).
		WithDetail("state", from).
		WithDetail("action", action)
}

// NoApprover reports a hierarchy that cannot route the stage.
func NoApprover(stage, requesterID string) *Error {
	return New(ErrCodeNoApprover,
		fmt.Sprintf("no approver found for stage %s of requester %s", stage, requesterID)).
		WithDetail("stage", stage).
		WithDetail("requesterId", requesterID)
}

// CodeOf extracts the code of err, or ErrCodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Code == code
}

// As is errors.As re-exported so callers need a single errors import.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// Is is errors.Is re-exported.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// HTTPStatus maps a code to the HTTP status the API returns for it.
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeInvalidTransition:
		return http.StatusUnprocessableEntity
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNoApprover:
		return http.StatusFailedDependency
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrCodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
