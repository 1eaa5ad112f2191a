// Package apperr defines the error kinds shared by the radiology services and
// maps them to HTTP status codes for the echo handlers.
package apperr

import (
	"errors"
	"net/http"
)

// Sentinel error kinds. Match with errors.Is.
var (
	ErrArgument          = errors.New("invalid argument")
	ErrConfiguration     = errors.New("invalid configuration")
	ErrParse             = errors.New("parse error")
	ErrStorage           = errors.New("storage error")
	ErrDuplicateTemplate = errors.New("duplicate template")
	ErrPersistence       = errors.New("persistence error")
	ErrNotFound          = errors.New("not found")
)

// Error carries a kind, the message shown to callers and an optional cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool { return e.Kind == target }

// Message returns the caller-facing message without the wrapped cause.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.Error()
}

// Argument reports a missing or blank required argument.
func Argument(msg string) error {
	return &Error{Kind: ErrArgument, Msg: msg}
}

// Configuration reports a missing or invalid configuration value.
func Configuration(msg string) error {
	return &Error{Kind: ErrConfiguration, Msg: msg}
}

// Parse reports a non-conforming template document.
func Parse(msg string, err error) error {
	return &Error{Kind: ErrParse, Msg: msg, Err: err}
}

// Storage reports a failed filesystem operation.
func Storage(msg string, err error) error {
	return &Error{Kind: ErrStorage, Msg: msg, Err: err}
}

// DuplicateTemplate reports an identifier collision.
func DuplicateTemplate() error {
	return &Error{Kind: ErrDuplicateTemplate, Msg: "Template already exist in the system."}
}

// Persistence reports a rejected database operation.
func Persistence(msg string, err error) error {
	return &Error{Kind: ErrPersistence, Msg: msg, Err: err}
}

// NotFound reports a lookup that had to succeed but did not.
func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Msg: msg}
}

// HTTPStatus maps an error kind to the status code a handler should return.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrArgument), errors.Is(err, ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateTemplate):
		return http.StatusConflict
	case errors.Is(err, ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message to expose to API clients. Causes of
// storage and persistence failures stay in the logs.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return "internal server error"
}
