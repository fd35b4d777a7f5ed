// Package apperr defines the error taxonomy shared by every layer of the
// service. Errors carry a kind and an HTTP status hint so the request
// dispatcher can translate them into responses without inspecting messages.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

// Kind classifies an error for response mapping and logging.
type Kind int

const (
	KindUnclassified Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotFound
	KindConflict
	KindStorage
	KindProvider
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	case KindProvider:
		return "provider"
	case KindCanceled:
		return "canceled"
	default:
		return "unclassified"
	}
}

const (
	msgStorage         = "Database error"
	msgInternal        = "Internal server error"
	msgProvider        = "External search failed"
	msgProviderTimeout = "External search timed out"
	msgCanceled        = "Request canceled"

	// StatusClientClosedRequest is written when the caller went away before
	// the response was ready.
	StatusClientClosedRequest = 499
)

// Error is a classified failure. Message is safe to show to clients; Err
// holds the underlying cause and is only ever logged.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message == "" {
			return e.Err.Error()
		}
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status carried by the error, defaulting to 400
// when none was assigned.
func (e *Error) Status() int {
	if e.Code == 0 {
		return http.StatusBadRequest
	}
	return e.Code
}

// Internal reports whether the failure should be logged with its cause.
func (e *Error) Internal() bool {
	switch e.Kind {
	case KindStorage, KindProvider, KindUnclassified:
		return true
	}
	return false
}

func New(kind Kind, code int, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(message string) *Error {
	return New(KindValidation, http.StatusBadRequest, message)
}

func Unprocessable(message string) *Error {
	return New(KindValidation, http.StatusUnprocessableEntity, message)
}

func Unauthorized(message string) *Error {
	return New(KindAuth, http.StatusUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, http.StatusForbidden, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, http.StatusNotFound, message)
}

func Conflict(message string) *Error {
	return New(KindConflict, http.StatusConflict, message)
}

// Storage wraps a persistence failure behind a generic client message.
func Storage(err error) *Error {
	return &Error{Kind: KindStorage, Code: http.StatusInternalServerError, Message: msgStorage, Err: err}
}

// Provider wraps an upstream catalog failure.
func Provider(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ProviderTimeout(err)
	}
	return &Error{Kind: KindProvider, Code: http.StatusBadGateway, Message: msgProvider, Err: err}
}

func ProviderTimeout(err error) *Error {
	return &Error{Kind: KindProvider, Code: http.StatusGatewayTimeout, Message: msgProviderTimeout, Err: err}
}

// Canceled marks work abandoned because the caller's context was cancelled.
// It is not an internal failure and is never logged with its cause.
func Canceled(err error) *Error {
	return &Error{Kind: KindCanceled, Code: StatusClientClosedRequest, Message: msgCanceled, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindUnclassified, Code: http.StatusInternalServerError, Message: msgInternal, Err: err}
}

// From classifies err. Errors that are not already an *Error become
// unclassified internal failures.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.Canceled) {
		return Canceled(err)
	}
	return Internal(err)
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
