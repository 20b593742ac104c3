package model

import (
	"errors"
	"net/http"
)

// ErrorKind classifies failures reported to clients.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation_failed"
	KindUnauthenticated  ErrorKind = "unauthenticated"
	KindStoreUnavailable ErrorKind = "store_unavailable"
	KindNotFound         ErrorKind = "not_found"
	KindForbidden        ErrorKind = "forbidden"
	KindInternal         ErrorKind = "internal"
)

// Error is a classified failure. Message is safe to show to clients; Err is
// the underlying cause and is never sent over the wire.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ValidationFailed reports a missing or malformed field.
func ValidationFailed(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

// Unauthenticated reports an operation attempted without a bound identity.
func Unauthenticated(message string) error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

// StoreUnavailable wraps a persistence I/O failure.
func StoreUnavailable(err error) error {
	return &Error{Kind: KindStoreUnavailable, Message: "message store unavailable", Err: err}
}

// NotFound reports a missing entity.
func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Forbidden reports an operation on an entity the caller does not own.
func Forbidden(message string) error {
	return &Error{Kind: KindForbidden, Message: message}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the client-safe message of err.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to an HTTP status code.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
