// Package apperr provides typed errors shared across the service. The webhook
// pipeline uses the kind to tell bad input ("skipped") from a failing
// collaborator ("error"); the HTTP layer maps kinds to status codes for the
// non-webhook routes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of error.
type Kind int

const (
	// KindUnknown is the default error kind when none is specified.
	KindUnknown Kind = iota
	// KindValidation indicates a payload that fails domain rules.
	KindValidation
	// KindBadRequest indicates a payload that cannot be parsed at all.
	KindBadRequest
	// KindConflict indicates a lost optimistic write.
	KindConflict
	// KindUnavailable indicates a collaborator (store, external API) could not be reached.
	KindUnavailable
	// KindInternal indicates an unexpected internal error.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is an error with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Op      string // operation that failed, optional
	Err     error  // cause, optional
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WithOp sets the failing operation and returns the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func Validation(message string) *Error { return &Error{Kind: KindValidation, Message: message} }
func BadRequest(message string) *Error { return &Error{Kind: KindBadRequest, Message: message} }
func Conflict(message string) *Error   { return &Error{Kind: KindConflict, Message: message} }

// Unavailable wraps a transport failure of a collaborator.
func Unavailable(message string, cause error) *Error {
	return Wrap(KindUnavailable, message, cause)
}

// GetKind extracts the kind from an error chain, KindUnknown if none.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsDataError reports whether err describes bad input rather than a failing
// collaborator. Data errors are skipped, never retried.
func IsDataError(err error) bool {
	switch GetKind(err) {
	case KindValidation, KindBadRequest:
		return true
	default:
		return false
	}
}
