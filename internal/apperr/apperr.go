package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for the caller.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindPreconditionFailed
	KindExpired
	KindExternalAuth
	KindUpstreamTimeout
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindExpired:
		return "expired"
	case KindExternalAuth:
		return "external_auth"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error is the single error type crossing service boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// ClientFault marks collaborator failures caused by the caller's input
	// (e.g. a rejected authorisation code). They map to 400 instead of 500.
	ClientFault bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s (%v)", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) *Error {
	return newf(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, format, args...)
}

func Conflict(op, format string, args ...any) *Error {
	return newf(KindConflict, op, format, args...)
}

func PreconditionFailed(op, format string, args ...any) *Error {
	return newf(KindPreconditionFailed, op, format, args...)
}

func Expired(op, format string, args ...any) *Error {
	return newf(KindExpired, op, format, args...)
}

func ExternalAuth(op string, clientFault bool, err error) *Error {
	return &Error{Kind: KindExternalAuth, Op: op, Message: "authorisation exchange failed", ClientFault: clientFault, Err: err}
}

func UpstreamTimeout(op string, err error) *Error {
	return &Error{Kind: KindUpstreamTimeout, Op: op, Message: "upstream did not answer in time", Err: err}
}

func Upstream(op string, clientFault bool, err error) *Error {
	return &Error{Kind: KindUpstream, Op: op, Message: "upstream call failed", ClientFault: clientFault, Err: err}
}

func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error onto the flat 400/500 contract.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation, KindNotFound, KindConflict, KindPreconditionFailed, KindExpired:
		return http.StatusBadRequest
	case KindExternalAuth, KindUpstream:
		if e.ClientFault {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to return to API callers.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return e.Message
}
