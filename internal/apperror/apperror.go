package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so HTTP handlers can pick a status code and
// clients can decide whether a retry makes sense.
type Kind string

const (
	// Validation: malformed input, do not retry.
	Validation Kind = "validation"
	// Precondition: missing or invalid hold token / idempotency key.
	Precondition Kind = "precondition"
	// Conflict: seat or hold contention, re-acquire and retry.
	Conflict Kind = "conflict"
	// NotFound: unknown order or ticket.
	NotFound Kind = "not_found"
	// Auth: signature or tenant mismatch.
	Auth Kind = "auth"
	// System: store or database unreachable, retryable later.
	System Kind = "system"
)

// Error carries a safe public message and an internal one for logs, so
// raw driver errors never reach the client.
type Error struct {
	Kind     Kind
	Code     string
	Public   string
	Internal string
	Err      error
}

func (e *Error) Error() string {
	if e.Internal != "" {
		return e.Internal
	}
	return e.Public
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case Validation:
		return http.StatusBadRequest
	case Precondition:
		return http.StatusPreconditionFailed
	case Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case Auth:
		return http.StatusUnauthorized
	case System:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, code, public string) *Error {
	return &Error{Kind: kind, Code: code, Public: public, Internal: public}
}

// Wrap keeps the underlying error for logs while exposing only the
// public message to clients.
func Wrap(kind Kind, code, public string, err error) *Error {
	return &Error{
		Kind:     kind,
		Code:     code,
		Public:   public,
		Internal: fmt.Sprintf("%s: %v", public, err),
		Err:      err,
	}
}

// From extracts an *Error, or wraps unknown errors as System so
// unclassified failures fail closed.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(System, "internal", "internal error", err)
}

func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
