// Package errs classifies domain errors into the kinds surfaced by the API.
package errs

import "errors"

type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindAuthorization Kind = "forbidden"
	KindConflict      Kind = "conflict"
	KindInvalidState  Kind = "invalid_state"
	KindNotFound      Kind = "not_found"
)

var (
	ErrValidation    = errors.New(string(KindValidation))
	ErrAuthorization = errors.New(string(KindAuthorization))
	ErrConflict      = errors.New(string(KindConflict))
	ErrInvalidState  = errors.New(string(KindInvalidState))
	ErrNotFound      = errors.New(string(KindNotFound))
)

// Error pairs a kind sentinel with the domain cause. errors.Is matches both.
type Error struct {
	kind  error
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return e.cause.Error()
}

func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

func wrap(kind, cause error) error {
	return &Error{kind: kind, cause: cause}
}

func Validation(cause error) error    { return wrap(ErrValidation, cause) }
func Authorization(cause error) error { return wrap(ErrAuthorization, cause) }
func Conflict(cause error) error      { return wrap(ErrConflict, cause) }
func InvalidState(cause error) error  { return wrap(ErrInvalidState, cause) }
func NotFound(cause error) error      { return wrap(ErrNotFound, cause) }

// KindOf reports the kind of err, or "" when err is unclassified.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return ""
	}
}
