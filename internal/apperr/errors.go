// Package apperr defines the client error taxonomy. Every failure surfaced by
// the console is an *Error whose Kind is one of the sentinels below, so
// callers branch with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuth         = errors.New("authentication error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation error")
	ErrPrecondition = errors.New("precondition failed")
	ErrNetwork      = errors.New("network error")
	ErrBackend      = errors.New("backend error")
	ErrNotFound     = errors.New("not found")
)

type Error struct {
	Kind   error
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg = e.Detail
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil && e.Detail == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel. An unauthorized response is also an auth error.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return e.Kind == ErrUnauthorized && target == ErrAuth
}

func newError(kind error, op, detail string, err error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

func Auth(op, detail string, err error) error {
	return newError(ErrAuth, op, detail, err)
}

func Unauthorized(op, detail string) error {
	return &Error{Kind: ErrUnauthorized, Op: op, Status: http.StatusUnauthorized, Detail: detail}
}

func Validation(op, format string, args ...any) error {
	return newError(ErrValidation, op, fmt.Sprintf(format, args...), nil)
}

func Precondition(op, format string, args ...any) error {
	return newError(ErrPrecondition, op, fmt.Sprintf(format, args...), nil)
}

func NotFound(op, format string, args ...any) error {
	return newError(ErrNotFound, op, fmt.Sprintf(format, args...), nil)
}

func Network(op string, err error) error {
	return newError(ErrNetwork, op, "", err)
}

func Backend(op string, status int, detail string) error {
	return &Error{Kind: ErrBackend, Op: op, Status: status, Detail: detail}
}

// FromStatus maps a non-2xx HTTP status to the taxonomy.
func FromStatus(op string, status int, detail string) error {
	switch status {
	case http.StatusUnauthorized:
		return Unauthorized(op, detail)
	case http.StatusNotFound:
		return &Error{Kind: ErrNotFound, Op: op, Status: status, Detail: detail}
	default:
		return Backend(op, status, detail)
	}
}

// Retryable reports whether repeating the same request could succeed:
// transport failures and 5xx responses.
func Retryable(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == ErrBackend {
		return e.Status >= 500 || e.Status == http.StatusTooManyRequests
	}
	return false
}

// Local reports whether the error was raised before any backend call.
func Local(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrPrecondition)
}

// Detail returns the user-facing message carried by err.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTPStatus picks the status a gateway should answer with for err.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPrecondition):
		return http.StatusConflict
	case errors.Is(err, ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, ErrBackend):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// StatusCode returns the backend HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
