package domain

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindConflict         Kind = "conflict"
	KindGateway          Kind = "gateway_error"
	KindGatewayAmbiguous Kind = "gateway_ambiguous"
	KindRateLimited      Kind = "rate_limited"
	KindInternal         Kind = "internal"
)

// Error is the typed error returned across the service boundary.
type Error struct {
	Kind    Kind
	Message string
	// Reason is a machine-readable availability reason, e.g. "already_booked".
	Reason string
	// Dates lists conflicting or blocked dates (YYYY-MM-DD) when relevant.
	Dates []string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrGateway          = &Error{Kind: KindGateway}
	ErrGatewayAmbiguous = &Error{Kind: KindGatewayAmbiguous}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrInternal         = &Error{Kind: KindInternal}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error { return newError(KindValidation, format, args...) }
func NotFound(format string, args ...any) *Error   { return newError(KindNotFound, format, args...) }
func Forbidden(format string, args ...any) *Error  { return newError(KindForbidden, format, args...) }
func Conflict(format string, args ...any) *Error   { return newError(KindConflict, format, args...) }

// Gateway reports a definitive gateway refusal or outage; nothing was charged.
func Gateway(format string, args ...any) *Error { return newError(KindGateway, format, args...) }

// GatewayAmbiguous reports a gateway call whose outcome is unknown.
func GatewayAmbiguous(format string, args ...any) *Error {
	return newError(KindGatewayAmbiguous, format, args...)
}

func RateLimited(format string, args ...any) *Error {
	return newError(KindRateLimited, format, args...)
}

// Internal wraps an unexpected storage or programming error.
func Internal(err error, format string, args ...any) *Error {
	e := newError(KindInternal, format, args...)
	e.Err = err
	return e
}

// Wrap attaches a cause to a typed error.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// WithDates attaches a reason and the offending dates.
func (e *Error) WithDates(reason string, dates []string) *Error {
	e.Reason = reason
	e.Dates = dates
	return e
}

// KindOf returns the kind of a typed error, KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
