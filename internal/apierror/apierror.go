// Package apierror defines the HTTP-mapped error taxonomy (spec.md §7)
// shared by every component boundary. Each constructor wraps the underlying
// cause in the github.com/gravitational/trace constructor whose semantics
// match the Kind, so Status classifies with trace.Is* instead of
// re-deriving a taxonomy by hand.
package apierror

import (
	"net/http"

	"github.com/gravitational/trace"
)

// Kind classifies an error for HTTP-status mapping and for programmatic
// inspection with Is.
type Kind string

const (
	KindMissingCredentials      Kind = "missing_credentials"
	KindInvalidCredentials      Kind = "invalid_credentials"
	KindInvalidToken            Kind = "invalid_token"
	KindExpiredToken            Kind = "expired_token"
	KindInsufficientPermissions Kind = "insufficient_permissions"
	KindNotFound                Kind = "not_found"
	KindConflict                Kind = "conflict"
	KindServiceUnavailable      Kind = "service_unavailable"
	KindUpstreamError           Kind = "upstream_error"
	KindInternal                Kind = "internal_error"
)

// Error is a classified, traced error. cause is always a trace-constructed
// error (see traceConstructor), except for Internal, which just wraps
// whatever it was given via trace.Wrap.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for err, defaulting to 500 for any
// error that isn't one of ours (including plain trace.Error values).
//
// trace.AccessDenied and trace.ConnectionProblem are each shared by more
// than one Kind (four credential/token kinds are all "not authenticated";
// ServiceUnavailable and UpstreamError are both "can't reach a dependency"),
// so those two branches consult Kind only to pick between the handful of
// statuses that single trace class can mean.
func Status(err error) int {
	var ae *Error
	if !as(err, &ae) {
		return http.StatusInternalServerError
	}
	switch {
	case trace.IsNotFound(ae.cause):
		return http.StatusNotFound
	case trace.IsAlreadyExists(ae.cause):
		return http.StatusConflict
	case trace.IsAccessDenied(ae.cause):
		if ae.Kind == KindInsufficientPermissions {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case trace.IsConnectionProblem(ae.cause):
		if ae.Kind == KindUpstreamError {
			return http.StatusBadGateway
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err (or something it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if ok := as(err, &ae); ok {
		return ae.Kind == kind
	}
	return false
}

func as(err error, target **Error) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// traceConstructor picks the trace constructor matching kind's HTTP-status
// family, so Status can dispatch on trace.Is* rather than a parallel table.
func traceConstructor(kind Kind) func(string, ...any) error {
	switch kind {
	case KindNotFound:
		return trace.NotFound
	case KindConflict:
		return trace.AlreadyExists
	case KindInsufficientPermissions, KindMissingCredentials, KindInvalidCredentials, KindInvalidToken, KindExpiredToken:
		return trace.AccessDenied
	case KindServiceUnavailable, KindUpstreamError:
		return connectionProblem
	default:
		return trace.BadParameter
	}
}

func connectionProblem(format string, args ...any) error {
	return trace.ConnectionProblem(nil, format, args...)
}

func newf(kind Kind, format string, args ...any) error {
	inner := traceConstructor(kind)(format, args...)
	return &Error{Kind: kind, Message: inner.Error(), cause: inner}
}

func MissingCredentials(format string, args ...any) error {
	return newf(KindMissingCredentials, format, args...)
}

func InvalidCredentials(format string, args ...any) error {
	return newf(KindInvalidCredentials, format, args...)
}

func InvalidToken(format string, args ...any) error {
	return newf(KindInvalidToken, format, args...)
}

func ExpiredToken(format string, args ...any) error {
	return newf(KindExpiredToken, format, args...)
}

func InsufficientPermissions(format string, args ...any) error {
	return newf(KindInsufficientPermissions, format, args...)
}

func NotFound(format string, args ...any) error {
	return newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) error {
	return newf(KindConflict, format, args...)
}

func ServiceUnavailable(format string, args ...any) error {
	return newf(KindServiceUnavailable, format, args...)
}

func UpstreamError(format string, args ...any) error {
	return newf(KindUpstreamError, format, args...)
}

func Internal(err error, format string, args ...any) error {
	inner := trace.Wrap(err, format, args...)
	return &Error{Kind: KindInternal, Message: inner.Error(), cause: inner}
}
