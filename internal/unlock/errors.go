package unlock

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an unlock request did not complete
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindInvalidState
	KindInvalidRequest
	KindVerificationFailed
	KindUpstreamUnavailable
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidRequest:
		return "invalid_request"
	case KindVerificationFailed:
		return "verification_failed"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
	ErrVerificationFailed  = &Error{Kind: KindVerificationFailed}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrForbidden           = &Error{Kind: KindForbidden}
)

// Error is returned by every Orchestrator operation
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the same request may succeed later
func (e *Error) Retryable() bool {
	return e.Kind == KindUpstreamUnavailable
}

func newError(kind ErrorKind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// AsError extracts an *Error from err
func AsError(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
