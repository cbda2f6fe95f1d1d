package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for callers that branch on failure category
// (HTTP status mapping, retry policy) without string-matching messages.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindPoolTimeout        Kind = "pool_timeout"
	KindBrowserError       Kind = "browser_error"
	KindImageError         Kind = "image_error"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindRateLimited        Kind = "rate_limited"
	KindConflict           Kind = "conflict"
	KindInternal           Kind = "internal"
)

// BrowserErrorReason narrows KindBrowserError to the specific browser
// failure mode, per §7.
type BrowserErrorReason string

const (
	BrowserTimeout          BrowserErrorReason = "timeout"
	BrowserConnectionLost   BrowserErrorReason = "connection_lost"
	BrowserInvalidSelector  BrowserErrorReason = "invalid_selector"
	BrowserInvalidAction    BrowserErrorReason = "invalid_action"
	BrowserNavigationFailed BrowserErrorReason = "navigation_failed"
)

// Error is the wrapping error type used across every subsystem. It carries
// a Kind for programmatic handling, an optional BrowserErrorReason when
// Kind is KindBrowserError, and wraps the underlying cause so errors.Is/As
// still reach it.
type Error struct {
	Kind    Kind
	Reason  BrowserErrorReason // only meaningful when Kind == KindBrowserError
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, &Error{Kind: KindNotFound}) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Reason != "" && t.Reason != e.Reason {
		return false
	}
	return true
}

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NewValidationError(msg string, err error) *Error {
	return newErr(KindValidation, msg, err)
}

func NewNotFoundError(msg string, err error) *Error {
	return newErr(KindNotFound, msg, err)
}

func NewUnauthorizedError(msg string, err error) *Error {
	return newErr(KindUnauthorized, msg, err)
}

func NewForbiddenError(msg string, err error) *Error {
	return newErr(KindForbidden, msg, err)
}

func NewPoolTimeoutError(msg string, err error) *Error {
	return newErr(KindPoolTimeout, msg, err)
}

// NewBrowserError tags a browser-automation failure with its specific reason.
func NewBrowserError(reason BrowserErrorReason, msg string, err error) *Error {
	return &Error{Kind: KindBrowserError, Reason: reason, Message: msg, Err: err}
}

func NewImageError(msg string, err error) *Error {
	return newErr(KindImageError, msg, err)
}

func NewUpstreamUnavailableError(msg string, err error) *Error {
	return newErr(KindUpstreamUnavailable, msg, err)
}

func NewRateLimitedError(msg string, err error) *Error {
	return newErr(KindRateLimited, msg, err)
}

func NewConflictError(msg string, err error) *Error {
	return newErr(KindConflict, msg, err)
}

func NewInternalError(msg string, err error) *Error {
	return newErr(KindInternal, msg, err)
}

// KindOf extracts the Kind of err, walking the wrap chain. Returns
// ("", false) if neither err nor anything in its chain is a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err's chain contains a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
