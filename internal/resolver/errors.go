package resolver

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies resolution failures for recovery decisions.
type ErrorKind string

// Resolution error kinds.
const (
	KindNotFound     ErrorKind = "not_found"
	KindPermission   ErrorKind = "permission"
	KindAccessDenied ErrorKind = "access_denied"
	KindRateLimited  ErrorKind = "rate_limited"
	KindExpired      ErrorKind = "expired"
	KindNetwork      ErrorKind = "network"
	KindTimeout      ErrorKind = "timeout"
	KindUpstream     ErrorKind = "upstream"
	KindCodec        ErrorKind = "codec"
	KindInvalidRef   ErrorKind = "invalid_ref"
	KindInternal     ErrorKind = "internal"
)

// Error is a classified resolution failure. Retryable errors may succeed
// on a later attempt without operator intervention; access-denied errors
// additionally want a forced re-resolution since upstream tokens rotate.
type Error struct {
	Kind      ErrorKind
	Source    string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error with the retryable flag implied by
// kind. Permanent conditions (missing media, permission walls, broken
// codecs, malformed references) are not retryable; everything transient
// is.
func NewError(source string, kind ErrorKind, err error) *Error {
	retryable := false
	switch kind {
	case KindNetwork, KindTimeout, KindUpstream, KindRateLimited, KindExpired, KindAccessDenied:
		retryable = true
	}
	return &Error{Kind: kind, Source: source, Retryable: retryable, Err: err}
}

func newError(source string, kind ErrorKind, err error) *Error {
	return NewError(source, kind, err)
}

// classifyStatus maps an upstream HTTP status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAccessDenied
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindUpstream
	default:
		return KindUpstream
	}
}

// KindOf extracts the ErrorKind from err, or KindInternal for unclassified
// errors.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err may succeed on retry.
func IsRetryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// WantsForceRefresh reports whether the failure indicates a stale resolved
// URL that should be re-resolved rather than retried verbatim.
func WantsForceRefresh(err error) bool {
	switch KindOf(err) {
	case KindAccessDenied, KindExpired:
		return true
	}
	return false
}
