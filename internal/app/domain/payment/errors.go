package payment

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure so callers can decide whether to retry,
// rebuild the envelope, or surface the problem to the user.
type Kind string

const (
	KindInvalidIntent     Kind = "invalid_intent"
	KindAccountNotFound   Kind = "account_not_found"
	KindLedgerUnavailable Kind = "ledger_unavailable"
	KindUserRejected      Kind = "user_rejected"
	KindSignerUnavailable Kind = "signer_unavailable"
	KindSignTimeout       Kind = "sign_timeout"
	KindRejected          Kind = "rejected"
	KindTimedOut          Kind = "timed_out"
)

// Retryable reports whether the same operation may be attempted again
// without rebuilding anything. Rejected and UserRejected must never be
// retried with the same bytes; TimedOut requires a re-query by hash, not a
// resubmission.
func (k Kind) Retryable() bool {
	switch k {
	case KindLedgerUnavailable, KindSignerUnavailable, KindSignTimeout:
		return true
	}
	return false
}

// Error is a classified pipeline failure carrying the kind, a human message
// and the optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a classified error without an underlying cause.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error.
func WrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the failure kind from an error chain. It returns an empty
// kind for unclassified errors.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
