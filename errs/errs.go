// Package errs defines the structured error taxonomy shared by the protection core.
package errs

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind (and Op when they need to name the failing
// operation) rather than matching error strings.
type Kind string

const (
	// KindDecode means the input bytes are not a valid image.
	KindDecode Kind = "Decode"
	// KindCryptoUnavailable means key generation or signing could not be performed.
	KindCryptoUnavailable Kind = "CryptoUnavailable"
	// KindInvalidKey means a supplied key could not be parsed.
	KindInvalidKey Kind = "InvalidKey"
	// KindDimensionMismatch is an internal consistency violation between stages.
	KindDimensionMismatch Kind = "DimensionMismatch"
	// KindStorage covers collaborator storage/persistence failures.
	KindStorage Kind = "Storage"
	KindInternal Kind = "Internal"
)

// Error is the structured error type of the protection core.
//
// Op names the operation that failed (e.g. "sign", "decode"). Message is
// intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New returns a structured error without a cause.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap returns a structured error wrapping cause. A nil cause behaves like New.
func Wrap(kind Kind, op, msg string, cause error) error {
	if cause == nil {
		return New(kind, op, msg)
	}
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// OpOf returns the Op of the first *Error in err's chain, or "" if none.
func OpOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Op
}
