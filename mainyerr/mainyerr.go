// Package mainyerr defines the named error kinds MainyDB operations fail
// with. Every error that crosses an operation boundary is a *mainyerr.Error
// so callers can branch on Kind with errors.Is / errors.As instead of
// matching error strings.
package mainyerr

import (
	"errors"
	"fmt"
)

// Kind tags the category of failure. Values are stable and may be compared
// directly.
type Kind int

const (
	// KindInvalidID marks a malformed identifier (§4.1).
	KindInvalidID Kind = iota
	// KindDuplicateID marks an insert whose _id already exists in the collection.
	KindDuplicateID
	// KindBadQuery marks operator misuse, mixed inclusion/exclusion
	// projections, unknown stages, or unknown operators.
	KindBadQuery
	// KindBadRegex marks a $regex that failed to compile.
	KindBadRegex
	// KindTypeMismatch marks an update operator applied to an incompatible value kind.
	KindTypeMismatch
	// KindMissingField marks a positional $ with no captured match index.
	KindMissingField
	// KindCryptoUnavailable marks AES-256 requested without a usable key/cipher.
	KindCryptoUnavailable
	// KindCorruptStore marks a snapshot that failed to deserialize.
	KindCorruptStore
	// KindIOError marks an underlying file read/write failure.
	KindIOError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidID:
		return "invalid-id"
	case KindDuplicateID:
		return "duplicate-id"
	case KindBadQuery:
		return "bad-query"
	case KindBadRegex:
		return "bad-regex"
	case KindTypeMismatch:
		return "type-mismatch"
	case KindMissingField:
		return "missing-field"
	case KindCryptoUnavailable:
		return "crypto-unavailable"
	case KindCorruptStore:
		return "corrupt-store"
	case KindIOError:
		return "io-error"
	default:
		return "unknown-error"
	}
}

// Error is the concrete error type every MainyDB operation returns on
// failure. It wraps an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("mainydb: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("mainydb: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, so that
// errors.Is(err, mainyerr.New(KindBadQuery, "")) style checks work without
// comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Of reports the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
