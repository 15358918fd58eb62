package crm

import (
	"errors"
	"fmt"
)

// Kind classifies a store error for retry and reporting decisions.
type Kind int

const (
	// KindTransient covers rate limits and upstream 5xx; retried with backoff.
	KindTransient Kind = iota
	// KindValidation covers rejected payloads; never retried.
	KindValidation
	// KindNotFound is a missing record; handled in application logic.
	KindNotFound
	// KindConflict is a uniqueness/state conflict on write.
	KindConflict
	// KindFatal is everything else; aborts the current contract's pass only.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "fatal"
	}
}

// Error is a classified store error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Status  int // HTTP status when the transport is HTTP, else 0
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (%s, HTTP %d)", e.Op, e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Kind)
}

func makeError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// -----------------------------------------------

func ErrTransient(op, message string) *Error  { return makeError(KindTransient, op, message) }
func ErrValidation(op, message string) *Error { return makeError(KindValidation, op, message) }
func ErrNotFound(op, message string) *Error   { return makeError(KindNotFound, op, message) }
func ErrConflict(op, message string) *Error   { return makeError(KindConflict, op, message) }
func ErrFatal(op, message string) *Error      { return makeError(KindFatal, op, message) }

// KindOf extracts the classification from an error chain, defaulting to
// fatal for errors the boundary never classified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindFatal
}

// IsTransient is the retryability predicate used by Do.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}
