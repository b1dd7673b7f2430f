package service

import (
	"errors"
	"fmt"
)

// Kind classifies reconciliation failures so callers can render a precise
// message without parsing strings.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInvalidState        Kind = "invalid_state"
	KindAlreadyMatched      Kind = "already_matched"
	KindUnbalanced          Kind = "unbalanced_reconciliation"
	KindValidation          Kind = "validation_error"
	KindConcurrencyConflict Kind = "concurrency_conflict"
)

// Error carries a failure kind plus the offending entity id.
type Error struct {
	Kind Kind
	ID   string
	Msg  string
}

func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Msg, e.ID)
}

func newError(kind Kind, id, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, ID: id, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a service Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
