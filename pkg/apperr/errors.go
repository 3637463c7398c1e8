// Package apperr defines the error taxonomy surfaced by the fetch
// orchestration layer.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for loading-state and retry decisions.
type Kind string

const (
	// KindNetwork covers transport failures and non-success HTTP statuses.
	KindNetwork Kind = "network"

	// KindParse means the response arrived but could not be decoded.
	KindParse Kind = "parse"

	// KindNotFound is the terminal "no more data" state.
	KindNotFound Kind = "not_found"

	// KindCancelled marks work stopped by its owner. Never user-visible.
	KindCancelled Kind = "cancelled"

	// KindStorage marks persistence failures. Always suppressed.
	KindStorage Kind = "storage"
)

// Common errors.
var (
	// ErrNotFound is returned when a fetch yields no data.
	ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}

	// ErrCancelled is returned when a unit of work was cancelled.
	ErrCancelled = &Error{Kind: KindCancelled, Message: "cancelled"}
)

// Error is a classified failure with optional operation context.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, ErrNotFound) matches any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error for op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind of err. Context cancellation and deadline
// errors map to KindCancelled and KindNetwork respectively; anything
// unclassified is treated as a network failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindNetwork
}

// IsCancelled reports whether err represents cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// UserVisible reports whether a failure of this kind may be shown to a user.
func (k Kind) UserVisible() bool {
	switch k {
	case KindCancelled, KindStorage:
		return false
	default:
		return true
	}
}
