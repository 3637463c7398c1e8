// Package loading implements the per-slot loading state machine shared by
// the scheduler and the pagination engine.
package loading

import (
	"github.com/Sternrassler/gallery-fetch/pkg/apperr"
	"github.com/rs/zerolog"
)

// Status is the tag of a State.
type Status int

const (
	// StatusIdle means nothing is in progress and the last attempt (if any) succeeded.
	StatusIdle Status = iota

	// StatusLoading means a fetch for this slot is in progress or queued.
	StatusLoading

	// StatusFailed means the last attempt failed. Only an explicit retry leaves it.
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the tagged value idle | loading | failed(kind).
// The zero value is idle.
type State struct {
	Status Status
	Kind   apperr.Kind
}

// Idle returns the idle state.
func Idle() State { return State{Status: StatusIdle} }

// Loading returns the loading state.
func Loading() State { return State{Status: StatusLoading} }

// Failed returns the failed state carrying kind.
func Failed(kind apperr.Kind) State { return State{Status: StatusFailed, Kind: kind} }

// IsIdle reports whether the state is idle.
func (s State) IsIdle() bool { return s.Status == StatusIdle }

// IsLoading reports whether the state is loading.
func (s State) IsLoading() bool { return s.Status == StatusLoading }

// IsFailed reports whether the state is failed.
func (s State) IsFailed() bool { return s.Status == StatusFailed }

// Failure returns the failure kind and true if the state is failed.
func (s State) Failure() (apperr.Kind, bool) {
	if s.Status != StatusFailed {
		return "", false
	}
	return s.Kind, true
}

// String renders the state, e.g. "failed(not_found)".
func (s State) String() string {
	if s.Status == StatusFailed {
		return "failed(" + string(s.Kind) + ")"
	}
	return s.Status.String()
}

// MarshalZerologObject lets a State be attached to log events with Object().
func (s State) MarshalZerologObject(e *zerolog.Event) {
	e.Str("status", s.Status.String())
	if s.Status == StatusFailed {
		e.Str("error_kind", string(s.Kind))
	}
}

// Begin moves the slot to loading. Valid from idle and, for a user retry,
// directly from failed. It reports false if the slot is already loading.
func (s *State) Begin() bool {
	if s.Status == StatusLoading {
		return false
	}
	*s = Loading()
	return true
}

// Succeed moves the slot to idle.
func (s *State) Succeed() { *s = Idle() }

// Fail moves the slot to failed(kind). A cancelled kind is not a failure
// and is ignored; use Restore to put back the pre-dispatch state.
func (s *State) Fail(kind apperr.Kind) {
	if kind == apperr.KindCancelled {
		return
	}
	*s = Failed(kind)
}

// Restore resets the slot to prev.
func (s *State) Restore(prev State) { *s = prev }
