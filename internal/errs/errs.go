// Package errs defines the pipeline's error-kind catalogue as
// a typed wrapper compatible with errors.Is / errors.As, preferring
// fmt.Errorf("...: %w", err) wrapping throughout rather than bespoke
// error hierarchies.
package errs

import "fmt"

// Kind is one of the error kinds the pipeline classifies failures into.
type Kind string

const (
	ConfigInvalid          Kind = "ConfigInvalid"
	SessionUnavailable      Kind = "SessionUnavailable"
	Throttled               Kind = "Throttled"
	BarRejected              Kind = "BarRejected"
	StoreConflict            Kind = "StoreConflict"
	StoreIOError             Kind = "StoreIOError"
	MissingRange             Kind = "MissingRange"
	IndicatorWarmup          Kind = "IndicatorWarmup"
	SimulationIndeterminate  Kind = "SimulationIndeterminate"
	Cancelled                Kind = "Cancelled"
	InternalInvariant        Kind = "InternalInvariant"
)

// Transient reports whether a kind is handled locally via retry/backoff
// rather than surfaced as a run failure.
func (k Kind) Transient() bool {
	switch k {
	case SessionUnavailable, Throttled, StoreIOError:
		return true
	default:
		return false
	}
}

// Error wraps an underlying cause with its classified Kind and optional
// free-form diagnostics for the run report.
type Error struct {
	Kind        Kind
	Err         error
	Diagnostics map[string]any
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports e.Kind's default transience.
func (e *Error) Transient() bool { return e.Kind.Transient() }

// WithDiagnostics attaches context used for InternalInvariant dumps and
// run-report detail.
func (e *Error) WithDiagnostics(kv map[string]any) *Error {
	e.Diagnostics = kv
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns ("", false).
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			return pe.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}

// transientClassifier lets a caller override the Kind-derived default,
// used by the Broker Session's fixed transient/fatal table
// where the same underlying Kind can't capture both cases.
type transientClassifier interface {
	Transient() bool
}

// IsTransient reports whether err should be retried locally. An error that
// implements Transient() bool (see broker.ClassifiedError) wins; otherwise
// it falls back to the wrapped Kind's default; unclassified errors are
// treated as fatal, since retrying an unknown failure indefinitely is
// unsafe.
func IsTransient(err error) bool {
	for e := err; e != nil; {
		if tc, ok := e.(transientClassifier); ok {
			return tc.Transient()
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if kind, ok := KindOf(err); ok {
		return kind.Transient()
	}
	return false
}
