// Package svnerr defines the error taxonomy shared across the bridge.
//
// Every fallible operation in the wire protocol, delta codec, revision
// synchroniser and push planner returns one of the kinds below, wrapped
// with github.com/pkg/errors so that a top-level logger can print a
// stack trace with "%+v" without every caller having to capture one by
// hand.
package svnerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the error categories from spec.md §7.
type Kind int

const (
	// Unknown is the zero value; it never wraps an actual error.
	Unknown Kind = iota
	// Protocol covers malformed wire data or an unexpected reply shape.
	Protocol
	// Auth covers handshake or credential failures.
	Auth
	// IO covers transport and local filesystem failures.
	IO
	// Delta covers invalid codec streams, checksum mismatches, over-long
	// varints and out-of-range offsets.
	Delta
	// Path covers a rejected path name (see internal/svnproto ValidatePath).
	Path
	// Conflict covers a non-fast-forward push.
	Conflict
	// MissingObject covers an object-store lookup miss.
	MissingObject
	// Interrupted covers cancellation at a suspension point.
	Interrupted
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "ProtocolError"
	case Auth:
		return "AuthError"
	case IO:
		return "IoError"
	case Delta:
		return "DeltaError"
	case Path:
		return "PathError"
	case Conflict:
		return "ConflictError"
	case MissingObject:
		return "MissingObject"
	case Interrupted:
		return "Interrupted"
	default:
		return "UnknownError"
	}
}

// Error is a typed, wrapped error. Ref, when set, names the local ref the
// failure applies to, so callers at the top level can print it alongside
// the first server-reported message line without re-deriving it.
type Error struct {
	Kind Kind
	Ref  string
	err  error
}

func (e *Error) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Ref, e.err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// New wraps msg (formatted per fmt.Sprintf semantics when args are given)
// as an error of the given kind, capturing a stack trace.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, err: errors.Errorf(format, args...)}
}

// Wrap attaches kind to an existing error, capturing a stack trace at the
// wrap site via github.com/pkg/errors. Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, err: errors.Wrap(err, msg)}
}

// WithRef attaches the failing ref name to an error produced by New/Wrap.
func WithRef(err error, ref string) error {
	var e *Error
	if errors.As(err, &e) {
		e.Ref = ref
		return e
	}
	return &Error{Kind: Unknown, Ref: ref, err: err}
}

// Is reports whether err (or anything it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
