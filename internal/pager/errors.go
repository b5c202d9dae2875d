package pager

import "errors"

// Kind classifies a pager-level error into one of the categories the
// calling library maps onto its public error kinds.
type Kind int

const (
	// KindIO covers failures reading or writing the database or WAL file.
	KindIO Kind = iota
	// KindFormat covers malformed on-disk structures that are not the
	// result of torn writes (wrong magic, unsupported version, bad size).
	KindFormat
	// KindCorruption covers checksum failures and structural invariant
	// violations discovered after the format itself checked out.
	KindCorruption
	// KindCapacity covers a key or value that cannot fit the format's
	// fixed limits (e.g. a key longer than a page can ever hold).
	KindCapacity
	// KindNotFound covers a missing database file opened without create,
	// or (at the tree layer) a lookup miss surfaced as a sentinel value
	// rather than an error.
	KindNotFound
	// KindConfig covers invalid open-time configuration (page size,
	// branching factor, codec mismatch).
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindCorruption:
		return "corruption"
	case KindCapacity:
		return "capacity"
	case KindNotFound:
		return "not_found"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Sentinel errors — callers use errors.Is against these, and errors.As
// against *Error to recover the Kind and failing operation.
var (
	ErrIO         = &Error{Kind: KindIO, msg: "io error"}
	ErrFormat     = &Error{Kind: KindFormat, msg: "format error"}
	ErrCorruption = &Error{Kind: KindCorruption, msg: "corruption detected"}
	ErrCapacity   = &Error{Kind: KindCapacity, msg: "capacity exceeded"}
	ErrNotFound   = &Error{Kind: KindNotFound, msg: "not found"}
	ErrConfig     = &Error{Kind: KindConfig, msg: "invalid configuration"}
)

// Error is a pager-level error carrying a Kind and the operation that
// produced it, so the root package can translate it into its own typed
// error without losing the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	msg  string
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return e.Op + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind, so that
// errors.Is(err, pager.ErrCorruption) works regardless of Op/wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Wrap builds an *Error of the given kind, recording op and the underlying
// cause for unwrapping.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsCorruption reports whether err (or something it wraps) is a corruption error.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruption)
}
