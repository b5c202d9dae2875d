package bptreekv

import (
	"github.com/bptreekv/bptreekv/internal/pager"
)

// Kind classifies a failure the way spec.md §7 requires: callers branch on
// kind, not on message text. It mirrors internal/pager's Kind one-for-one
// rather than adding a second incompatible taxonomy on top of it.
type Kind = pager.Kind

const (
	KindIO         = pager.KindIO
	KindFormat     = pager.KindFormat
	KindCorruption = pager.KindCorruption
	KindCapacity   = pager.KindCapacity
	KindNotFound   = pager.KindNotFound
	KindConfig     = pager.KindConfig
)

// Error is the typed error returned by every Tree operation that can fail
// for a reason more specific than "something went wrong". It is an alias
// for internal/pager's Error rather than a wrapping type, so a caller can
// use `var e *bptreekv.Error; errors.As(err, &e)` without this package
// re-deriving Unwrap/Is.
type Error = pager.Error

// Sentinel errors for errors.Is comparisons, one per Kind.
var (
	ErrIO         = pager.ErrIO
	ErrFormat     = pager.ErrFormat
	ErrCorruption = pager.ErrCorruption
	ErrCapacity   = pager.ErrCapacity
	ErrNotFound   = pager.ErrNotFound
	ErrConfig     = pager.ErrConfig
)
