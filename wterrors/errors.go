// Package wterrors defines the error taxonomy surfaced across the wt
// storage engine. Every package wraps underlying causes with
// github.com/pkg/errors so a persistence failure retains the call site
// that produced it, while callers can still use errors.Is/errors.As
// against the sentinels below.
package wterrors

import "github.com/pkg/errors"

// Sentinel kinds. Use errors.Is(err, wterrors.ErrNotFound) etc.
var (
	// ErrNotFound is returned when a lookup misses (primary or secondary).
	ErrNotFound = errors.New("wt: not found")

	// ErrPageFull names a page with insufficient contiguous space for an
	// allocation or in-place update. The page layer reports that case as
	// a *PagesError of kind PagesErrorFull, which does not wrap this
	// sentinel.
	ErrPageFull = errors.New("wt: page full")

	// ErrGhosted is returned when a link resolves to a ghosted slot and
	// the caller asked for non-ghost-aware access.
	ErrGhosted = errors.New("wt: slot is ghosted")

	// ErrOutOfBounds names a link that does not fit within its page's
	// addressable range. The page layer reports that case as a
	// *PagesError of kind PagesErrorOutOfBounds, which does not wrap
	// this sentinel.
	ErrOutOfBounds = errors.New("wt: link out of bounds")

	// ErrSerialization is returned when decoding a row's bytes fails.
	ErrSerialization = errors.New("wt: serialization mismatch")

	// ErrPersistence names an I/O failure of the persistence task. No
	// package in this module returns it: the task logs a failed apply
	// and leaves the in-memory state as it is.
	ErrPersistence = errors.New("wt: persistence error")

	// ErrClosed names an operation on a closed table/space. No package
	// in this module returns it.
	ErrClosed = errors.New("wt: closed")

	// ErrCDCDiscontinuity names a gap in a pending change-event batch.
	// No package in this module returns it: index.Validate reports a
	// gap by returning the events it drops.
	ErrCDCDiscontinuity = errors.New("wt: cdc discontinuity")
)

// AlreadyExists reports a uniqueness violation on the index named At.
// Its error string is exactly the index's declared name, so callers can
// match on the name without parsing.
type AlreadyExists struct {
	At              string   // declared index name that rejected the key
	InsertedAlready []string // names of indexes that had accepted the key, in declared order
}

func (e *AlreadyExists) Error() string { return e.At }

// NewAlreadyExists builds an AlreadyExists naming the offending index and
// the indexes that had already accepted the key. The secidx.Set methods
// that return it have already removed the key from those indexes, in
// this order.
func NewAlreadyExists(at string, insertedAlready []string) *AlreadyExists {
	return &AlreadyExists{At: at, InsertedAlready: insertedAlready}
}

// PagesErrorKind classifies a low-level page failure.
type PagesErrorKind int

const (
	PagesErrorFull PagesErrorKind = iota
	PagesErrorGhosted
	PagesErrorOutOfBounds
	PagesErrorCorrupt
)

func (k PagesErrorKind) String() string {
	switch k {
	case PagesErrorFull:
		return "full"
	case PagesErrorGhosted:
		return "ghosted"
	case PagesErrorOutOfBounds:
		return "out_of_bounds"
	case PagesErrorCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// PagesError wraps a page-layer failure with its kind and a detail
// message so callers can decide whether a retry-after-compaction makes
// sense.
type PagesError struct {
	Kind    PagesErrorKind
	Detail  string
	Wrapped error
}

func (e *PagesError) Error() string {
	if e.Detail == "" {
		return "wt: pages error: " + e.Kind.String()
	}
	return "wt: pages error: " + e.Kind.String() + ": " + e.Detail
}

func (e *PagesError) Unwrap() error { return e.Wrapped }

// NewPagesError constructs a PagesError, wrapping cause with its stack.
func NewPagesError(kind PagesErrorKind, detail string, cause error) *PagesError {
	var wrapped error
	if cause != nil {
		wrapped = errors.WithStack(cause)
	}
	return &PagesError{Kind: kind, Detail: detail, Wrapped: wrapped}
}

// Wrap annotates err with msg and a stack trace. Returns nil if err is
// nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}
