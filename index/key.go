// Package index implements the concurrent ordered index at the heart of
// every table: a sorted, concurrently-readable key→Link map with two
// variants (unique, non-unique/multi), each emitting a CDC event stream
// describing its own physical mutations.
package index

import (
	"bytes"
	"fmt"

	"github.com/wt-db/wt/memsize"
)

// Key is any totally-ordered key an index can be built over. Generated
// row types wrap their primary-key / indexed-column values in one of the
// concrete Key implementations below so primary and secondary indexes
// share one ordered-map implementation regardless of column type. The
// memsize.Sized requirement lets a Tree report its own heap/used size
// without knowing which concrete Key it stores.
type Key interface {
	// Compare returns <0, 0, >0 as k orders before, equal to, or after
	// other. Comparing two Keys of different concrete types panics: a
	// programmer error, never a runtime condition callers need to
	// recover from.
	Compare(other Key) int
	fmt.Stringer
	memsize.Sized
}

// Int64Key orders by signed 64-bit integer value.
type Int64Key int64

func (k Int64Key) Compare(other Key) int {
	o := other.(Int64Key)
	switch {
	case k < o:
		return -1
	case k > o:
		return 1
	default:
		return 0
	}
}
func (k Int64Key) String() string { return fmt.Sprintf("%d", int64(k)) }

// HeapSize and UsedSize are zero: a fixed-width integer carries no
// allocation of its own.
func (k Int64Key) HeapSize() int64 { return 0 }
func (k Int64Key) UsedSize() int64 { return 0 }

// Uint64Key orders by unsigned 64-bit integer value (autoincrement PKs).
type Uint64Key uint64

func (k Uint64Key) Compare(other Key) int {
	o := other.(Uint64Key)
	switch {
	case k < o:
		return -1
	case k > o:
		return 1
	default:
		return 0
	}
}
func (k Uint64Key) String() string { return fmt.Sprintf("%d", uint64(k)) }

func (k Uint64Key) HeapSize() int64 { return 0 }
func (k Uint64Key) UsedSize() int64 { return 0 }

// StringKey orders lexicographically by byte value.
type StringKey string

func (k StringKey) Compare(other Key) int {
	o := other.(StringKey)
	return bytes.Compare([]byte(k), []byte(o))
}
func (k StringKey) String() string { return string(k) }

func (k StringKey) HeapSize() int64 { return memsize.StringHeap(string(k)) }
func (k StringKey) UsedSize() int64 { return memsize.StringUsed(string(k)) }

// BytesKey orders lexicographically over raw bytes.
type BytesKey []byte

func (k BytesKey) Compare(other Key) int {
	o := other.(BytesKey)
	return bytes.Compare(k, o)
}
func (k BytesKey) String() string { return fmt.Sprintf("%x", []byte(k)) }

// HeapSize counts backing capacity, UsedSize only the live bytes.
func (k BytesKey) HeapSize() int64 { return int64(cap(k)) }
func (k BytesKey) UsedSize() int64 { return int64(len(k)) }

// Composite orders lexicographically over its component Keys, for
// compound primary/secondary keys.
type Composite []Key

func (k Composite) Compare(other Key) int {
	o := other.(Composite)
	n := len(k)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		if c := k[i].Compare(o[i]); c != 0 {
			return c
		}
	}
	return len(k) - len(o)
}
func (k Composite) String() string {
	s := ""
	for i, p := range k {
		if i > 0 {
			s += "|"
		}
		s += p.String()
	}
	return s
}

// HeapSize and UsedSize count capacity vs length slots of one Key
// interface value each, plus every component key's own accounting.
func (k Composite) HeapSize() int64 {
	return memsize.SliceHeap(k, Key.HeapSize)
}
func (k Composite) UsedSize() int64 {
	return memsize.SliceUsed(k, Key.UsedSize)
}
