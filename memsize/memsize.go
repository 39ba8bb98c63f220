// Package memsize provides the small HeapSize/UsedSize memory
// accounting contract the index and table layers report dashboards
// through, plus humanize-backed formatting for the index-info
// observability surface.
//
// The generic helpers below cover the common container shapes
// (optional values, slices, strings, pointers, maps) with one function
// per shape, so callers (index.Key's concrete types, page.Link, the
// index trees) compose them structurally instead of each hand-rolling
// its own byte arithmetic.
package memsize

import (
	"unsafe"

	"github.com/dustin/go-humanize"
)

// Sized is implemented by anything willing to report its approximate
// memory footprint: index keys, page.Link, and the index trees.
type Sized interface {
	// HeapSize is the total bytes allocated to hold the structure,
	// including slack (e.g. unused node capacity).
	HeapSize() int64
	// UsedSize is the bytes actually occupied by live data.
	UsedSize() int64
}

// OptionHeap/OptionUsed account for an optional value: an absent one
// (nil) contributes nothing; a present one delegates entirely to its
// own accounting.
func OptionHeap[T any](v *T, elemHeap func(T) int64) int64 {
	if v == nil {
		return 0
	}
	return elemHeap(*v)
}

func OptionUsed[T any](v *T, elemUsed func(T) int64) int64 {
	if v == nil {
		return 0
	}
	return elemUsed(*v)
}

// SliceHeap/SliceUsed count capacity (heap) or length (used) slots at
// the element size each, plus every element's own accounting.
func SliceHeap[T any](s []T, elemHeap func(T) int64) int64 {
	var zero T
	total := int64(cap(s)) * int64(unsafe.Sizeof(zero))
	for _, v := range s {
		total += elemHeap(v)
	}
	return total
}

func SliceUsed[T any](s []T, elemUsed func(T) int64) int64 {
	var zero T
	total := int64(len(s)) * int64(unsafe.Sizeof(zero))
	for _, v := range s {
		total += elemUsed(v)
	}
	return total
}

// StringHeap/StringUsed both report the byte length: Go's runtime gives
// a string no spare backing capacity to distinguish heap from used.
func StringHeap(s string) int64 { return int64(len(s)) }
func StringUsed(s string) int64 { return int64(len(s)) }

// PointerHeap/PointerUsed account for an owning pointer: unlike an
// optional value, the pointer's allocation holds room for a T, so the
// pointee's own inline size is added on top of whatever T reports.
func PointerHeap[T any](p *T, elemHeap func(T) int64) int64 {
	if p == nil {
		return 0
	}
	var zero T
	return int64(unsafe.Sizeof(zero)) + elemHeap(*p)
}

func PointerUsed[T any](p *T, elemUsed func(T) int64) int64 {
	if p == nil {
		return 0
	}
	var zero T
	return int64(unsafe.Sizeof(zero)) + elemUsed(*p)
}

// MapHeap/MapUsed count one key+value-sized bucket slot per entry plus
// every stored key and value's own accounting. Go gives no capacity
// introspection for maps, so len(m) stands in on the heap side too;
// bucket slack isn't observable from outside the runtime.
func MapHeap[K comparable, V any](m map[K]V, keyHeap func(K) int64, valHeap func(V) int64) int64 {
	var zeroK K
	var zeroV V
	bucket := int64(unsafe.Sizeof(zeroK)) + int64(unsafe.Sizeof(zeroV))
	total := int64(len(m)) * bucket
	for k, v := range m {
		total += keyHeap(k) + valHeap(v)
	}
	return total
}

func MapUsed[K comparable, V any](m map[K]V, keyUsed func(K) int64, valUsed func(V) int64) int64 {
	var zeroK K
	var zeroV V
	bucket := int64(unsafe.Sizeof(zeroK)) + int64(unsafe.Sizeof(zeroV))
	total := int64(len(m)) * bucket
	for k, v := range m {
		total += keyUsed(k) + valUsed(v)
	}
	return total
}

// Report is a human-readable snapshot of a Sized value.
type Report struct {
	Heap int64
	Used int64
}

// Of builds a Report from any Sized value.
func Of(s Sized) Report {
	return Report{Heap: s.HeapSize(), Used: s.UsedSize()}
}

// String renders "used/heap" using humanize.Bytes, e.g. "12 kB/16 kB".
func (r Report) String() string {
	return humanize.Bytes(uint64(r.Used)) + "/" + humanize.Bytes(uint64(r.Heap))
}

// Utilization returns Used/Heap in [0,1], or 0 if Heap is 0.
func (r Report) Utilization() float64 {
	if r.Heap == 0 {
		return 0
	}
	return float64(r.Used) / float64(r.Heap)
}
