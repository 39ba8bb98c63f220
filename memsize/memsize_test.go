package memsize

import "testing"

type fixedStat struct{ n int64 }

func (f fixedStat) HeapSize() int64 { return f.n }
func (f fixedStat) UsedSize() int64 { return f.n }

func TestOptionHeap_NilIsZero(t *testing.T) {
	var p *fixedStat
	if got := OptionHeap(p, fixedStat.HeapSize); got != 0 {
		t.Fatalf("OptionHeap(nil) = %d, want 0", got)
	}
}

func TestOptionHeap_PresentDelegates(t *testing.T) {
	v := fixedStat{n: 7}
	if got := OptionHeap(&v, fixedStat.HeapSize); got != 7 {
		t.Fatalf("OptionHeap(&v) = %d, want 7", got)
	}
}

func TestSliceHeapUsed_CapacityVsLength(t *testing.T) {
	s := make([]fixedStat, 2, 5)
	s[0] = fixedStat{n: 1}
	s[1] = fixedStat{n: 2}

	heap := SliceHeap(s, fixedStat.HeapSize)
	used := SliceUsed(s, fixedStat.UsedSize)
	if used >= heap {
		t.Fatalf("used (%d) should be less than heap (%d) when cap > len", used, heap)
	}
}

func TestPointerHeap_AddsPointeeSize(t *testing.T) {
	v := fixedStat{n: 3}
	got := PointerHeap(&v, fixedStat.HeapSize)
	if got <= 3 {
		t.Fatalf("PointerHeap should add the pointee's own inline size on top of %d, got %d", 3, got)
	}
}

func TestMapHeapUsed(t *testing.T) {
	m := map[string]fixedStat{"a": {n: 1}, "bb": {n: 2}}
	heap := MapHeap(m, StringHeap, fixedStat.HeapSize)
	used := MapUsed(m, StringUsed, fixedStat.UsedSize)
	if heap <= 0 || used <= 0 {
		t.Fatalf("MapHeap/MapUsed should be positive for a non-empty map, got heap=%d used=%d", heap, used)
	}
}

func TestReport_Utilization(t *testing.T) {
	r := Report{Heap: 100, Used: 25}
	if got := r.Utilization(); got != 0.25 {
		t.Fatalf("Utilization() = %v, want 0.25", got)
	}
	if (Report{}).Utilization() != 0 {
		t.Fatalf("Utilization() on zero Heap should be 0")
	}
}
