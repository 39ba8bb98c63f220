package index

import (
	"testing"

	"github.com/wt-db/wt/page"
)

// TestMultiMap_DuplicateRunSpansSplit verifies a run of equal keys large
// enough to split across several nodes stays fully visible to Get,
// Remove, and Range. A tiny fanout forces the splits early.
func TestMultiMap_DuplicateRunSpansSplit(t *testing.T) {
	m := NewMultiMap(4)
	m.Insert(StringKey("aaa"), page.Link{PageID: 1, Offset: 0, Length: 8})
	m.Insert(StringKey("zzz"), page.Link{PageID: 1, Offset: 8, Length: 8})

	const n = 50
	links := make([]Link, n)
	for i := 0; i < n; i++ {
		links[i] = page.Link{PageID: 2, Offset: uint32(i * 8), Length: 8}
		m.Insert(StringKey("dup"), links[i])
	}

	got := m.Get(StringKey("dup"))
	if len(got) != n {
		t.Fatalf("expected %d links for the duplicate run, got %d", n, len(got))
	}

	// Remove a link from the middle of the run; with fanout 4 it lives
	// in one of the earlier duplicate nodes, not the one a plain locate
	// resolves to.
	if !m.Remove(StringKey("dup"), links[3]) {
		t.Fatal("expected Remove to find a link from an earlier duplicate node")
	}
	if got := m.Get(StringKey("dup")); len(got) != n-1 {
		t.Fatalf("expected %d links after one removal, got %d", n-1, len(got))
	}

	for i := 0; i < n; i++ {
		if i == 3 {
			continue
		}
		events, found := m.RemoveCDC(StringKey("dup"), links[i])
		if !found {
			t.Fatalf("RemoveCDC lost link %d of the duplicate run", i)
		}
		if len(events) == 0 {
			t.Fatalf("RemoveCDC for link %d emitted no events", i)
		}
	}
	if got := m.Get(StringKey("dup")); len(got) != 0 {
		t.Fatalf("expected the run fully drained, got %d links", len(got))
	}

	// The neighbouring keys are untouched.
	if got := m.Get(StringKey("aaa")); len(got) != 1 {
		t.Fatalf("expected 1 link for aaa, got %d", len(got))
	}
	if got := m.Get(StringKey("zzz")); len(got) != 1 {
		t.Fatalf("expected 1 link for zzz, got %d", len(got))
	}
}

// TestMultiMap_RangeCrossesDuplicateRun verifies an ordered scan whose
// start bound sits inside a duplicate run still visits every copy.
func TestMultiMap_RangeCrossesDuplicateRun(t *testing.T) {
	m := NewMultiMap(4)
	const n = 20
	for i := 0; i < n; i++ {
		m.Insert(Int64Key(5), page.Link{PageID: 1, Offset: uint32(i * 8), Length: 8})
	}
	m.Insert(Int64Key(1), page.Link{PageID: 1, Offset: 400, Length: 8})
	m.Insert(Int64Key(9), page.Link{PageID: 1, Offset: 408, Length: 8})

	count := 0
	m.Range(Int64Key(5), Int64Key(5), func(k Key, _ Link) bool {
		count++
		return true
	})
	if count != n {
		t.Fatalf("expected range over the duplicate key to visit %d entries, got %d", n, count)
	}
}
