package secidx

import (
	"testing"

	"github.com/wt-db/wt/index"
	"github.com/wt-db/wt/page"
)

type testRow struct {
	email string
	age   int64
}

func (r testRow) IndexKey(column string) index.Key {
	switch column {
	case "email":
		return index.StringKey(r.email)
	case "age":
		return index.Int64Key(r.age)
	}
	panic("unknown column: " + column)
}

func newTestSet() *Set {
	s := NewSet()
	s.Declare("by_email", "email", Unique, 4)
	s.Declare("by_age", "age", NonUnique, 4)
	return s
}

func link(n uint32) index.Link { return index.Link{PageID: page.ID(n), Offset: 0, Length: 16} }

// TestSet_SaveRow_Basic verifies a fresh row populates every declared
// index: the returned bundle carries events for each of them.
func TestSet_SaveRow_Basic(t *testing.T) {
	s := newTestSet()
	row := testRow{email: "a@example.com", age: 30}

	bundle, err := s.SaveRowCDC(row, link(1))
	if err != nil {
		t.Fatalf("SaveRowCDC: %v", err)
	}
	if bundle.IsEmpty() {
		t.Fatal("expected non-empty event bundle")
	}
	if _, ok := bundle["by_email"]; !ok {
		t.Fatal("expected events for by_email")
	}
	if _, ok := bundle["by_age"]; !ok {
		t.Fatal("expected events for by_age")
	}
}

// TestSet_SaveRow_ConflictRollsBack verifies a unique-index collision
// rolls back every index that already received the row.
func TestSet_SaveRow_ConflictRollsBack(t *testing.T) {
	s := newTestSet()
	first := testRow{email: "dup@example.com", age: 10}
	second := testRow{email: "dup@example.com", age: 20}

	if err := s.SaveRow(first, link(1)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.SaveRow(second, link(2))
	if err == nil {
		t.Fatal("expected AlreadyExists error on duplicate email")
	}

	// by_age must have been rolled back: the second row's age key (20)
	// should no longer resolve to link 2.
	found := false
	s.byName["by_age"].multi.Range(nil, nil, func(k index.Key, l index.Link) bool {
		if k.(index.Int64Key) == 20 && l == link(2) {
			found = true
		}
		return true
	})
	if found {
		t.Fatal("expected rollback of by_age after by_email conflict")
	}
}

// TestSet_DeleteRow verifies deletion removes the row from every index.
func TestSet_DeleteRow(t *testing.T) {
	s := newTestSet()
	row := testRow{email: "gone@example.com", age: 5}
	if err := s.SaveRow(row, link(1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.DeleteRow(row, link(1))

	if _, ok := s.byName["by_email"].uniq.Get(index.StringKey(row.email)); ok {
		t.Fatal("expected by_email to be empty after delete")
	}
}

// TestSet_ReinsertRow_ConflictRestoresOld verifies a failed reinsert
// leaves the original row intact.
func TestSet_ReinsertRow_ConflictRestoresOld(t *testing.T) {
	s := newTestSet()
	blocker := testRow{email: "taken@example.com", age: 1}
	if err := s.SaveRow(blocker, link(9)); err != nil {
		t.Fatalf("save blocker: %v", err)
	}

	old := testRow{email: "old@example.com", age: 2}
	if err := s.SaveRow(old, link(1)); err != nil {
		t.Fatalf("save old: %v", err)
	}

	newRow := testRow{email: "taken@example.com", age: 3}
	_, err := s.ReinsertRowCDC(old, link(1), newRow, link(1))
	if err == nil {
		t.Fatal("expected conflict on reinsert")
	}

	if _, ok := s.byName["by_email"].uniq.Get(index.StringKey(old.email)); !ok {
		t.Fatal("expected old row restored after failed reinsert")
	}
}

// TestEventBundle_Validate verifies a deliberately broken ID sequence is
// detected and trimmed.
func TestEventBundle_Validate(t *testing.T) {
	b := EventBundle{
		"idx": {
			{ID: 1, Kind: index.EventInsertAt},
			{ID: 2, Kind: index.EventInsertAt},
			{ID: 4, Kind: index.EventInsertAt}, // gap: 3 missing
		},
	}
	removed := b.Validate()
	if len(removed) != 1 || removed[0].ID != 4 {
		t.Fatalf("expected event 4 dropped, got %+v", removed)
	}
	if len(b["idx"]) != 2 {
		t.Fatalf("expected 2 kept events, got %d", len(b["idx"]))
	}
}

// TestSet_IndexInfo_PreservesDeclarationOrder verifies repeated calls
// never reorder the declared index list.
func TestSet_IndexInfo_PreservesDeclarationOrder(t *testing.T) {
	s := newTestSet()
	_ = s.SaveRow(testRow{email: "z@example.com", age: 1}, link(1))

	want := []string{"by_email", "by_age"}
	for range 3 {
		infos := s.IndexInfo()
		for i, info := range infos {
			if info.Name != want[i] {
				t.Fatalf("IndexInfo order changed: got %v", infos)
			}
		}
	}
}
