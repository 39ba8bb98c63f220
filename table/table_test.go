package table

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wt-db/wt/index"
	"github.com/wt-db/wt/page"
	"github.com/wt-db/wt/pkgen"
	"github.com/wt-db/wt/secidx"
	"github.com/wt-db/wt/space"
)

// orderRow is a minimal hand-written Row implementation standing in for
// generated code.
type orderRow struct {
	ID    uint64
	Email string
}

func (r orderRow) PrimaryKey() index.Key { return index.Uint64Key(r.ID) }

func (r orderRow) IndexKey(column string) index.Key {
	switch column {
	case "email":
		return index.StringKey(r.Email)
	default:
		panic("orderRow: unknown column " + column)
	}
}

func (r orderRow) Encode() ([]byte, error) {
	return []byte(fmt.Sprintf("%d|%s", r.ID, r.Email)), nil
}

func (r orderRow) ChangedColumns(other Row) map[string]bool {
	o := other.(orderRow)
	return map[string]bool{"email": r.Email != o.Email}
}

func decodeOrderRow(raw []byte) (Row, error) {
	var r orderRow
	var email string
	if _, err := fmt.Sscanf(string(raw), "%d|%s", &r.ID, &email); err != nil {
		return nil, err
	}
	r.Email = email
	return r, nil
}

func newTestTable() *Table {
	return New(Config{
		Name:   "orders",
		Decode: decodeOrderRow,
		Secondary: []SecondaryIndexDecl{
			{Name: "by_email", Column: "email", Kind: secidx.Unique},
		},
	})
}

// TestInsertAndSelect verifies a round trip through both the primary key
// and a declared secondary index.
func TestInsertAndSelect(t *testing.T) {
	tbl := newTestTable()
	pk, err := tbl.Insert(orderRow{ID: 1, Email: "a@x.com"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if pk.(index.Uint64Key) != 1 {
		t.Fatalf("Insert returned key %v, want 1", pk)
	}

	got, err := tbl.Select(index.Uint64Key(1))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.(orderRow).Email != "a@x.com" {
		t.Fatalf("unexpected row: %+v", got)
	}

	rows, err := tbl.SelectByIndex("by_email", index.StringKey("a@x.com"))
	if err != nil {
		t.Fatalf("SelectByIndex: %v", err)
	}
	if len(rows) != 1 || rows[0].(orderRow).ID != 1 {
		t.Fatalf("unexpected index lookup: %+v", rows)
	}
}

// TestInsert_RejectsDuplicatePrimaryKey verifies a repeated primary key
// is rejected and leaves no secondary index residue behind.
func TestInsert_RejectsDuplicatePrimaryKey(t *testing.T) {
	tbl := newTestTable()
	if _, err := tbl.Insert(orderRow{ID: 1, Email: "a@x.com"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tbl.Insert(orderRow{ID: 1, Email: "b@x.com"}); err == nil {
		t.Fatal("expected duplicate primary key to fail")
	}
	rows, err := tbl.SelectByIndex("by_email", index.StringKey("b@x.com"))
	if err != nil {
		t.Fatalf("SelectByIndex: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no residual secondary entry, got %+v", rows)
	}
}

// TestInsert_RejectsDuplicateUniqueSecondary verifies a colliding unique
// secondary column is rejected and the primary index entry is unwound.
func TestInsert_RejectsDuplicateUniqueSecondary(t *testing.T) {
	tbl := New(Config{
		Name:   "orders",
		Decode: decodeOrderRow,
		Secondary: []SecondaryIndexDecl{
			{Name: "by_email", Column: "email", Kind: secidx.Unique}, // Unique
		},
	})
	if _, err := tbl.Insert(orderRow{ID: 1, Email: "dup@x.com"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := tbl.Insert(orderRow{ID: 2, Email: "dup@x.com"}); err == nil {
		t.Fatal("expected unique secondary collision to fail")
	}
	if _, err := tbl.Select(index.Uint64Key(2)); err == nil {
		t.Fatal("expected rolled-back primary key to be absent")
	}
}

// TestUpdate_SameSizeInPlace verifies an update whose encoding keeps the
// same length rewrites in place and updates the secondary index.
func TestUpdate_SameSizeInPlace(t *testing.T) {
	tbl := newTestTable()
	if _, err := tbl.Insert(orderRow{ID: 1, Email: "aaa@x.com"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.Update(index.Uint64Key(1), orderRow{ID: 1, Email: "bbb@x.com"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := tbl.Select(index.Uint64Key(1))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.(orderRow).Email != "bbb@x.com" {
		t.Fatalf("unexpected row after update: %+v", got)
	}

	if rows, _ := tbl.SelectByIndex("by_email", index.StringKey("aaa@x.com")); len(rows) != 0 {
		t.Fatalf("expected old secondary entry gone, got %+v", rows)
	}
	rows, err := tbl.SelectByIndex("by_email", index.StringKey("bbb@x.com"))
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected updated secondary entry, got %+v err %v", rows, err)
	}
}

// TestUpdate_DifferentSizeReallocates verifies a size-changing update
// reallocates a slot but leaves the primary key resolving to the new row.
func TestUpdate_DifferentSizeReallocates(t *testing.T) {
	tbl := newTestTable()
	if _, err := tbl.Insert(orderRow{ID: 1, Email: "a@x.com"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.Update(index.Uint64Key(1), orderRow{ID: 1, Email: "much-longer-address@example.com"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := tbl.Select(index.Uint64Key(1))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.(orderRow).Email != "much-longer-address@example.com" {
		t.Fatalf("unexpected row after update: %+v", got)
	}
}

// TestDelete_RemovesFromPrimaryAndSecondary verifies a deleted row is
// absent from both the primary key and every secondary index.
func TestDelete_RemovesFromPrimaryAndSecondary(t *testing.T) {
	tbl := newTestTable()
	if _, err := tbl.Insert(orderRow{ID: 1, Email: "a@x.com"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.Delete(index.Uint64Key(1)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tbl.Select(index.Uint64Key(1)); err == nil {
		t.Fatal("expected deleted row to be absent")
	}
	if rows, _ := tbl.SelectByIndex("by_email", index.StringKey("a@x.com")); len(rows) != 0 {
		t.Fatalf("expected secondary entry gone, got %+v", rows)
	}
}

// TestSelectAll_AscendingOrder verifies SelectAll visits rows in
// ascending primary-key order.
func TestSelectAll_AscendingOrder(t *testing.T) {
	tbl := newTestTable()
	for _, id := range []uint64{3, 1, 2} {
		if _, err := tbl.Insert(orderRow{ID: id, Email: fmt.Sprintf("%d@x.com", id)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	var seen []uint64
	if err := tbl.SelectAll(func(r Row) bool {
		seen = append(seen, r.(orderRow).ID)
		return true
	}); err != nil {
		t.Fatalf("SelectAll: %v", err)
	}
	want := []uint64{1, 2, 3}
	for i, id := range want {
		if seen[i] != id {
			t.Fatalf("expected ascending order %v, got %v", want, seen)
		}
	}
	if tbl.Count() != 3 {
		t.Fatalf("expected count 3, got %d", tbl.Count())
	}
}

// TestPersistence_RecoverAfterReopen verifies a table backed by a
// persistent space reconstructs identical primary and secondary index
// content after Close and Open.
func TestPersistence_RecoverAfterReopen(t *testing.T) {
	dir := t.TempDir()
	sp, err := space.Open(space.Config{
		Dir:                 dir,
		Name:                "orders",
		PageSize:            page.MinPageSize,
		SecondaryIndexNames: []string{"by_email"},
	})
	if err != nil {
		t.Fatalf("space.Open: %v", err)
	}

	cfg := Config{
		Name:   "orders",
		Decode: decodeOrderRow,
		PKGen:  pkgen.NewAutoincrement(),
		Secondary: []SecondaryIndexDecl{
			{Name: "by_email", Column: "email", Kind: secidx.Unique},
		},
		Pager:  sp,
		Engine: sp,
	}
	tbl := New(cfg)
	for _, id := range []uint64{1, 2, 3} {
		if _, err := tbl.Insert(orderRow{ID: id, Email: fmt.Sprintf("user%d@x.com", id)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := tbl.Delete(index.Uint64Key(2)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := tbl.WaitForOps(context.Background()); err != nil {
		t.Fatalf("WaitForOps: %v", err)
	}
	tbl.Close()
	if err := sp.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := sp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sp2, err := space.Open(space.Config{
		Dir:                 dir,
		Name:                "orders",
		PageSize:            page.MinPageSize,
		SecondaryIndexNames: []string{"by_email"},
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer sp2.Close()

	cfg2 := cfg
	cfg2.PKGen = pkgen.NewAutoincrement()
	cfg2.Pager = sp2
	cfg2.Engine = sp2
	tbl2, err := Open(cfg2)
	if err != nil {
		t.Fatalf("table.Open: %v", err)
	}
	defer tbl2.Close()

	if tbl2.Count() != 2 {
		t.Fatalf("expected 2 surviving rows after reopen, got %d", tbl2.Count())
	}
	if _, err := tbl2.Select(index.Uint64Key(2)); err == nil {
		t.Fatal("expected deleted row 2 to stay absent after reopen")
	}
	for _, id := range []uint64{1, 3} {
		got, err := tbl2.Select(index.Uint64Key(id))
		if err != nil {
			t.Fatalf("Select(%d) after reopen: %v", id, err)
		}
		want := fmt.Sprintf("user%d@x.com", id)
		if got.(orderRow).Email != want {
			t.Fatalf("row %d: expected email %q, got %q", id, want, got.(orderRow).Email)
		}
		rows, err := tbl2.SelectByIndex("by_email", index.StringKey(want))
		if err != nil || len(rows) != 1 {
			t.Fatalf("SelectByIndex after reopen: rows=%+v err=%v", rows, err)
		}
	}

	// The generator must never reissue a key it has already durably
	// observed, even across a reopen.
	next := tbl2.NextPK()
	if next.(index.Uint64Key) <= 3 {
		t.Fatalf("expected generator to fast-forward past 3, got %v", next)
	}
}

// visitRow is a second fixture with a non-unique city index, for the
// multiplicity and declared-query paths.
type visitRow struct {
	ID   uint64
	City string
}

func (r visitRow) PrimaryKey() index.Key { return index.Uint64Key(r.ID) }

func (r visitRow) IndexKey(column string) index.Key {
	if column != "city" {
		panic("visitRow: unknown column " + column)
	}
	return index.StringKey(r.City)
}

func (r visitRow) Encode() ([]byte, error) {
	return []byte(fmt.Sprintf("%d|%s", r.ID, r.City)), nil
}

func (r visitRow) ChangedColumns(other Row) map[string]bool {
	o := other.(visitRow)
	return map[string]bool{"city": r.City != o.City}
}

func decodeVisitRow(raw []byte) (Row, error) {
	var r visitRow
	var city string
	if _, err := fmt.Sscanf(string(raw), "%d|%s", &r.ID, &city); err != nil {
		return nil, err
	}
	r.City = city
	return r, nil
}

func newVisitTable() *Table {
	return New(Config{
		Name:   "visits",
		Decode: decodeVisitRow,
		Secondary: []SecondaryIndexDecl{
			{Name: "by_city", Column: "city", Kind: secidx.NonUnique},
		},
	})
}

// TestNonUniqueIndex_Multiplicity verifies n rows sharing a non-unique
// key all resolve through the index.
func TestNonUniqueIndex_Multiplicity(t *testing.T) {
	tbl := newVisitTable()
	const n = 5
	for i := uint64(1); i <= n; i++ {
		if _, err := tbl.Insert(visitRow{ID: i, City: "berlin"}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if _, err := tbl.Insert(visitRow{ID: 100, City: "oslo"}); err != nil {
		t.Fatalf("Insert(oslo): %v", err)
	}

	rows, err := tbl.SelectByIndex("by_city", index.StringKey("berlin"))
	if err != nil {
		t.Fatalf("SelectByIndex: %v", err)
	}
	if len(rows) != n {
		t.Fatalf("expected %d berlin rows, got %d", n, len(rows))
	}
}

// TestQueryBuilder_ComposesFilterOrderLimit verifies the chained
// where/order/offset/limit surface over an index lookup.
func TestQueryBuilder_ComposesFilterOrderLimit(t *testing.T) {
	tbl := newVisitTable()
	for i := uint64(1); i <= 10; i++ {
		if _, err := tbl.Insert(visitRow{ID: i, City: "berlin"}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	q, err := tbl.SelectByIndexQuery("by_city", index.StringKey("berlin"))
	if err != nil {
		t.Fatalf("SelectByIndexQuery: %v", err)
	}
	got := q.
		WhereBy(func(r Row) bool { return r.(visitRow).ID%2 == 0 }).
		OrderBy(func(a, b Row) bool { return a.(visitRow).ID > b.(visitRow).ID }).
		Offset(1).
		Limit(2).
		Execute()
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	// Even IDs descending are 10,8,6,4,2; offset 1 and limit 2 keep 8,6.
	if got[0].(visitRow).ID != 8 || got[1].(visitRow).ID != 6 {
		t.Fatalf("unexpected page: %+v", got)
	}
}

// TestUpdateBy_AppliesToMatchingRows verifies a declared update query
// rewrites every row the index resolves.
func TestUpdateBy_AppliesToMatchingRows(t *testing.T) {
	tbl := newVisitTable()
	for i := uint64(1); i <= 3; i++ {
		if _, err := tbl.Insert(visitRow{ID: i, City: "berlin"}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	n, err := tbl.UpdateBy("by_city", index.StringKey("berlin"), func(r Row) Row {
		v := r.(visitRow)
		v.City = "munich"
		return v
	})
	if err != nil {
		t.Fatalf("UpdateBy: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows updated, got %d", n)
	}
	if rows, _ := tbl.SelectByIndex("by_city", index.StringKey("berlin")); len(rows) != 0 {
		t.Fatalf("expected berlin empty after UpdateBy, got %+v", rows)
	}
	rows, err := tbl.SelectByIndex("by_city", index.StringKey("munich"))
	if err != nil || len(rows) != 3 {
		t.Fatalf("expected 3 munich rows, got %+v err %v", rows, err)
	}
}

// TestDeleteBy_RemovesMatchingRows verifies a declared delete query
// removes every row the index resolves and nothing else.
func TestDeleteBy_RemovesMatchingRows(t *testing.T) {
	tbl := newVisitTable()
	for i := uint64(1); i <= 3; i++ {
		if _, err := tbl.Insert(visitRow{ID: i, City: "berlin"}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if _, err := tbl.Insert(visitRow{ID: 9, City: "oslo"}); err != nil {
		t.Fatalf("Insert(oslo): %v", err)
	}

	n, err := tbl.DeleteBy("by_city", index.StringKey("berlin"))
	if err != nil {
		t.Fatalf("DeleteBy: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows deleted, got %d", n)
	}
	if tbl.Count() != 1 {
		t.Fatalf("expected 1 surviving row, got %d", tbl.Count())
	}
	if _, err := tbl.Select(index.Uint64Key(9)); err != nil {
		t.Fatalf("oslo row should survive: %v", err)
	}
}

// TestConcurrentInserts verifies disjoint-key writers on parallel
// goroutines all land, with every generated key distinct.
func TestConcurrentInserts(t *testing.T) {
	tbl := New(Config{
		Name:   "visits",
		Decode: decodeVisitRow,
		PKGen:  pkgen.NewAutoincrement(),
		Secondary: []SecondaryIndexDecl{
			{Name: "by_city", Column: "city", Kind: secidx.NonUnique},
		},
	})

	const workers = 8
	const perWorker = 200
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				pk := tbl.NextPK().(index.Uint64Key)
				row := visitRow{ID: uint64(pk), City: fmt.Sprintf("city-%d", w)}
				if _, err := tbl.Insert(row); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Insert: %v", err)
	}

	if got := tbl.Count(); got != workers*perWorker {
		t.Fatalf("expected %d rows, got %d", workers*perWorker, got)
	}
}

// TestCheckpointSchedule_FlushesInBackground verifies a table opened
// with a cron checkpoint schedule reaches disk without anyone calling
// Checkpoint by hand: a fresh space's primary index file stays empty
// until the first flush writes its TOC page.
func TestCheckpointSchedule_FlushesInBackground(t *testing.T) {
	dir := t.TempDir()
	sp, err := space.Open(space.Config{
		Dir:                 dir,
		Name:                "orders",
		PageSize:            page.MinPageSize,
		SecondaryIndexNames: []string{"by_email"},
	})
	if err != nil {
		t.Fatalf("space.Open: %v", err)
	}
	defer sp.Close()

	tbl := New(Config{
		Name:   "orders",
		Decode: decodeOrderRow,
		Secondary: []SecondaryIndexDecl{
			{Name: "by_email", Column: "email", Kind: secidx.Unique},
		},
		Pager:              sp,
		Engine:             sp,
		CheckpointSchedule: "* * * * * *",
	})
	defer tbl.Close()

	if _, err := tbl.Insert(orderRow{ID: 1, Email: "a@x.com"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.WaitForOps(context.Background()); err != nil {
		t.Fatalf("WaitForOps: %v", err)
	}

	idxPath := filepath.Join(dir, "primary"+space.ExtIdx)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if fi, err := os.Stat(idxPath); err == nil && fi.Size() > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("scheduled checkpoint never flushed the primary index file")
}
