package table

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/wt-db/wt/index"
	"github.com/wt-db/wt/oplog"
	"github.com/wt-db/wt/page"
	"github.com/wt-db/wt/pkgen"
	"github.com/wt-db/wt/rowlock"
	"github.com/wt-db/wt/secidx"
	"github.com/wt-db/wt/space"
	"github.com/wt-db/wt/wterrors"
)

// SecondaryIndexDecl declares one secondary index a table maintains.
type SecondaryIndexDecl struct {
	Name   string
	Column string
	Kind   secidx.Kind
}

// Config builds a Table.
type Config struct {
	Name       string
	PageSize   int
	Decode     Decoder
	PKGen      pkgen.Generator
	Secondary  []SecondaryIndexDecl
	MaxEntries int // index node fanout; 0 uses a sensible default

	// Pager, if non-nil, backs this table with persistence (a
	// *space.Space). Leave nil for a purely in-memory table. Engine,
	// if non-nil, is the oplog.PersistenceEngine the background Task
	// applies operations against; no Task runs without it.
	Pager  pager
	Engine oplog.PersistenceEngine

	// CheckpointSchedule, if set, is a cron expression (six-field,
	// seconds-first) driving periodic Checkpoint calls against Engine,
	// so a long-lived table flushes on a timer rather than only on
	// demand. Requires Engine to implement oplog.CheckpointEngine;
	// ignored otherwise.
	CheckpointSchedule string
}

// Table is the runtime for one declared table: primary index, secondary
// index set, row locks, primary-key generator, heap pages, and
// (optionally) the asynchronous persistence task.
type Table struct {
	name     string
	pageSize int
	decode   Decoder
	gen      pkgen.Generator

	primary   *index.Unique
	secondary *secidx.Set
	locks     *rowlock.Map

	colMu    sync.Mutex
	colLocks map[string]*rowlock.RowLock

	mu            sync.RWMutex
	pager         pager
	currentPageID page.ID
	currentPage   *page.DataPage

	task       *oplog.Task
	cancelTask context.CancelFunc
	sched      *oplog.Scheduler
}

const defaultMaxEntries = 64

// New constructs a Table from cfg.
func New(cfg Config) *Table {
	maxEntries := cfg.MaxEntries
	if maxEntries == 0 {
		maxEntries = defaultMaxEntries
	}
	sec := secidx.NewSet()
	for _, d := range cfg.Secondary {
		sec.Declare(d.Name, d.Column, d.Kind, maxEntries)
	}
	gen := cfg.PKGen
	if gen == nil {
		gen = pkgen.NewNone()
	}
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = page.DefaultPageSize
	}

	pg := cfg.Pager
	if pg == nil {
		pg = newMemPager(pageSize)
	}

	t := &Table{
		name:      cfg.Name,
		pageSize:  pageSize,
		decode:    cfg.Decode,
		gen:       gen,
		primary:   index.NewUnique(maxEntries),
		secondary: sec,
		locks:     rowlock.NewMap(),
		colLocks:  make(map[string]*rowlock.RowLock),
		pager:     pg,
	}

	if cfg.Engine != nil {
		queue := oplog.NewQueue()
		t.task = oplog.NewTask(queue, cfg.Engine)
		ctx, cancel := context.WithCancel(context.Background())
		t.cancelTask = cancel
		go t.task.Run(ctx)

		if cfg.CheckpointSchedule != "" {
			if ce, ok := cfg.Engine.(oplog.CheckpointEngine); ok {
				sched := oplog.NewScheduler(ce)
				if err := sched.AddCheckpoint(cfg.CheckpointSchedule); err != nil {
					log.Printf("table %s: invalid checkpoint schedule %q: %v", cfg.Name, cfg.CheckpointSchedule, err)
				} else {
					sched.Start()
					t.sched = sched
				}
			}
		}
	}

	return t
}

// NextPK generates the next primary key for Autoincrement/Custom tables.
// Callers embed the result in the row they pass to Insert.
func (t *Table) NextPK() index.Key { return t.gen.Next() }

func (t *Table) allocate(size int) (index.Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.currentPage == nil {
		t.currentPage, t.currentPageID = t.pager.InitDataPage()
	}
	link, err := t.currentPage.Allocate(size, t.currentPageID)
	if isPageFull(err) {
		t.currentPage, t.currentPageID = t.pager.InitDataPage()
		link, err = t.currentPage.Allocate(size, t.currentPageID)
	}
	if err != nil {
		return index.Link{}, err
	}
	if err := t.pager.WriteDataPage(t.currentPage, t.currentPageID); err != nil {
		return index.Link{}, err
	}
	return link, nil
}

func isPageFull(err error) bool {
	var pe *wterrors.PagesError
	return errors.As(err, &pe) && pe.Kind == wterrors.PagesErrorFull
}

func (t *Table) writeAt(link index.Link, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	dp, err := t.pager.ReadDataPage(link.PageID)
	if err != nil {
		return err
	}
	if err := dp.Write(link, data); err != nil {
		return err
	}
	return t.pager.WriteDataPage(dp, link.PageID)
}

func (t *Table) ghost(link index.Link) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	dp, err := t.pager.ReadDataPage(link.PageID)
	if err != nil {
		return err
	}
	if err := dp.Ghost(link); err != nil {
		return err
	}
	return t.pager.WriteDataPage(dp, link.PageID)
}

func (t *Table) readRow(link index.Link) (Row, error) {
	t.mu.RLock()
	dp, err := t.pager.ReadDataPage(link.PageID)
	t.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	raw, err := dp.SelectNonGhosted(link)
	if err != nil {
		return nil, err
	}
	return t.decode(raw)
}

// rowLock returns the per-column RowLock tracking keyStr's pending
// writes, creating an empty one on first use.
func (t *Table) rowLock(keyStr string) *rowlock.RowLock {
	t.colMu.Lock()
	defer t.colMu.Unlock()
	rl, ok := t.colLocks[keyStr]
	if !ok {
		rl = rowlock.NewEmptyRowLock()
		t.colLocks[keyStr] = rl
	}
	return rl
}

// enqueue builds the persistence Operation for a mutation and pushes it
// onto the task's queue, tracking the touched columns under a fresh
// held lock on keyStr's RowLock. The lock is released through the
// operation's OnApplied callback once the worker has (tried to) apply
// it, which is the signal WaitForRow watches. A purely in-memory table
// has no task and skips all of this.
func (t *Table) enqueue(kind oplog.Kind, keyStr string, columns []string, link, oldLink index.Link, encoded []byte, primary []index.ChangeEvent, secondary secidx.EventBundle, pkState []byte) {
	if t.task == nil {
		return
	}
	op, err := oplog.NewOperation(kind, link, oldLink, encoded, primary, secondary, pkState)
	if err != nil {
		// Without an id the operation cannot be queued; the in-memory
		// state is already mutated and stays authoritative.
		return
	}
	rl := t.rowLock(keyStr)
	_, fresh := rl.LockColumns(t.locks.NextID(), columns)
	op.OnApplied = fresh.Release
	t.task.Enqueue(op)
}

// WaitForRow blocks until every write pk currently has pending in the
// persistence queue has been applied, or ctx is done. A no-op for a key
// with nothing pending and for in-memory tables.
func (t *Table) WaitForRow(ctx context.Context, pk index.Key) error {
	if t.task == nil {
		return nil
	}
	rl := t.rowLock(pk.String())
	for l := range rl.Locks() {
		if err := l.Acquire(ctx); err != nil {
			return err
		}
		l.Release()
	}
	return nil
}

// rowColumns names every column a whole-row write (Insert/Delete) locks
// in its RowLock: the primary key plus every column backing a declared
// secondary index.
func (t *Table) rowColumns() []string {
	return append([]string{"__pk__"}, t.secondary.Columns()...)
}

// Insert adds row under its own PrimaryKey and returns that key.
// Returns *wterrors.AlreadyExists if the primary key or any unique
// secondary index column already has an entry; any index mutations
// applied before the collision are fully rolled back first.
func (t *Table) Insert(row Row) (index.Key, error) {
	key := row.PrimaryKey()
	keyStr := key.String()
	lock := t.locks.GetOrCreate(keyStr)
	defer t.locks.Release(keyStr)
	if err := lock.Acquire(context.Background()); err != nil {
		return nil, err
	}
	defer lock.Release()

	encoded, err := row.Encode()
	if err != nil {
		return nil, errors.Wrap(wterrors.ErrSerialization, err.Error())
	}

	link, err := t.allocate(len(encoded))
	if err != nil {
		return nil, err
	}
	if err := t.writeAt(link, encoded); err != nil {
		return nil, err
	}

	primaryEvents, _, existed := t.primary.InsertCDC(key, link)
	if existed {
		t.ghost(link)
		return nil, wterrors.NewAlreadyExists("primary", nil)
	}

	secEvents, err := t.secondary.SaveRowCDC(row, link)
	if err != nil {
		t.primary.Remove(key)
		t.ghost(link)
		return nil, err
	}

	t.gen.Observe(key)
	t.enqueue(oplog.KindInsert, keyStr, t.rowColumns(), link, index.Link{}, encoded, primaryEvents, secEvents, t.gen.State())
	return key, nil
}

// Update replaces the row stored at pk's primary key with newRow,
// assuming the primary key itself is unchanged. To change a row's
// primary key, Delete then Insert.
//
// A same-size encoding is written in place (no new link, no
// primary-index churn); only a size change allocates a fresh slot and
// reinserts the primary index entry under the unchanged key. Only
// secondary indexes over columns newRow.ChangedColumns reports are
// touched, via the difference-based secidx path rather than a blanket
// delete+save.
func (t *Table) Update(pk index.Key, newRow Row) error {
	keyStr := pk.String()
	lock := t.locks.GetOrCreate(keyStr)
	defer t.locks.Release(keyStr)
	if err := lock.Acquire(context.Background()); err != nil {
		return err
	}
	defer lock.Release()

	oldLink, ok := t.primary.Get(pk)
	if !ok {
		return wterrors.ErrNotFound
	}
	oldRow, err := t.readRow(oldLink)
	if err != nil {
		return err
	}

	encoded, err := newRow.Encode()
	if err != nil {
		return errors.Wrap(wterrors.ErrSerialization, err.Error())
	}

	changed := newRow.ChangedColumns(oldRow)

	sameSize := uint32(len(encoded)) == oldLink.Length
	link := oldLink
	var primaryEvents []index.ChangeEvent
	if sameSize {
		if err := t.writeAt(oldLink, encoded); err != nil {
			return err
		}
	} else {
		newLink, err := t.allocate(len(encoded))
		if err != nil {
			return err
		}
		if err := t.writeAt(newLink, encoded); err != nil {
			return err
		}
		link = newLink

		// The primary-index swap happens before any secondary-index
		// change becomes visible, so Select(pk) resolves the new link
		// by the time a concurrent reader can observe the new value
		// through a secondary lookup.
		removePrimary, _, _ := t.primary.RemoveCDC(pk)
		insertPrimary, _, _ := t.primary.InsertCDC(pk, link)
		primaryEvents = append(removePrimary, insertPrimary...)
	}

	removeEvents := t.secondary.ProcessDifferenceRemoveCDC(oldRow, oldLink, changed)
	insertEvents, err := t.secondary.ProcessDifferenceInsertCDC(newRow, link, changed)
	if err != nil {
		// Roll back to the old link: the changed-column entries just
		// removed above pointed at oldLink, so restore them before
		// surfacing the collision.
		t.secondary.ProcessDifferenceInsertCDC(oldRow, oldLink, changed)
		if sameSize {
			// The in-place write above replaced the old bytes at oldLink;
			// put them back.
			if oldEncoded, encErr := oldRow.Encode(); encErr == nil {
				t.writeAt(oldLink, oldEncoded)
			}
		}
		if !sameSize {
			// The primary index already points at the new link; put it
			// back on pk before surfacing the failure so a concurrent
			// Select(pk) never resolves a link this Update is about to
			// ghost.
			t.primary.RemoveCDC(pk)
			t.primary.InsertCDC(pk, oldLink)
			t.ghost(link)
		}
		return err
	}
	secEvents := removeEvents
	secEvents.Extend(insertEvents)

	if !sameSize {
		t.ghost(oldLink)
	}

	cols := make([]string, 0, len(changed)+1)
	cols = append(cols, "__pk__")
	for c := range changed {
		cols = append(cols, c)
	}
	t.enqueue(oplog.KindUpdate, keyStr, cols, link, oldLink, encoded, primaryEvents, secEvents, nil)
	return nil
}

// Delete removes the row at pk from the primary index, every secondary
// index, and the heap.
func (t *Table) Delete(pk index.Key) error {
	keyStr := pk.String()
	// Deferred last so the prune runs after both releases below; a
	// contended entry simply survives until a later delete finds it
	// idle.
	defer t.locks.RemoveWithLockCheck(keyStr)
	lock := t.locks.GetOrCreate(keyStr)
	defer t.locks.Release(keyStr)
	if err := lock.Acquire(context.Background()); err != nil {
		return err
	}
	defer lock.Release()

	link, ok := t.primary.Get(pk)
	if !ok {
		return wterrors.ErrNotFound
	}
	row, err := t.readRow(link)
	if err != nil {
		return err
	}

	secEvents := t.secondary.DeleteRowCDC(row, link)
	primaryEvents, _, _ := t.primary.RemoveCDC(pk)
	t.ghost(link)

	t.enqueue(oplog.KindDelete, keyStr, t.rowColumns(), index.Link{}, link, nil, primaryEvents, secEvents, nil)
	return nil
}

// Select returns the row stored at pk.
func (t *Table) Select(pk index.Key) (Row, error) {
	link, ok := t.primary.Get(pk)
	if !ok {
		return nil, wterrors.ErrNotFound
	}
	return t.readRow(link)
}

// SelectByIndex returns every row whose named secondary index column
// equals key. Works for both Unique and NonUnique declared indexes.
func (t *Table) SelectByIndex(indexName string, key index.Key) ([]Row, error) {
	links, err := t.secondary.Lookup(indexName, key)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(links))
	for _, l := range links {
		row, err := t.readRow(l)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// SelectAll calls fn for every row in ascending primary-key order, until
// fn returns false or every row has been visited. Ghosted slots are
// never reachable: the primary index only holds live links.
func (t *Table) SelectAll(fn func(Row) bool) error {
	var firstErr error
	t.primary.Iter(func(_ index.Key, l index.Link) bool {
		row, err := t.readRow(l)
		if err != nil {
			firstErr = err
			return false
		}
		return fn(row)
	})
	return firstErr
}

// UpdateBy applies a declared update query: every row the named index
// resolves for key is passed through apply and written back via Update.
// Returns how many rows were updated.
func (t *Table) UpdateBy(indexName string, key index.Key, apply func(Row) Row) (int, error) {
	rows, err := t.SelectByIndex(indexName, key)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, row := range rows {
		newRow := apply(row)
		if err := t.Update(newRow.PrimaryKey(), newRow); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// DeleteBy applies a declared delete query: every row the named index
// resolves for key is deleted. Returns how many rows were deleted.
func (t *Table) DeleteBy(indexName string, key index.Key) (int, error) {
	rows, err := t.SelectByIndex(indexName, key)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, row := range rows {
		if err := t.Delete(row.PrimaryKey()); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Count returns the number of live rows.
func (t *Table) Count() int { return t.primary.Len() }

// IndexInfo returns per-secondary-index metrics in declared order.
func (t *Table) IndexInfo() []secidx.Info { return t.secondary.IndexInfo() }

// WaitForOps blocks until every currently queued persistence operation
// has been applied. A no-op for in-memory tables.
func (t *Table) WaitForOps(ctx context.Context) error {
	if t.task == nil {
		return nil
	}
	return t.task.WaitForOps(ctx)
}

// Close stops the checkpoint scheduler and the background persistence
// worker, if any.
func (t *Table) Close() {
	if t.sched != nil {
		t.sched.Stop()
	}
	if t.cancelTask != nil {
		t.cancelTask()
	}
}

// Compact runs a reachability GC pass over the backing space file, the
// manual retry-after-page-exhaustion path: data pages with no live
// link are folded onto the space's free-page list and reused by future
// allocations instead of growing the file. Every live link the primary
// index currently points at is reachable; secondary indexes never
// reference a page the primary index doesn't, so walking the primary
// index alone is sufficient. A no-op (zero-value result) for in-memory
// tables, since there is no space file to reclaim pages from.
func (t *Table) Compact() space.GCResult {
	sp, ok := t.pager.(*space.Space)
	if !ok {
		return space.GCResult{}
	}
	reachable := make(map[page.ID]bool)
	t.primary.Iter(func(_ index.Key, l index.Link) bool {
		reachable[l.PageID] = true
		return true
	})
	// The cached append page stays reachable even when every row it
	// held has been deleted; the next allocate still writes into it.
	t.mu.RLock()
	if t.currentPage != nil {
		reachable[t.currentPageID] = true
	}
	t.mu.RUnlock()
	return sp.Reclaim(reachable)
}
