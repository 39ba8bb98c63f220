// Package secidx implements the secondary index set a table maintains:
// one ordered index per declared column, dispatched together on every
// row mutation, with unwind-on-conflict semantics.
package secidx

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wt-db/wt/index"
	"github.com/wt-db/wt/memsize"
	"github.com/wt-db/wt/wterrors"
)

// Kind tags an index as Unique or NonUnique; the two variants are
// dispatched at a single call site rather than through a type hierarchy.
type Kind int

const (
	Unique Kind = iota
	NonUnique
)

func (k Kind) String() string {
	if k == Unique {
		return "unique"
	}
	return "non_unique"
}

// Row is the minimal contract a generated row type needs: read any
// indexed column as an ordered Key.
type Row interface {
	IndexKey(column string) index.Key
}

// named is one declared secondary index.
type named struct {
	name   string
	column string
	kind   Kind
	uniq   *index.Unique
	multi  *index.MultiMap
}

func (n *named) insert(k index.Key, l index.Link) (events []index.ChangeEvent, existed bool) {
	if n.kind == Unique {
		events, _, existed = n.uniq.InsertCDC(k, l)
		return events, existed
	}
	return n.multi.InsertCDC(k, l), false
}

func (n *named) remove(k index.Key, l index.Link) []index.ChangeEvent {
	if n.kind == Unique {
		events, _, _ := n.uniq.RemoveCDC(k)
		return events
	}
	events, _ := n.multi.RemoveCDC(k, l)
	return events
}

// Set holds every secondary index declared for one table, in declared
// order: the order rollback and AlreadyExists.InsertedAlready use.
type Set struct {
	order  []string
	byName map[string]*named
}

// NewSet builds an empty set. Use Declare to add indexes before serving
// any traffic.
func NewSet() *Set {
	return &Set{byName: make(map[string]*named)}
}

// Declare registers a secondary index over column, in the given node
// fanout and kind.
func (s *Set) Declare(name, column string, kind Kind, maxEntries int) {
	n := &named{name: name, column: column, kind: kind}
	if kind == Unique {
		n.uniq = index.NewUnique(maxEntries)
	} else {
		n.multi = index.NewMultiMap(maxEntries)
	}
	s.byName[name] = n
	s.order = append(s.order, name)
}

// EventBundle is the per-index CDC output of a Set mutation, keyed by
// index name.
type EventBundle map[string][]index.ChangeEvent

// Extend appends another bundle's events into b.
func (b EventBundle) Extend(other EventBundle) {
	for name, evs := range other {
		b[name] = append(b[name], evs...)
	}
}

// Remove drops the named index's events from b, returning them so a
// caller unwinding one index's mutation can still inspect what it
// discarded.
func (b EventBundle) Remove(name string) []index.ChangeEvent {
	evs := b[name]
	delete(b, name)
	return evs
}

// IsEmpty reports whether the bundle carries no events for any index.
func (b EventBundle) IsEmpty() bool {
	for _, evs := range b {
		if len(evs) > 0 {
			return false
		}
	}
	return true
}

// LastEvents returns the highest event ID recorded per index.
func (b EventBundle) LastEvents() map[string]index.ID {
	out := make(map[string]index.ID, len(b))
	for name, evs := range b {
		var max index.ID
		for _, e := range evs {
			if e.ID > max {
				max = e.ID
			}
		}
		out[name] = max
	}
	return out
}

// FirstEvents returns the lowest event ID recorded per index.
func (b EventBundle) FirstEvents() map[string]index.ID {
	out := make(map[string]index.ID, len(b))
	for name, evs := range b {
		if len(evs) == 0 {
			continue
		}
		min := evs[0].ID
		for _, e := range evs[1:] {
			if e.ID < min {
				min = e.ID
			}
		}
		out[name] = min
	}
	return out
}

// Sort orders every per-index event slice ascending by ID.
func (b EventBundle) Sort() {
	for _, evs := range b {
		index.SortAscending(evs)
	}
}

// Validate runs the CDC discontinuity scan independently per index,
// replacing each index's pending slice with the kept prefix and
// returning everything dropped, across all indexes, sorted by
// descending ID.
func (b EventBundle) Validate() (removed []index.ChangeEvent) {
	for name, evs := range b {
		kept, drop := index.Validate(evs)
		b[name] = kept
		removed = append(removed, drop...)
	}
	index.SortDescending(removed)
	return removed
}

// ContainsEvent reports whether any per-index slice contains id.
func (b EventBundle) ContainsEvent(id index.ID) bool {
	for _, evs := range b {
		for _, e := range evs {
			if e.ID == id {
				return true
			}
		}
	}
	return false
}

// SaveRowCDC inserts row's indexed columns into every declared index at
// link. Every index is populated concurrently via errgroup since each
// index is independent; on the first uniqueness conflict every index
// that did succeed is unwound, in declared order, before returning
// *wterrors.AlreadyExists naming the offending index.
func (s *Set) SaveRowCDC(row Row, link index.Link) (EventBundle, error) {
	type outcome struct {
		events  []index.ChangeEvent
		existed bool
	}
	results := make([]outcome, len(s.order))

	g, _ := errgroup.WithContext(context.Background())
	for i, name := range s.order {
		i, n := i, s.byName[name]
		g.Go(func() error {
			k := row.IndexKey(n.column)
			evs, existed := n.insert(k, link)
			results[i] = outcome{events: evs, existed: existed}
			return nil
		})
	}
	_ = g.Wait() // insert() never returns an error; conflicts are reported via existed

	bundle := EventBundle{}
	var conflictAt string
	var insertedAlready []string
	for i, name := range s.order {
		r := results[i]
		if r.existed {
			if conflictAt == "" {
				conflictAt = name
			}
			continue
		}
		bundle[name] = r.events
		insertedAlready = append(insertedAlready, name)
	}

	if conflictAt != "" {
		for _, name := range insertedAlready {
			n := s.byName[name]
			k := row.IndexKey(n.column)
			n.remove(k, link)
		}
		return nil, wterrors.NewAlreadyExists(conflictAt, insertedAlready)
	}
	return bundle, nil
}

// SaveRow is SaveRowCDC without the caller needing the event bundle.
func (s *Set) SaveRow(row Row, link index.Link) error {
	_, err := s.SaveRowCDC(row, link)
	return err
}

// DeleteRowCDC removes row's indexed columns (as they existed at link)
// from every declared index.
func (s *Set) DeleteRowCDC(row Row, link index.Link) EventBundle {
	bundle := EventBundle{}
	for _, name := range s.order {
		n := s.byName[name]
		k := row.IndexKey(n.column)
		bundle[name] = n.remove(k, link)
	}
	return bundle
}

// DeleteRow is DeleteRowCDC without the caller needing the event bundle.
func (s *Set) DeleteRow(row Row, link index.Link) { s.DeleteRowCDC(row, link) }

// ReinsertRowCDC atomically replaces oldRow/oldLink with newRow/newLink:
// equivalent to delete+save with rollback to the old state on collision.
func (s *Set) ReinsertRowCDC(oldRow Row, oldLink index.Link, newRow Row, newLink index.Link) (EventBundle, error) {
	delBundle := s.DeleteRowCDC(oldRow, oldLink)
	saveBundle, err := s.SaveRowCDC(newRow, newLink)
	if err != nil {
		// Roll back the delete: reinsert the old row exactly as it was.
		s.SaveRow(oldRow, oldLink)
		return nil, err
	}
	delBundle.Extend(saveBundle)
	return delBundle, nil
}

// ProcessDifferenceInsertCDC updates only the indexes whose column
// appears in changedColumns, inserting newLink for each.
func (s *Set) ProcessDifferenceInsertCDC(row Row, newLink index.Link, changedColumns map[string]bool) (EventBundle, error) {
	bundle := EventBundle{}
	var touched []string
	for _, name := range s.order {
		n := s.byName[name]
		if !changedColumns[n.column] {
			continue
		}
		k := row.IndexKey(n.column)
		evs, existed := n.insert(k, newLink)
		if existed {
			for _, t := range touched {
				tn := s.byName[t]
				tk := row.IndexKey(tn.column)
				tn.remove(tk, newLink)
			}
			return nil, wterrors.NewAlreadyExists(name, touched)
		}
		bundle[name] = evs
		touched = append(touched, name)
	}
	return bundle, nil
}

// ProcessDifferenceRemoveCDC removes oldLink from only the indexes whose
// column appears in changedColumns.
func (s *Set) ProcessDifferenceRemoveCDC(row Row, oldLink index.Link, changedColumns map[string]bool) EventBundle {
	bundle := EventBundle{}
	for _, name := range s.order {
		n := s.byName[name]
		if !changedColumns[n.column] {
			continue
		}
		k := row.IndexKey(n.column)
		bundle[name] = n.remove(k, oldLink)
	}
	return bundle
}

// Info describes one declared index for observability.
type Info struct {
	Name      string
	Kind      Kind
	KeyCount  int
	NodeCount int
	Sizes     memsize.Report
}

func (i Info) String() string {
	return i.Name + " (" + i.Kind.String() + "): " + i.Sizes.String()
}

// IndexInfo returns per-index metrics in declared order.
func (s *Set) IndexInfo() []Info {
	out := make([]Info, 0, len(s.order))
	for _, name := range s.order {
		n := s.byName[name]
		var keyCount, nodeCount int
		var sized memsize.Sized
		if n.kind == Unique {
			keyCount, nodeCount = n.uniq.Len(), n.uniq.NodeCount()
			sized = n.uniq
		} else {
			keyCount, nodeCount = n.multi.Len(), n.multi.NodeCount()
			sized = n.multi
		}
		out = append(out, Info{
			Name:      n.name,
			Kind:      n.kind,
			KeyCount:  keyCount,
			NodeCount: nodeCount,
			Sizes:     memsize.Of(sized),
		})
	}
	return out
}

// Names returns the declared index names in order.
func (s *Set) Names() []string { return append([]string(nil), s.order...) }

// Columns returns the distinct set of columns backing any declared
// index, in declaration order: used to seed a row's per-column lock
// bookkeeping (rowlock.RowLock) with every column it needs to track.
func (s *Set) Columns() []string {
	seen := make(map[string]bool, len(s.order))
	cols := make([]string, 0, len(s.order))
	for _, name := range s.order {
		c := s.byName[name].column
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	return cols
}

// Lookup resolves every link stored under key in the named index: at
// most one for a Unique index, zero-or-more in insertion-discriminator
// order for a NonUnique one.
func (s *Set) Lookup(name string, key index.Key) ([]index.Link, error) {
	n, ok := s.byName[name]
	if !ok {
		return nil, errors.Wrapf(wterrors.ErrNotFound, "secidx: no such index %q", name)
	}
	if n.kind == Unique {
		l, found := n.uniq.Get(key)
		if !found {
			return nil, nil
		}
		return []index.Link{l}, nil
	}
	return n.multi.Get(key), nil
}
