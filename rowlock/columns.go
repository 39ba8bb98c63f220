package rowlock

import "sync"

// RowLock tracks, for one primary key, which Lock currently governs the
// not-yet-durable write to each of its columns: the per-column
// counterpart to Map's whole-row exclusion lock. LockColumns takes over
// every named column under one fresh held lock, handing back whichever
// locks it displaced; Merge folds another RowLock's column locks into
// this one with the same hand-back contract, used to consolidate
// pending writes for a grouped multi-row operation.
//
// Table uses RowLock to let WaitForRow (table/table.go) watch only the
// columns a specific write touched, instead of draining the entire
// persistence queue the way WaitForOps does. The coarser per-key
// Map/Lock in lock.go remains the correctness-critical mutual exclusion
// for Insert/Update/Delete; RowLock adds observability on top of it, it
// does not replace it.
type RowLock struct {
	mu      sync.Mutex
	columns map[string]*Lock
}

// NewEmptyRowLock builds a RowLock with no columns locked yet; the first
// LockColumns call populates it.
func NewEmptyRowLock() *RowLock {
	return &RowLock{columns: make(map[string]*Lock)}
}

// NewRowLock builds a RowLock with every column in columns already
// locked under one freshly minted held Lock.
func NewRowLock(id uint16, columns []string) (*RowLock, *Lock) {
	l := newHeldLock(id)
	rl := &RowLock{columns: make(map[string]*Lock, len(columns))}
	for _, c := range columns {
		rl.columns[c] = l
	}
	return rl, l
}

// IsLocked reports whether any tracked column still carries an
// unresolved lock.
func (rl *RowLock) IsLocked() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, l := range rl.columns {
		if l.Locked() {
			return true
		}
	}
	return false
}

// LockColumns takes over every named column under one freshly minted
// held Lock, returning the distinct set of Locks it displaced: the
// locks a caller waits on before treating those columns' earlier writes
// as durable. Columns not yet tracked are simply added.
func (rl *RowLock) LockColumns(id uint16, columns []string) (displaced map[*Lock]struct{}, fresh *Lock) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	fresh = newHeldLock(id)
	displaced = make(map[*Lock]struct{})
	for _, c := range columns {
		if prev, ok := rl.columns[c]; ok && prev != fresh {
			displaced[prev] = struct{}{}
		}
		rl.columns[c] = fresh
	}
	return displaced, fresh
}

// Merge folds other's column locks into rl, returning whichever of rl's
// own locks got displaced in the process: used to consolidate two
// rows' pending column locks into one wait set for a grouped operation.
func (rl *RowLock) Merge(other *RowLock) map[*Lock]struct{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	displaced := make(map[*Lock]struct{})
	for c, l := range other.columns {
		if prev, ok := rl.columns[c]; ok && prev != l {
			displaced[prev] = struct{}{}
		}
		rl.columns[c] = l
	}
	return displaced
}

// Locks returns the distinct set of Locks currently tracked across all
// columns, for a caller that wants to wait on every one of them (e.g.
// table.Table.WaitForRow).
func (rl *RowLock) Locks() map[*Lock]struct{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	out := make(map[*Lock]struct{})
	for _, l := range rl.columns {
		out[l] = struct{}{}
	}
	return out
}

// Columns returns the names currently tracked, for tests/diagnostics.
func (rl *RowLock) Columns() []string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	out := make([]string, 0, len(rl.columns))
	for c := range rl.columns {
		out = append(out, c)
	}
	return out
}
