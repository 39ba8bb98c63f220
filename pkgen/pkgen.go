// Package pkgen implements the primary-key generator modes a table can
// declare: None (caller supplies the key), Autoincrement (monotonic
// counter seeded from persisted state), and Custom (caller-provided
// function).
package pkgen

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/wt-db/wt/index"
)

// Generator produces fresh primary keys and persists its own state.
type Generator interface {
	// Next returns a freshly generated key. For Mode == None it panics -
	// callers in that mode must supply their own primary key and never
	// call Next.
	Next() index.Key

	// State serializes the generator's resumable state. For
	// Autoincrement this is the 8-byte counter; for None and Custom it
	// is empty.
	State() []byte

	// Restore loads previously persisted state, e.g. after reopening a
	// persistent space. It only ever fast-forwards: state older than
	// what Observe has already seen is ignored, so a stale info page
	// can never make the generator reissue a key.
	Restore(state []byte)

	// Observe is called by the table runtime whenever a key is seen in
	// the primary index (on insert, and while streaming pages back in on
	// reopen) so the generator can fast-forward past it. This is what
	// guarantees a key durably observed once is never issued again,
	// even when the caller supplied that key directly in None/Custom
	// mode.
	Observe(k index.Key)
}

// Mode selects a Generator's behaviour.
type Mode int

const (
	ModeNone Mode = iota
	ModeAutoincrement
	ModeCustom
)

// none is the Mode == None generator: every key must come from the
// caller; Next is never legitimately called.
type none struct{}

// NewNone returns a generator for schemas with no PK-generation qualifier.
func NewNone() Generator { return none{} }

func (none) Next() index.Key   { panic("pkgen: Next called on a None-mode generator") }
func (none) State() []byte     { return nil }
func (none) Restore([]byte)    {}
func (none) Observe(index.Key) {}

// autoincrement produces a monotonically increasing Uint64Key, seeded
// from persisted state across restarts.
type autoincrement struct {
	counter atomic.Uint64
}

// NewAutoincrement returns a fresh autoincrement generator starting at 1.
func NewAutoincrement() Generator { return &autoincrement{} }

func (a *autoincrement) Next() index.Key {
	return index.Uint64Key(a.counter.Add(1))
}

func (a *autoincrement) State() []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], a.counter.Load())
	return buf[:]
}

func (a *autoincrement) Restore(state []byte) {
	if len(state) < 8 {
		return
	}
	restored := binary.LittleEndian.Uint64(state)
	for {
		cur := a.counter.Load()
		if restored <= cur {
			return
		}
		if a.counter.CompareAndSwap(cur, restored) {
			return
		}
	}
}

func (a *autoincrement) Observe(k index.Key) {
	u, ok := k.(index.Uint64Key)
	if !ok {
		return
	}
	for {
		cur := a.counter.Load()
		if uint64(u) <= cur {
			return
		}
		if a.counter.CompareAndSwap(cur, uint64(u)) {
			return
		}
	}
}

// custom wraps a user-supplied function as a Generator. State/Restore
// are no-ops: a custom generator is expected to derive its next value
// from data already visible through Observe, or from caller-side state
// outside this package.
type custom struct {
	fn func() index.Key
}

// NewCustom wraps fn as a Generator.
func NewCustom(fn func() index.Key) Generator { return &custom{fn: fn} }

func (c *custom) Next() index.Key   { return c.fn() }
func (c *custom) State() []byte     { return nil }
func (c *custom) Restore([]byte)    {}
func (c *custom) Observe(index.Key) {}
