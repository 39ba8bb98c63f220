package index

import (
	"sort"

	"github.com/wt-db/wt/page"
)

// Link is the page-level byte-range reference an index entry points at.
type Link = page.Link

// EventKind enumerates the physical mutations a tree can emit, in the
// application order a receiver must replay them.
type EventKind uint8

const (
	EventCreateNode EventKind = iota
	EventInsertAt
	EventSplitNode
	EventUpdateMax
	EventRemoveNode
	EventRemoveAt
)

func (k EventKind) String() string {
	switch k {
	case EventCreateNode:
		return "CreateNode"
	case EventInsertAt:
		return "InsertAt"
	case EventSplitNode:
		return "SplitNode"
	case EventUpdateMax:
		return "UpdateMax"
	case EventRemoveNode:
		return "RemoveNode"
	case EventRemoveAt:
		return "RemoveAt"
	default:
		return "Unknown"
	}
}

// ID is a per-index monotonically increasing event identifier.
type ID uint64

// IsNextFor reports whether id immediately succeeds prev in this index's
// event stream, i.e. id == prev+1. A persistence-side validator walks
// backward through a pending batch using this relation to find gaps left
// by concurrent producers.
func (id ID) IsNextFor(prev ID) bool { return id == prev+1 }

// NodeID identifies one in-memory tree node. For a persistent index a
// node maps to exactly one on-disk index page, so no extra indirection
// table is needed.
type NodeID uint64

// ChangeEvent describes one atomic mutation of the index's physical
// structure, totally ordered by ID within a single index instance.
type ChangeEvent struct {
	ID     ID
	Kind   EventKind
	Node   NodeID
	Pos    int    // slot position for InsertAt/RemoveAt
	Key    Key    // affected key, when applicable
	Link   Link   // affected entry payload, when applicable
	New    NodeID // new node id, set on SplitNode and on an InsertAt that follows a split; CreateNode carries its id in Node
	Parent NodeID // parent node; Tree never sets it
}

// SortDescending sorts events by descending ID, the order Validate
// returns dropped events in.
func SortDescending(evs []ChangeEvent) {
	sort.Slice(evs, func(i, j int) bool { return evs[i].ID > evs[j].ID })
}

// SortAscending sorts events by ascending ID. Replay expects ascending
// order, so a caller persisting a batch recovered from Validate's
// dropped tail must re-sort it with this before applying.
func SortAscending(evs []ChangeEvent) {
	sort.Slice(evs, func(i, j int) bool { return evs[i].ID < evs[j].ID })
}

// MaxCheckDepth bounds how far Validate walks backward through a
// pending batch looking for a discontinuity.
const MaxCheckDepth = 30

// Validate scans the tail of pending in reverse using IsNextFor, up to
// MaxCheckDepth steps. If a discontinuity is found before the depth is
// exhausted, the events from the break to the tail are removed from
// pending (and from the returned slice) and returned separately, sorted
// by descending ID. The in-memory index remains authoritative regardless
// of what gets dropped here: durability simply defers to a later,
// consistent frontier.
func Validate(pending []ChangeEvent) (kept []ChangeEvent, removed []ChangeEvent) {
	if len(pending) < 2 {
		return pending, nil
	}
	breakAt := -1
	depth := 0
	for i := len(pending) - 1; i > 0 && depth < MaxCheckDepth; i, depth = i-1, depth+1 {
		if !pending[i].ID.IsNextFor(pending[i-1].ID) {
			breakAt = i
			break
		}
	}
	if breakAt < 0 {
		return pending, nil
	}
	removed = append(removed, pending[breakAt:]...)
	SortDescending(removed)
	return pending[:breakAt], removed
}
