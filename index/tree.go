package index

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// entry is one key/link pair stored in a leaf node. disc is always 0 for
// a Unique tree (duplicates are rejected before reaching the tree); for a
// MultiMap tree it is the random tiebreaker discriminator that gives
// duplicate keys distinct total-order positions.
type entry struct {
	key  Key
	disc uint64
	link Link
}

func less(a, b entry) bool {
	if c := a.key.Compare(b.key); c != 0 {
		return c < 0
	}
	return a.disc < b.disc
}

// leafNode is one node of the index. There are no internal routing nodes:
// location is done through the Tree's in-memory table of contents (a
// sorted list of (first_key_on_node, node_id) entries), which keeps the
// physical model small while still producing a CDC event stream that
// names real node ids.
type leafNode struct {
	id      NodeID
	entries []entry
	next    NodeID
	prev    NodeID
}

type tocEntry struct {
	firstKey Key
	node     NodeID
}

// Tree is the shared engine behind Unique and MultiMap. It is
// safe for concurrent readers; writers serialize on mu (callers typically
// already hold a per-row lock from package rowlock before reaching here,
// but Tree enforces its own safety regardless).
type Tree struct {
	mu         sync.RWMutex
	toc        []tocEntry
	nodes      map[NodeID]*leafNode
	nextNode   atomic.Uint64
	nextEvent  atomic.Uint64
	maxEntries int
	unique     bool
}

// NewTree constructs an empty tree. maxEntries bounds how many entries a
// node holds before it splits: the in-memory analogue of a page's
// capacity for this key/value size. unique selects Unique vs MultiMap
// duplicate-key behaviour.
func NewTree(maxEntries int, unique bool) *Tree {
	if maxEntries < 4 {
		maxEntries = 4
	}
	return &Tree{
		nodes:      make(map[NodeID]*leafNode),
		maxEntries: maxEntries,
		unique:     unique,
	}
}

func (t *Tree) allocNodeID() NodeID { return NodeID(t.nextNode.Add(1)) }
func (t *Tree) allocEventID() ID    { return ID(t.nextEvent.Add(1)) }

// locate returns the index into t.toc of the node that should hold key,
// and the node pointer. Caller must hold t.mu.
func (t *Tree) locate(key Key) (int, *leafNode) {
	if len(t.toc) == 0 {
		return -1, nil
	}
	lo, hi := 0, len(t.toc)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.toc[mid].firstKey.Compare(key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	idx := lo - 1
	if idx < 0 {
		idx = 0
	}
	return idx, t.nodes[t.toc[idx].node]
}

// firstLocate is locate adjusted for duplicate runs: a run of equal
// non-unique keys can span a node split, leaving earlier nodes whose
// tail still holds key while a later node's first key equals it.
// locate resolves to the rightmost such node; walk back over every node
// whose first key equals key so no duplicate is missed. Caller must
// hold t.mu.
func (t *Tree) firstLocate(key Key) (int, *leafNode) {
	idx, n := t.locate(key)
	if n == nil {
		return idx, n
	}
	for idx > 0 && t.toc[idx].firstKey.Compare(key) == 0 {
		idx--
	}
	return idx, t.nodes[t.toc[idx].node]
}

func (t *Tree) searchInNode(n *leafNode, e entry) (pos int, found bool) {
	lo, hi := 0, len(n.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if less(n.entries[mid], e) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(n.entries) && n.entries[lo].key.Compare(e.key) == 0 {
		if t.unique || n.entries[lo].disc == e.disc {
			return lo, true
		}
	}
	return lo, false
}

// insert is the shared mutation path for both variants. For unique trees
// e.disc is always 0 and a pre-existing key is reported via existed=true
// without emitting any events (the caller treats this as a constraint
// violation and never mutates). For multi trees e.disc must already be a
// fresh discriminator; duplicate (key,disc) pairs cannot happen by
// construction so existed is always false.
func (t *Tree) insert(e entry) (events []ChangeEvent, existed bool, existingLink Link) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.toc) == 0 {
		id := t.allocNodeID()
		n := &leafNode{id: id}
		t.nodes[id] = n
		t.toc = append(t.toc, tocEntry{firstKey: e.key, node: id})
		events = append(events, ChangeEvent{ID: t.allocEventID(), Kind: EventCreateNode, Node: id, Key: e.key})
		pos, _ := t.searchInNode(n, e)
		t.insertAt(n, pos, e)
		events = append(events, ChangeEvent{ID: t.allocEventID(), Kind: EventInsertAt, Node: id, Pos: pos, Key: e.key, Link: e.link})
		return events, false, Link{}
	}

	tocIdx, n := t.locate(e.key)
	pos, found := t.searchInNode(n, e)
	if found && t.unique {
		return nil, true, n.entries[pos].link
	}

	if len(n.entries) < t.maxEntries {
		updatesMax := pos == 0 && len(n.entries) > 0 && e.key.Compare(n.entries[0].key) < 0
		t.insertAt(n, pos, e)
		events = append(events, ChangeEvent{ID: t.allocEventID(), Kind: EventInsertAt, Node: n.id, Pos: pos, Key: e.key, Link: e.link})
		if updatesMax {
			t.toc[tocIdx].firstKey = n.entries[0].key
			events = append(events, ChangeEvent{ID: t.allocEventID(), Kind: EventUpdateMax, Node: n.id, Key: n.entries[0].key})
		}
		return events, false, Link{}
	}

	// Overflow: split node, then insert into whichever half now owns the key.
	splitEvents, rightID := t.splitNode(tocIdx, n)
	events = append(events, splitEvents...)

	tocIdx, n = t.locate(e.key)
	pos, _ = t.searchInNode(n, e)
	t.insertAt(n, pos, e)
	events = append(events, ChangeEvent{ID: t.allocEventID(), Kind: EventInsertAt, Node: n.id, Pos: pos, Key: e.key, Link: e.link, New: rightID})
	return events, false, Link{}
}

func (t *Tree) insertAt(n *leafNode, pos int, e entry) {
	n.entries = append(n.entries, entry{})
	copy(n.entries[pos+1:], n.entries[pos:])
	n.entries[pos] = e
}

// splitNode splits node at t.toc[tocIdx] in half, linking a new right
// sibling, and returns (SplitNode event, new node id). Caller holds mu.
func (t *Tree) splitNode(tocIdx int, n *leafNode) ([]ChangeEvent, NodeID) {
	mid := len(n.entries) / 2
	rightID := t.allocNodeID()
	right := &leafNode{id: rightID, entries: append([]entry{}, n.entries[mid:]...), next: n.next, prev: n.id}
	n.entries = n.entries[:mid:mid]
	if right.next != 0 {
		if nxt, ok := t.nodes[right.next]; ok {
			nxt.prev = rightID
		}
	}
	n.next = rightID
	t.nodes[rightID] = right

	pivot := right.entries[0].key
	ev := ChangeEvent{ID: t.allocEventID(), Kind: EventSplitNode, Node: n.id, New: rightID, Key: pivot}

	// Insert the new TOC entry right after the split node's own entry.
	newEntry := tocEntry{firstKey: pivot, node: rightID}
	t.toc = append(t.toc, tocEntry{})
	copy(t.toc[tocIdx+2:], t.toc[tocIdx+1:])
	t.toc[tocIdx+1] = newEntry

	return []ChangeEvent{ev}, rightID
}

// remove deletes the entry matching key (and disc for multi trees). The
// matching entry may live in any node of a duplicate run, so the scan
// starts at firstLocate's node and walks forward until it passes key.
func (t *Tree) remove(key Key, disc uint64, matchDisc bool) (events []ChangeEvent, link Link, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.toc) == 0 {
		return nil, Link{}, false
	}
	tocIdx, n := t.firstLocate(key)
	for {
		pos := -1
		for i, e := range n.entries {
			c := e.key.Compare(key)
			if c > 0 {
				return nil, Link{}, false
			}
			if c == 0 && (!matchDisc || e.disc == disc) {
				pos = i
				break
			}
		}
		if pos >= 0 {
			link = n.entries[pos].link
			n.entries = append(n.entries[:pos], n.entries[pos+1:]...)
			events = append(events, ChangeEvent{ID: t.allocEventID(), Kind: EventRemoveAt, Node: n.id, Pos: pos, Key: key, Link: link})

			if len(n.entries) == 0 && len(t.toc) > 1 {
				if n.prev != 0 {
					if p, ok := t.nodes[n.prev]; ok {
						p.next = n.next
					}
				}
				if n.next != 0 {
					if nx, ok := t.nodes[n.next]; ok {
						nx.prev = n.prev
					}
				}
				delete(t.nodes, n.id)
				t.toc = append(t.toc[:tocIdx], t.toc[tocIdx+1:]...)
				events = append(events, ChangeEvent{ID: t.allocEventID(), Kind: EventRemoveNode, Node: n.id})
			} else if pos == 0 && len(n.entries) > 0 {
				t.toc[tocIdx].firstKey = n.entries[0].key
				events = append(events, ChangeEvent{ID: t.allocEventID(), Kind: EventUpdateMax, Node: n.id, Key: n.entries[0].key})
			}
			return events, link, true
		}
		if tocIdx+1 >= len(t.toc) {
			return nil, Link{}, false
		}
		tocIdx++
		n = t.nodes[t.toc[tocIdx].node]
	}
}

// get returns all entries at key in ascending (key, disc) order,
// starting at firstLocate's node so a duplicate run spanning a split is
// collected whole.
func (t *Tree) get(key Key) []entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.toc) == 0 {
		return nil
	}
	_, n := t.firstLocate(key)
	var out []entry
	for n != nil {
		matched := false
		for _, e := range n.entries {
			if e.key.Compare(key) == 0 {
				out = append(out, e)
				matched = true
			} else if e.key.Compare(key) > 0 {
				return out
			}
		}
		if !matched && len(out) > 0 {
			return out
		}
		if n.next == 0 {
			break
		}
		n = t.nodes[n.next]
	}
	return out
}

// maxDiscFor returns 1+the largest discriminator currently stored for
// key, or 0 if key is absent: the floor a fresh discriminator must
// clear so ordering among duplicates is preserved.
func (t *Tree) maxDiscFor(key Key) uint64 {
	var floor uint64
	for _, e := range t.get(key) {
		if e.disc+1 > floor {
			floor = e.disc + 1
		}
	}
	return floor
}

// rangeScan walks entries with start <= key <= end (either bound nil for
// open-ended) in ascending order, calling fn for each. Stops early if fn
// returns false.
func (t *Tree) rangeScan(start, end Key, fn func(k Key, disc uint64, l Link) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.toc) == 0 {
		return
	}
	var n *leafNode
	if start != nil {
		_, n = t.firstLocate(start)
	} else {
		n = t.nodes[t.toc[0].node]
	}
	for n != nil {
		for _, e := range n.entries {
			if start != nil && e.key.Compare(start) < 0 {
				continue
			}
			if end != nil && e.key.Compare(end) > 0 {
				return
			}
			if !fn(e.key, e.disc, e.link) {
				return
			}
		}
		if n.next == 0 {
			return
		}
		n = t.nodes[n.next]
	}
}

// Len returns the total number of entries across all nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, nd := range t.nodes {
		n += len(nd.entries)
	}
	return n
}

// NodeCount returns how many physical nodes currently exist.
func (t *Tree) NodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

var entrySize = int64(unsafe.Sizeof(entry{}))

// HeapSize and UsedSize: every node contributes capacity-sized (heap)
// or length-sized (used) entry slots, plus each stored key's own
// accounting. A Link is a zero-cost value already counted in the slot
// size.
func (t *Tree) HeapSize() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total int64
	for _, n := range t.nodes {
		total += int64(cap(n.entries)) * entrySize
		for _, e := range n.entries {
			total += e.key.HeapSize() + e.link.HeapSize()
		}
	}
	return total
}

func (t *Tree) UsedSize() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total int64
	for _, n := range t.nodes {
		total += int64(len(n.entries)) * entrySize
		for _, e := range n.entries {
			total += e.key.UsedSize() + e.link.UsedSize()
		}
	}
	return total
}
