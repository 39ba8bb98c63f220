package space

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/wt-db/wt/index"
	"github.com/wt-db/wt/page"
)

// IndexEntry is one (key, link) pair stored in an index page.
type IndexEntry struct {
	Key  index.Key
	Link page.Link
}

// idxNode is the in-memory image of one on-disk index page: a sorted
// run of entries plus the page id it flushes to.
type idxNode struct {
	pageID  page.ID
	entries []IndexEntry
	bytes   int // encoded size of entries, excluding the page header
}

// SpaceIndex materializes one index's CDC stream as the on-disk index
// file format: a table-of-contents page (page 0, chained via the
// header's NextID when it overflows) holding sorted
// (first_key_of_node, page_id) entries plus the next-available page-id
// counter, followed by index pages in allocation order.
//
// Events are applied by content, not by the node/position hints they
// carry: operations for disjoint rows may reach the persistence queue
// out of event-id order (each producer draws its ids inside the tree's
// lock but enqueues after releasing it), and only same-key order: which
// the per-row lock already guarantees: affects what the file ends up
// holding. InsertAt adds the (key, link) pair wherever this file's own
// node layout puts it, RemoveAt removes the exact pair, and the node
// create/split/drop events are satisfied implicitly by the applier
// maintaining its own node boundaries against the page capacity.
// Replaying any event twice is a no-op: an InsertAt for a pair already
// present and a RemoveAt for a pair already gone both leave the file
// unchanged.
//
// All methods are guarded by the owning Space's mutex.
type SpaceIndex struct {
	name        string
	pageSize    int
	nodes       []*idxNode // in TOC (ascending first-key) order
	nextPageID  page.ID    // next never-used page id; page 0 is the TOC head
	lastApplied index.ID   // high-water mark, diagnostics only
	unsized     bool       // variable-width keys (strings, bytes, composites)
}

// Index page body layout, after the GeneralHeader:
//
//	[0:4] entry count (uint32 LE)
//	...   entries: tagged key encoding (index.MarshalKey) + 12-byte link
//
// TOC page body layout, after the GeneralHeader:
//
//	[0:4] entry count on this page (uint32 LE)
//	[4:8] next-available page id (uint32 LE, head page only)
//	...   entries: tagged first-key encoding + 4-byte page id
const idxBodyReserved = 4

func newSpaceIndex(name string, pageSize int) *SpaceIndex {
	return &SpaceIndex{name: name, pageSize: pageSize, nextPageID: 1}
}

// Name returns the declared index name this file serves.
func (si *SpaceIndex) Name() string { return si.name }

// LastApplied returns the highest event id seen so far.
func (si *SpaceIndex) LastApplied() index.ID { return si.lastApplied }

// entryCapacity is the byte budget for entries in one index page.
func (si *SpaceIndex) entryCapacity() int {
	return si.pageSize - page.HeaderSize - idxBodyReserved
}

func entrySize(e IndexEntry) int {
	return len(index.MarshalKey(nil, e.Key)) + page.LinkSize
}

func variableWidth(k index.Key) bool {
	switch k.(type) {
	case index.StringKey, index.BytesKey, index.Composite:
		return true
	}
	return false
}

func (si *SpaceIndex) allocPageID() page.ID {
	id := si.nextPageID
	si.nextPageID++
	return id
}

// ProcessChangeEvent applies one CDC event to the file image.
func (si *SpaceIndex) ProcessChangeEvent(ev index.ChangeEvent) error {
	if ev.ID > si.lastApplied {
		si.lastApplied = ev.ID
	}
	switch ev.Kind {
	case index.EventInsertAt:
		if ev.Key == nil {
			return errors.Errorf("space: %s: InsertAt event %d carries no key", si.name, ev.ID)
		}
		if variableWidth(ev.Key) {
			si.unsized = true
		}
		si.insertPair(IndexEntry{Key: ev.Key, Link: ev.Link})
	case index.EventRemoveAt:
		if ev.Key == nil {
			return errors.Errorf("space: %s: RemoveAt event %d carries no key", si.name, ev.ID)
		}
		si.removePair(ev.Key, ev.Link)
	case index.EventCreateNode, index.EventSplitNode, index.EventUpdateMax, index.EventRemoveNode:
		// Node boundaries are maintained against this file's own page
		// capacity as pairs come and go; the tree's structural events
		// carry no content the pair stream doesn't.
	default:
		return errors.Errorf("space: %s: unknown event kind %d", si.name, ev.Kind)
	}
	return nil
}

// locate returns the position of the node that should hold key: the last
// node whose first key orders <= key, clamped to 0.
func (si *SpaceIndex) locate(key index.Key) int {
	lo, hi := 0, len(si.nodes)
	for lo < hi {
		mid := (lo + hi) / 2
		if si.nodes[mid].entries[0].Key.Compare(key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	return lo - 1
}

func (si *SpaceIndex) insertPair(e IndexEntry) {
	sz := entrySize(e)
	if len(si.nodes) == 0 {
		si.nodes = append(si.nodes, &idxNode{
			pageID:  si.allocPageID(),
			entries: []IndexEntry{e},
			bytes:   sz,
		})
		return
	}
	// Replay idempotence: an exact duplicate pair anywhere (a run of
	// equal keys may span nodes) makes this a no-op.
	for ni := si.firstNodeFor(e.Key); ni < len(si.nodes); ni++ {
		done := false
		for _, ex := range si.nodes[ni].entries {
			c := ex.Key.Compare(e.Key)
			if c > 0 {
				done = true
				break
			}
			if c == 0 && ex.Link == e.Link {
				return
			}
		}
		if done {
			break
		}
	}

	ni := si.locate(e.Key)
	n := si.nodes[ni]

	// Insert after any equal keys in this node.
	pos := len(n.entries)
	for i, ex := range n.entries {
		if ex.Key.Compare(e.Key) > 0 {
			pos = i
			break
		}
	}
	n.entries = append(n.entries, IndexEntry{})
	copy(n.entries[pos+1:], n.entries[pos:])
	n.entries[pos] = e
	n.bytes += sz

	if n.bytes > si.entryCapacity() {
		si.splitNode(ni)
	}
}

// splitNode moves the upper half of nodes[ni] onto a freshly allocated
// page, keeping TOC order.
func (si *SpaceIndex) splitNode(ni int) {
	n := si.nodes[ni]
	mid := len(n.entries) / 2
	if mid == 0 || mid == len(n.entries) {
		return // single oversized entry; nothing to move
	}
	right := &idxNode{
		pageID:  si.allocPageID(),
		entries: append([]IndexEntry{}, n.entries[mid:]...),
	}
	for _, e := range right.entries {
		right.bytes += entrySize(e)
	}
	n.entries = n.entries[:mid:mid]
	n.bytes -= right.bytes

	si.nodes = append(si.nodes, nil)
	copy(si.nodes[ni+2:], si.nodes[ni+1:])
	si.nodes[ni+1] = right
}

// firstNodeFor returns the lowest node position that can hold key. A
// run of duplicate keys may span a node boundary, leaving a later node
// whose first key equals key: walk back over those so no pair is
// missed.
func (si *SpaceIndex) firstNodeFor(key index.Key) int {
	ni := si.locate(key)
	for ni > 0 && si.nodes[ni].entries[0].Key.Compare(key) == 0 {
		ni--
	}
	return ni
}

func (si *SpaceIndex) removePair(key index.Key, link page.Link) {
	if len(si.nodes) == 0 {
		return
	}
	for ni := si.firstNodeFor(key); ni < len(si.nodes); ni++ {
		n := si.nodes[ni]
		for i, ex := range n.entries {
			c := ex.Key.Compare(key)
			if c > 0 {
				return
			}
			if c == 0 && (link.Zero() || ex.Link == link) {
				n.bytes -= entrySize(ex)
				n.entries = append(n.entries[:i], n.entries[i+1:]...)
				if len(n.entries) == 0 {
					si.nodes = append(si.nodes[:ni], si.nodes[ni+1:]...)
				}
				return
			}
		}
	}
}

// Entries flattens every stored (key, link) pair in ascending key order,
// used to rebuild an in-memory index on open.
func (si *SpaceIndex) Entries() []IndexEntry {
	var out []IndexEntry
	for _, n := range si.nodes {
		out = append(out, n.entries...)
	}
	return out
}

// Len returns the number of stored pairs.
func (si *SpaceIndex) Len() int {
	total := 0
	for _, n := range si.nodes {
		total += len(n.entries)
	}
	return total
}

// Lookup returns every link stored for key, in storage order.
func (si *SpaceIndex) Lookup(key index.Key) []page.Link {
	if len(si.nodes) == 0 {
		return nil
	}
	var out []page.Link
	for ni := si.firstNodeFor(key); ni < len(si.nodes); ni++ {
		for _, e := range si.nodes[ni].entries {
			c := e.Key.Compare(key)
			if c > 0 {
				return out
			}
			if c == 0 {
				out = append(out, e.Link)
			}
		}
	}
	return out
}

func (si *SpaceIndex) pageType() page.Type {
	if si.unsized {
		return page.TypeIndexUnsized
	}
	return page.TypeIndex
}

// Flush writes the TOC chain and every index page through fs.
func (si *SpaceIndex) Flush(fs *FileSet, spaceID uint32) error {
	// Serialize TOC entries first so chaining can allocate continuation
	// pages before anything is written.
	type tocEnc struct {
		key    []byte
		pageID page.ID
	}
	encs := make([]tocEnc, len(si.nodes))
	for i, n := range si.nodes {
		encs[i] = tocEnc{key: index.MarshalKey(nil, n.entries[0].Key), pageID: n.pageID}
	}

	capacity := si.pageSize - page.HeaderSize - 8
	var tocPages [][]tocEnc
	cur := []tocEnc{}
	used := 0
	for _, e := range encs {
		sz := len(e.key) + 4
		if used+sz > capacity && len(cur) > 0 {
			tocPages = append(tocPages, cur)
			cur, used = nil, 0
		}
		cur = append(cur, e)
		used += sz
	}
	tocPages = append(tocPages, cur)

	chainIDs := make([]page.ID, len(tocPages))
	chainIDs[0] = 0
	for i := 1; i < len(tocPages); i++ {
		chainIDs[i] = si.allocPageID()
	}

	for i, entries := range tocPages {
		h := page.GeneralHeader{Type: page.TypeIndex, PageID: chainIDs[i], SpaceID: spaceID}
		if i+1 < len(tocPages) {
			h.NextID = chainIDs[i+1]
		}
		buf := page.New(si.pageSize, &h)
		off := page.HeaderSize
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(entries)))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(si.nextPageID))
		off += 8
		for _, e := range entries {
			off += copy(buf[off:], e.key)
			binary.LittleEndian.PutUint32(buf[off:], uint32(e.pageID))
			off += 4
		}
		page.SetCRC(buf)
		if err := fs.WriteIndexPage(si.name, chainIDs[i], buf); err != nil {
			return err
		}
	}

	for _, n := range si.nodes {
		h := page.GeneralHeader{Type: si.pageType(), PageID: n.pageID, SpaceID: spaceID}
		buf := page.New(si.pageSize, &h)
		off := page.HeaderSize
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(n.entries)))
		off += idxBodyReserved
		for _, e := range n.entries {
			off += copy(buf[off:], index.MarshalKey(nil, e.Key))
			page.MarshalLink(e.Link, buf[off:])
			off += page.LinkSize
		}
		page.SetCRC(buf)
		if err := fs.WriteIndexPage(si.name, n.pageID, buf); err != nil {
			return err
		}
	}
	return nil
}

// Load rebuilds the in-memory image from fs, following the TOC chain.
// A missing or empty file leaves si fresh.
func (si *SpaceIndex) Load(fs *FileSet) error {
	empty, err := fs.IndexFileEmpty(si.name)
	if err != nil {
		return err
	}
	if empty {
		return nil
	}

	type tocDec struct {
		pageID page.ID
	}
	var entries []tocDec
	id := page.ID(0)
	first := true
	for {
		buf, err := fs.ReadIndexPage(si.name, id)
		if err != nil {
			return errors.Wrapf(err, "space: %s: read TOC page %d", si.name, id)
		}
		if !page.VerifyCRC(buf) {
			return errors.Errorf("space: %s: TOC page %d CRC mismatch", si.name, id)
		}
		h := page.Unmarshal(buf)
		off := page.HeaderSize
		cnt := int(binary.LittleEndian.Uint32(buf[off:]))
		if first {
			si.nextPageID = page.ID(binary.LittleEndian.Uint32(buf[off+4:]))
			first = false
		}
		off += 8
		for i := 0; i < cnt; i++ {
			_, n, err := index.UnmarshalKey(buf[off:])
			if err != nil {
				return errors.Wrapf(err, "space: %s: TOC entry %d", si.name, i)
			}
			off += n
			entries = append(entries, tocDec{pageID: page.ID(binary.LittleEndian.Uint32(buf[off:]))})
			off += 4
		}
		if h.NextID == 0 {
			break
		}
		id = h.NextID
	}

	for _, te := range entries {
		buf, err := fs.ReadIndexPage(si.name, te.pageID)
		if err != nil {
			return errors.Wrapf(err, "space: %s: read index page %d", si.name, te.pageID)
		}
		if !page.VerifyCRC(buf) {
			return errors.Errorf("space: %s: index page %d CRC mismatch", si.name, te.pageID)
		}
		h := page.Unmarshal(buf)
		if h.Type == page.TypeIndexUnsized {
			si.unsized = true
		}
		n := &idxNode{pageID: te.pageID}
		off := page.HeaderSize
		cnt := int(binary.LittleEndian.Uint32(buf[off:]))
		off += idxBodyReserved
		for i := 0; i < cnt; i++ {
			k, kn, err := index.UnmarshalKey(buf[off:])
			if err != nil {
				return errors.Wrapf(err, "space: %s: page %d entry %d", si.name, te.pageID, i)
			}
			off += kn
			l := page.UnmarshalLink(buf[off:])
			off += page.LinkSize
			e := IndexEntry{Key: k, Link: l}
			n.entries = append(n.entries, e)
			n.bytes += entrySize(e)
		}
		if len(n.entries) > 0 {
			si.nodes = append(si.nodes, n)
		}
	}
	return nil
}
