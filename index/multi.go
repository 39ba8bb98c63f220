package index

import (
	"math"
	"math/rand/v2"
)

// MultiMap is a non-unique sorted index K -> {Link}, ordered by a random
// discriminator tiebreaker so duplicate keys still get distinct total
// order positions.
type MultiMap struct {
	tree *Tree
}

// NewMultiMap constructs an empty multi index.
func NewMultiMap(maxEntries int) *MultiMap {
	return &MultiMap{tree: NewTree(maxEntries, false)}
}

// drawDiscriminator picks a fresh discriminator in [floor, MaxUint64)
// where floor is one past the largest discriminator already stored for
// k, preserving order among duplicates. Each draw lands at most 2^32
// past floor, so a long run of duplicates does not exhaust the range.
func (m *MultiMap) drawDiscriminator(k Key) uint64 {
	floor := m.tree.maxDiscFor(k)
	if floor >= math.MaxUint64-1 {
		return floor
	}
	span := math.MaxUint64 - 1 - floor
	if span > 1<<32 {
		span = 1 << 32
	}
	return floor + rand.Uint64N(span+1)
}

// Insert always succeeds, drawing a fresh discriminator.
func (m *MultiMap) Insert(k Key, link Link) {
	m.tree.insert(entry{key: k, disc: m.drawDiscriminator(k), link: link})
}

// InsertCDC is Insert plus the ordered ChangeEvent stream.
func (m *MultiMap) InsertCDC(k Key, link Link) []ChangeEvent {
	events, _, _ := m.tree.insert(entry{key: k, disc: m.drawDiscriminator(k), link: link})
	return events
}

// Get returns every link stored for k, in insertion-discriminator order.
func (m *MultiMap) Get(k Key) []Link {
	es := m.tree.get(k)
	out := make([]Link, len(es))
	for i, e := range es {
		out[i] = e.link
	}
	return out
}

// Remove deletes the exact (k, link) pair.
func (m *MultiMap) Remove(k Key, link Link) bool {
	for _, e := range m.tree.get(k) {
		if e.link == link {
			_, _, found := m.tree.remove(k, e.disc, true)
			return found
		}
	}
	return false
}

// RemoveCDC is Remove plus the ChangeEvent stream.
func (m *MultiMap) RemoveCDC(k Key, link Link) (events []ChangeEvent, found bool) {
	for _, e := range m.tree.get(k) {
		if e.link == link {
			events, _, found = m.tree.remove(k, e.disc, true)
			return events, found
		}
	}
	return nil, false
}

// Range calls fn for every (key, link) pair with start<=key<=end in
// ascending (key, discriminator) order.
func (m *MultiMap) Range(start, end Key, fn func(k Key, l Link) bool) {
	m.tree.rangeScan(start, end, func(k Key, _ uint64, l Link) bool { return fn(k, l) })
}

// Iter calls fn for every entry in ascending order.
func (m *MultiMap) Iter(fn func(k Key, l Link) bool) { m.Range(nil, nil, fn) }

// Len returns the total number of (key, link) pairs stored.
func (m *MultiMap) Len() int { return m.tree.Len() }

// NodeCount returns the number of physical nodes.
func (m *MultiMap) NodeCount() int { return m.tree.NodeCount() }

// HeapSize and UsedSize report this index's memory footprint.
func (m *MultiMap) HeapSize() int64 { return m.tree.HeapSize() }
func (m *MultiMap) UsedSize() int64 { return m.tree.UsedSize() }
