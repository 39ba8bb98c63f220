package index

// Unique is a sorted concurrent map K -> Link with uniqueness enforced.
// The primary index is always a Unique; a secondary index is Unique
// when its schema declares it so.
type Unique struct {
	tree *Tree
}

// NewUnique constructs an empty unique index. maxEntries bounds node
// fanout before a split (see NewTree).
func NewUnique(maxEntries int) *Unique {
	return &Unique{tree: NewTree(maxEntries, true)}
}

// Get returns the live link for k, if any.
func (u *Unique) Get(k Key) (Link, bool) {
	es := u.tree.get(k)
	if len(es) == 0 {
		return Link{}, false
	}
	return es[0].link, true
}

// Insert adds k->link. If k already exists, returns (prevLink, true) and
// performs no mutation: the caller treats this as a constraint
// violation and rolls back whatever else it already did.
func (u *Unique) Insert(k Key, link Link) (prev Link, existed bool) {
	_, existed, prev = u.tree.insert(entry{key: k, link: link})
	return prev, existed
}

// InsertCDC is Insert plus the ordered ChangeEvent stream describing the
// physical mutation, for persistence.
func (u *Unique) InsertCDC(k Key, link Link) (events []ChangeEvent, prev Link, existed bool) {
	events, existed, prev = u.tree.insert(entry{key: k, link: link})
	return events, prev, existed
}

// Remove deletes k, returning the link it pointed at if present.
func (u *Unique) Remove(k Key) (Link, bool) {
	_, link, found := u.tree.remove(k, 0, false)
	return link, found
}

// RemoveCDC is Remove plus the ChangeEvent stream.
func (u *Unique) RemoveCDC(k Key) (events []ChangeEvent, link Link, found bool) {
	return u.tree.remove(k, 0, false)
}

// Range calls fn for every key in [start,end] (either bound nil for
// open-ended) in ascending order. The tree's read lock is held for the
// whole scan and fn runs under it, so writers wait until Range returns;
// nodes are not snapshotted.
func (u *Unique) Range(start, end Key, fn func(k Key, l Link) bool) {
	u.tree.rangeScan(start, end, func(k Key, _ uint64, l Link) bool { return fn(k, l) })
}

// Iter calls fn for every entry in ascending key order.
func (u *Unique) Iter(fn func(k Key, l Link) bool) { u.Range(nil, nil, fn) }

// Len returns the number of keys stored.
func (u *Unique) Len() int { return u.tree.Len() }

// NodeCount returns the number of physical nodes.
func (u *Unique) NodeCount() int { return u.tree.NodeCount() }

// HeapSize and UsedSize report this index's memory footprint.
func (u *Unique) HeapSize() int64 { return u.tree.HeapSize() }
func (u *Unique) UsedSize() int64 { return u.tree.UsedSize() }
