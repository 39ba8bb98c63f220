package page

import (
	"encoding/binary"

	"github.com/wt-db/wt/wterrors"
)

// ───────────────────────────────────────────────────────────────────────────
// Data page (slotted heap)
// ───────────────────────────────────────────────────────────────────────────
//
// Layout, following GeneralHeader:
//
//	[0:4]  WriteCursor (uint32 LE): append offset, grows upward from here
//	[4:8]  FreeCount   (uint32 LE): number of entries in the free-list
//	... row bytes, appended at WriteCursor, growing toward the page end ...
//	... free-list entries (Link each), growing down from the page end ...
//
// Row bytes and the free-list grow toward each other; Allocate and Ghost
// both refuse to let the two regions collide. A slot is addressed purely
// by its Link; there is no slot directory. The primary index and the
// free-list are the only things that remember a Link exists. A slot is
// "ghosted" by appending its Link to the free-list: the bytes remain
// readable until a future Allocate reuses that exact-sized range.

const (
	dpCursorOff    = HeaderSize
	dpFreeCountOff = dpCursorOff + 4
	dpDataStart    = dpFreeCountOff + 4
)

// DataPage wraps a page buffer as an append-mostly slotted heap.
type DataPage struct {
	buf       []byte
	innerSize int
}

// WrapDataPage wraps an existing data-page buffer.
func WrapDataPage(buf []byte) *DataPage {
	return &DataPage{buf: buf, innerSize: InnerSize(len(buf))}
}

// InitDataPage initialises buf as an empty data page.
func InitDataPage(buf []byte, id ID, spaceID uint32) *DataPage {
	h := &GeneralHeader{Type: TypeData, PageID: id, SpaceID: spaceID}
	Marshal(h, buf)
	dp := &DataPage{buf: buf, innerSize: InnerSize(len(buf))}
	dp.setCursor(dpDataStart)
	dp.setFreeCount(0)
	return dp
}

func (dp *DataPage) cursor() uint32 { return binary.LittleEndian.Uint32(dp.buf[dpCursorOff:]) }
func (dp *DataPage) setCursor(v int) {
	binary.LittleEndian.PutUint32(dp.buf[dpCursorOff:], uint32(v))
}

func (dp *DataPage) freeCount() int {
	return int(binary.LittleEndian.Uint32(dp.buf[dpFreeCountOff:]))
}
func (dp *DataPage) setFreeCount(n int) {
	binary.LittleEndian.PutUint32(dp.buf[dpFreeCountOff:], uint32(n))
}

// freeEntryOff returns the byte offset of free-list entry i, counting
// down from the end of the page.
func (dp *DataPage) freeEntryOff(i int) int { return len(dp.buf) - (i+1)*LinkSize }

func (dp *DataPage) freeEntry(i int) Link {
	return UnmarshalLink(dp.buf[dp.freeEntryOff(i):])
}
func (dp *DataPage) setFreeEntry(i int, l Link) {
	MarshalLink(l, dp.buf[dp.freeEntryOff(i):])
}

// freeListStart is the lowest byte offset the free-list currently
// occupies; Allocate must never hand out a slot crossing it.
func (dp *DataPage) freeListStart() int { return len(dp.buf) - dp.freeCount()*LinkSize }

// FreeSpace returns the number of contiguous bytes available to Allocate
// at the write cursor (ignoring free-list reuse).
func (dp *DataPage) FreeSpace() int {
	return dp.freeListStart() - int(dp.cursor())
}

// Allocate reserves size bytes, preferring an exact-fit free-list entry,
// falling back to the write cursor. Fails with a PagesErrorFull when
// there is no room left between the cursor and the free-list.
func (dp *DataPage) Allocate(size int, pageID ID) (Link, error) {
	fc := dp.freeCount()
	for i := 0; i < fc; i++ {
		e := dp.freeEntry(i)
		if int(e.Length) == size {
			// Remove from the free-list by swapping with the last entry.
			last := dp.freeEntry(fc - 1)
			dp.setFreeEntry(i, last)
			dp.setFreeCount(fc - 1)
			return e, nil
		}
	}
	cur := int(dp.cursor())
	if dp.freeListStart()-cur < size {
		return Link{}, wterrors.NewPagesError(wterrors.PagesErrorFull, "data page exhausted", nil)
	}
	l := Link{PageID: pageID, Offset: uint32(cur), Length: uint32(size)}
	dp.setCursor(cur + size)
	return l, nil
}

// Write writes exactly link.Length bytes at link.Offset. Overwriting an
// existing slot is permitted (used by update when size is unchanged).
func (dp *DataPage) Write(link Link, data []byte) error {
	if err := dp.bounds(link); err != nil {
		return err
	}
	if uint32(len(data)) != link.Length {
		return wterrors.NewPagesError(wterrors.PagesErrorOutOfBounds, "write length mismatch", nil)
	}
	copy(dp.buf[link.Offset:link.Offset+link.Length], data)
	return nil
}

// Read returns a zero-copy borrow of the bytes at link.
func (dp *DataPage) Read(link Link) ([]byte, error) {
	if err := dp.bounds(link); err != nil {
		return nil, err
	}
	return dp.buf[link.Offset : link.Offset+link.Length], nil
}

// WithRef calls f with a zero-copy borrow of link's bytes.
func (dp *DataPage) WithRef(link Link, f func([]byte) error) error {
	b, err := dp.Read(link)
	if err != nil {
		return err
	}
	return f(b)
}

func (dp *DataPage) bounds(link Link) error {
	if link.Offset < uint32(dpDataStart) || int(link.Offset+link.Length) > len(dp.buf) {
		return wterrors.NewPagesError(wterrors.PagesErrorOutOfBounds, "link out of page bounds", nil)
	}
	return nil
}

// Ghost marks link's slot invisible to non-ghost-aware reads and pushes it
// onto the free-list for exact-fit reuse. Ghosted bytes stay intact until
// a future Allocate reuses the range.
func (dp *DataPage) Ghost(link Link) error {
	if err := dp.bounds(link); err != nil {
		return err
	}
	fc := dp.freeCount()
	if dp.freeEntryOff(fc) < int(dp.cursor()) {
		return wterrors.NewPagesError(wterrors.PagesErrorFull, "free-list full", nil)
	}
	dp.setFreeEntry(fc, link)
	dp.setFreeCount(fc + 1)
	return nil
}

// IsGhosted reports whether link currently sits in the free-list (i.e.
// has been ghosted and not yet reused).
func (dp *DataPage) IsGhosted(link Link) bool {
	fc := dp.freeCount()
	for i := 0; i < fc; i++ {
		e := dp.freeEntry(i)
		if e.PageID == link.PageID && e.Offset == link.Offset && e.Length == link.Length {
			return true
		}
	}
	return false
}

// FreeListLinks returns a copy of every link currently on this page's
// free-list, used to rebuild the space info page's empty-links list on
// checkpoint.
func (dp *DataPage) FreeListLinks() []Link {
	fc := dp.freeCount()
	out := make([]Link, fc)
	for i := 0; i < fc; i++ {
		out[i] = dp.freeEntry(i)
	}
	return out
}

// Select materializes the raw bytes at link regardless of ghost state.
func (dp *DataPage) Select(link Link) ([]byte, error) {
	b, err := dp.Read(link)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// SelectNonGhosted is like Select but fails if link is currently ghosted.
func (dp *DataPage) SelectNonGhosted(link Link) ([]byte, error) {
	if dp.IsGhosted(link) {
		return nil, wterrors.NewPagesError(wterrors.PagesErrorGhosted, "link is ghosted", wterrors.ErrGhosted)
	}
	return dp.Select(link)
}

// Bytes returns the underlying page buffer.
func (dp *DataPage) Bytes() []byte { return dp.buf }
