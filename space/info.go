// Package space implements the on-disk persistence layer: the space
// info page, the fixed-extension file set a persistent table keeps on
// disk, the TOC-fronted index files, an LRU page buffer pool, and
// recovery-on-open plus reachability-based reclamation.
package space

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/wt-db/wt/page"
	"github.com/wt-db/wt/wterrors"
)

// Magic identifies a valid space info page. A single sentinel word: the
// format only needs to reject garbage, not distinguish multiple
// historical file generations.
const spaceInfoMagic uint32 = 0x77745342 // "wtSB"

// CurrentFormatVersion is the on-disk format this build writes and the
// only one it will read.
const CurrentFormatVersion uint32 = 1

// Layout of the SpaceInfo page body, following the common GeneralHeader:
//
//	[0:4]   Magic
//	[4:8]   FormatVersion
//	[8:12]  ID            (space id)
//	[12:16] PageCount
//	[16:20] NameLen
//	[20:...] Name bytes
//	...     PKGenStateLen (4) + PKGenState bytes
//	...     EmptyLinksCount (4) + Link*12 bytes
//	...     FreePagesCount (4) + uint32 page ids
const (
	siMagicOff   = page.HeaderSize
	siVersionOff = siMagicOff + 4
	siIDOff      = siVersionOff + 4
	siPageCntOff = siIDOff + 4
	siNameLenOff = siPageCntOff + 4
	siVarOff     = siNameLenOff + 4
)

// Info is the parsed contents of a space's page 0: identity, the
// high-water page count, the primary-key generator's resumable state,
// the set of heap links currently ghosted across every data page, and
// the data page ids Reclaim has freed for reuse.
type Info struct {
	ID         uint32
	PageCount  uint32
	Name       string
	PKGenState []byte
	EmptyLinks []page.Link
	FreePages  []page.ID
}

// New builds a fresh Info for a brand new space.
func New(id uint32, name string) *Info {
	return &Info{ID: id, PageCount: 1, Name: name}
}

// Marshal serializes i into a full page buffer of pageSize bytes.
func Marshal(i *Info, pageSize int) []byte {
	buf := page.New(pageSize, &page.GeneralHeader{Type: page.TypeSpaceInfo, PageID: 0, SpaceID: i.ID})

	binary.LittleEndian.PutUint32(buf[siMagicOff:], spaceInfoMagic)
	binary.LittleEndian.PutUint32(buf[siVersionOff:], CurrentFormatVersion)
	binary.LittleEndian.PutUint32(buf[siIDOff:], i.ID)
	binary.LittleEndian.PutUint32(buf[siPageCntOff:], i.PageCount)

	off := siVarOff
	nameBytes := []byte(i.Name)
	binary.LittleEndian.PutUint32(buf[siNameLenOff:], uint32(len(nameBytes)))
	off += copy(buf[off:], nameBytes)

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(i.PKGenState)))
	off += 4
	off += copy(buf[off:], i.PKGenState)

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(i.EmptyLinks)))
	off += 4
	for _, l := range i.EmptyLinks {
		page.MarshalLink(l, buf[off:])
		off += page.LinkSize
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(i.FreePages)))
	off += 4
	for _, id := range i.FreePages {
		binary.LittleEndian.PutUint32(buf[off:], uint32(id))
		off += 4
	}

	page.SetCRC(buf)
	return buf
}

// Unmarshal decodes a SpaceInfo page, validating its CRC, magic, and
// format version.
func Unmarshal(buf []byte) (*Info, error) {
	if len(buf) < page.HeaderSize+20 {
		return nil, wterrors.NewPagesError(wterrors.PagesErrorOutOfBounds, "space info page too small", nil)
	}
	if !page.VerifyCRC(buf) {
		return nil, wterrors.NewPagesError(wterrors.PagesErrorCorrupt, "space info CRC mismatch", nil)
	}
	if binary.LittleEndian.Uint32(buf[siMagicOff:]) != spaceInfoMagic {
		return nil, wterrors.NewPagesError(wterrors.PagesErrorCorrupt, "bad space info magic", nil)
	}
	if v := binary.LittleEndian.Uint32(buf[siVersionOff:]); v != CurrentFormatVersion {
		return nil, errors.Errorf("space: unsupported format version %d", v)
	}

	i := &Info{
		ID:        binary.LittleEndian.Uint32(buf[siIDOff:]),
		PageCount: binary.LittleEndian.Uint32(buf[siPageCntOff:]),
	}
	off := siVarOff
	nameLen := int(binary.LittleEndian.Uint32(buf[siNameLenOff:]))
	i.Name = string(buf[off : off+nameLen])
	off += nameLen

	stateLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if stateLen > 0 {
		i.PKGenState = append([]byte(nil), buf[off:off+stateLen]...)
	}
	off += stateLen

	linkCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	i.EmptyLinks = make([]page.Link, linkCount)
	for n := 0; n < linkCount; n++ {
		i.EmptyLinks[n] = page.UnmarshalLink(buf[off:])
		off += page.LinkSize
	}

	freeCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if freeCount > 0 {
		i.FreePages = make([]page.ID, freeCount)
		for n := 0; n < freeCount; n++ {
			i.FreePages[n] = page.ID(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
	}

	return i, nil
}
