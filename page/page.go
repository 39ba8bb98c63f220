// Package page implements the fixed-layout page primitives shared by every
// space file: the common page header, the page type enumeration, and the
// Link that identifies a byte range within one page.
//
// Pages are CRC32-C checked end to end so a torn or corrupted write is
// caught the moment the page is read back.
package page

import (
	"encoding/binary"
	"hash/crc32"
)

// Sizes in bytes.
const (
	// DefaultPageSize is the default total page size, 32 KiB.
	DefaultPageSize = 32 * 1024

	// MinPageSize and MaxPageSize bound the per-table configurable page size.
	MinPageSize = 4 * 1024
	MaxPageSize = 256 * 1024

	// HeaderSize is the size of GeneralHeader at the front of every page.
	//
	//	[0]     Type        (1 byte)
	//	[1]     Reserved    (1 byte)
	//	[2:4]   Reserved    (2 bytes)
	//	[4:8]   SpaceID     (4 bytes, uint32 LE)
	//	[8:12]  PageID      (4 bytes, uint32 LE)
	//	[12:16] PreviousID  (4 bytes, uint32 LE)
	//	[16:20] NextID      (4 bytes, uint32 LE)
	//	[20:24] DataLength  (4 bytes, uint32 LE)
	//	[24:28] CRC32       (4 bytes, uint32 LE, computed over rest w/ field zeroed)
	//	[28:32] Reserved    (4 bytes)
	HeaderSize = 32

	crcOff = 24
)

// Type identifies the kind of data a page holds.
type Type uint8

const (
	TypeEmpty        Type = 0
	TypeSpaceInfo    Type = 1
	TypeData         Type = 2
	TypeIndex        Type = 3
	TypeIndexUnsized Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeEmpty:
		return "Empty"
	case TypeSpaceInfo:
		return "SpaceInfo"
	case TypeData:
		return "Data"
	case TypeIndex:
		return "Index"
	case TypeIndexUnsized:
		return "IndexUnsized"
	default:
		return "Unknown"
	}
}

// ID identifies a page within one space file. Page 0 is never allocated
// in a data file (the SpaceInfo page lives in its own .wt.info file),
// and is the TOC head of an index file.
type ID uint32

const InvalidID ID = 0

// GeneralHeader is the fixed-size header present on every page.
type GeneralHeader struct {
	SpaceID    uint32
	PageID     ID
	PreviousID ID
	NextID     ID
	Type       Type
	DataLength uint32
}

// Marshal writes h into the first HeaderSize bytes of buf.
func Marshal(h *GeneralHeader, buf []byte) {
	if len(buf) < HeaderSize {
		panic("page: buffer too small for GeneralHeader")
	}
	buf[0] = byte(h.Type)
	buf[1] = 0
	binary.LittleEndian.PutUint16(buf[2:4], 0)
	binary.LittleEndian.PutUint32(buf[4:8], h.SpaceID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.PageID))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.PreviousID))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.NextID))
	binary.LittleEndian.PutUint32(buf[20:24], h.DataLength)
}

// Unmarshal reads a GeneralHeader from the first HeaderSize bytes of buf.
func Unmarshal(buf []byte) GeneralHeader {
	return GeneralHeader{
		Type:       Type(buf[0]),
		SpaceID:    binary.LittleEndian.Uint32(buf[4:8]),
		PageID:     ID(binary.LittleEndian.Uint32(buf[8:12])),
		PreviousID: ID(binary.LittleEndian.Uint32(buf[12:16])),
		NextID:     ID(binary.LittleEndian.Uint32(buf[16:20])),
		DataLength: binary.LittleEndian.Uint32(buf[20:24]),
	}
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputeCRC computes the CRC32-C of a full page, treating the CRC field
// as zero during computation.
func ComputeCRC(buf []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(buf[:crcOff])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[crcOff+4:])
	return h.Sum32()
}

// SetCRC stamps the computed CRC into the page.
func SetCRC(buf []byte) {
	binary.LittleEndian.PutUint32(buf[crcOff:crcOff+4], ComputeCRC(buf))
}

// VerifyCRC reports whether the page's stored CRC matches its contents.
func VerifyCRC(buf []byte) bool {
	stored := binary.LittleEndian.Uint32(buf[crcOff : crcOff+4])
	return stored == ComputeCRC(buf)
}

// New allocates a zeroed page buffer of the given size with h's header
// already marshalled in.
func New(size int, h *GeneralHeader) []byte {
	buf := make([]byte, size)
	Marshal(h, buf)
	return buf
}

// Link identifies a byte range within one data page. Invariant: for a
// live link, Offset+Length <= page inner size, and the targeted slot is
// not ghosted.
type Link struct {
	PageID ID
	Offset uint32
	Length uint32
}

// Zero reports whether l is the zero-value link (never a valid target).
func (l Link) Zero() bool { return l.PageID == InvalidID && l.Offset == 0 && l.Length == 0 }

// HeapSize and UsedSize are always zero: a Link is three fixed-width
// integers with no allocation of its own. Any slot holding one already
// counts the Link's inline footprint through the container it sits in.
func (l Link) HeapSize() int64 { return 0 }
func (l Link) UsedSize() int64 { return 0 }

// MarshalLink writes a Link as 12 bytes, little-endian.
func MarshalLink(l Link, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(l.PageID))
	binary.LittleEndian.PutUint32(buf[4:8], l.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], l.Length)
}

// UnmarshalLink reads a 12-byte Link.
func UnmarshalLink(buf []byte) Link {
	return Link{
		PageID: ID(binary.LittleEndian.Uint32(buf[0:4])),
		Offset: binary.LittleEndian.Uint32(buf[4:8]),
		Length: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// LinkSize is the marshalled size of a Link in bytes.
const LinkSize = 12

// InnerSize returns the usable byte range of a page of the given total
// size, after the GeneralHeader.
func InnerSize(pageSize int) int { return pageSize - HeaderSize }
