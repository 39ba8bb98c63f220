package index

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Key type tags, stable across format versions: persisted alongside
// every encoded Key so a space file can decode keys without knowing the
// table's schema ahead of time.
const (
	tagInt64 byte = iota
	tagUint64
	tagString
	tagBytes
	tagComposite
)

// MarshalKey appends k's tagged encoding to dst and returns the result.
func MarshalKey(dst []byte, k Key) []byte {
	switch v := k.(type) {
	case Int64Key:
		dst = append(dst, tagInt64)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		return append(dst, buf[:]...)
	case Uint64Key:
		dst = append(dst, tagUint64)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		return append(dst, buf[:]...)
	case StringKey:
		dst = append(dst, tagString)
		dst = appendLenPrefixed(dst, []byte(v))
		return dst
	case BytesKey:
		dst = append(dst, tagBytes)
		dst = appendLenPrefixed(dst, v)
		return dst
	case Composite:
		dst = append(dst, tagComposite)
		var cnt [4]byte
		binary.LittleEndian.PutUint32(cnt[:], uint32(len(v)))
		dst = append(dst, cnt[:]...)
		for _, part := range v {
			dst = MarshalKey(dst, part)
		}
		return dst
	default:
		panic("index: MarshalKey: unknown key type")
	}
}

func appendLenPrefixed(dst, b []byte) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
	dst = append(dst, l[:]...)
	return append(dst, b...)
}

// UnmarshalKey decodes one tagged Key from the front of buf, returning
// the key and the number of bytes consumed.
func UnmarshalKey(buf []byte) (Key, int, error) {
	if len(buf) < 1 {
		return nil, 0, errors.New("index: UnmarshalKey: empty buffer")
	}
	tag := buf[0]
	rest := buf[1:]
	switch tag {
	case tagInt64:
		if len(rest) < 8 {
			return nil, 0, errors.New("index: UnmarshalKey: truncated int64")
		}
		return Int64Key(binary.LittleEndian.Uint64(rest)), 9, nil
	case tagUint64:
		if len(rest) < 8 {
			return nil, 0, errors.New("index: UnmarshalKey: truncated uint64")
		}
		return Uint64Key(binary.LittleEndian.Uint64(rest)), 9, nil
	case tagString:
		b, n, err := readLenPrefixed(rest)
		if err != nil {
			return nil, 0, err
		}
		return StringKey(b), 1 + n, nil
	case tagBytes:
		b, n, err := readLenPrefixed(rest)
		if err != nil {
			return nil, 0, err
		}
		return BytesKey(append([]byte(nil), b...)), 1 + n, nil
	case tagComposite:
		if len(rest) < 4 {
			return nil, 0, errors.New("index: UnmarshalKey: truncated composite count")
		}
		cnt := int(binary.LittleEndian.Uint32(rest))
		off := 4
		parts := make(Composite, cnt)
		for i := 0; i < cnt; i++ {
			k, n, err := UnmarshalKey(rest[off:])
			if err != nil {
				return nil, 0, errors.Wrap(err, "index: UnmarshalKey: composite part")
			}
			parts[i] = k
			off += n
		}
		return parts, 1 + off, nil
	default:
		return nil, 0, errors.Errorf("index: UnmarshalKey: unknown tag %d", tag)
	}
}

func readLenPrefixed(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, errors.New("index: readLenPrefixed: truncated length")
	}
	l := int(binary.LittleEndian.Uint32(buf))
	if len(buf) < 4+l {
		return nil, 0, errors.New("index: readLenPrefixed: truncated body")
	}
	return buf[4 : 4+l], 4 + l, nil
}
