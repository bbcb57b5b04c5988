/*
Keys and values are stored inside page frames, addressed by array index, so
both must encode to a fixed width. The tree is generic over the key and
value types and takes the widths from injected codecs; the on-page entry
layout is just the key bytes followed by the value bytes.
*/
package index

import (
	"encoding/binary"

	"github.com/smzst/crabdb/storage/page"
	"github.com/smzst/crabdb/storage/tuple"
)

// Comparator imposes a total order on keys.
// negative when a < b, zero when equal, positive when a > b.
type Comparator[K any] func(a, b K) int

// KeyCodec encodes keys at a fixed width
type KeyCodec[K any] interface {
	Size() int
	Encode(buf []byte, k K)
	Decode(buf []byte) K
}

// ValueCodec encodes values at a fixed width
type ValueCodec[V any] interface {
	Size() int
	Encode(buf []byte, v V)
	Decode(buf []byte) V
}

// Int64KeyCodec stores int64 keys as 8 little-endian bytes
type Int64KeyCodec struct{}

func (Int64KeyCodec) Size() int { return 8 }

func (Int64KeyCodec) Encode(buf []byte, k int64) {
	binary.LittleEndian.PutUint64(buf, uint64(k))
}

func (Int64KeyCodec) Decode(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf))
}

// Int64Comparator is the natural order on int64 keys
func Int64Comparator(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// RIDValueCodec stores record ids as page id then slot, 4 bytes each
type RIDValueCodec struct{}

func (RIDValueCodec) Size() int { return 8 }

func (RIDValueCodec) Encode(buf []byte, v tuple.RID) {
	binary.LittleEndian.PutUint32(buf, uint32(v.PageID()))
	binary.LittleEndian.PutUint32(buf[4:], v.Slot())
}

func (RIDValueCodec) Decode(buf []byte) tuple.RID {
	pid := page.PageID(binary.LittleEndian.Uint32(buf))
	slot := binary.LittleEndian.Uint32(buf[4:])
	return tuple.NewRID(pid, slot)
}
