// Package wire frames items that leave the engine for the second tier.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version  byte = 1
	kindItem byte = 1
)

var (
	ErrCorrupt = errors.New("casengine: corrupt tier record")
	magic4     = [...]byte{'C', 'E', 'N', 'G'}
)

const itemHeader = 4 + 1 + 1 + 4 + 8 + 8 + 8 + 4

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Item is the portable form of a cache item.
// Exptime is absolute unix seconds (0 = never); Created is unix nanoseconds.
type Item struct {
	Flags   uint32
	Exptime int64
	Created int64
	CAS     uint64
	Payload []byte
}

// EncodeItem writes:
//
//	magic(4) | ver(1) | kind(1=item) | flags(u32 be) | exptime(i64 be) |
//	created(i64 be) | cas(u64 be) | vlen(u32 be) | payload(vlen)
//
// The payload is copied; the returned buffer does not alias it.
func EncodeItem(it Item) []byte {
	var buf bytes.Buffer
	buf.Grow(itemHeader + len(it.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindItem)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint32(u4[:], it.Flags)
	buf.Write(u4[:])

	binary.BigEndian.PutUint64(u8[:], uint64(it.Exptime))
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(it.Created))
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], it.CAS)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(it.Payload)))
	buf.Write(u4[:])

	buf.Write(it.Payload)
	return buf.Bytes()
}

// DecodeItem parses a record produced by EncodeItem. Payload aliases b.
func DecodeItem(b []byte) (Item, error) {
	if len(b) < itemHeader || !hasMagic(b) || b[4] != version || b[5] != kindItem {
		return Item{}, ErrCorrupt
	}

	off := 6
	var it Item

	it.Flags = binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	it.Exptime = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	it.Created = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	it.CAS = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off { // exact: no truncation, no trailing junk
		return Item{}, ErrCorrupt
	}

	it.Payload = b[off : off+vlen]
	if it.Exptime < 0 {
		return Item{}, ErrCorrupt
	}
	return it, nil
}
