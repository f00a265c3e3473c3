// Package codec converts typed values to item payloads and back.
//
// Decode receives engine-owned memory that is reused once the item is
// released, so implementations must not retain b.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Flagged is implemented by codecs that tag the items they write. The tag
// goes into the item's flags; items carrying another tag are not decoded.
type Flagged interface {
	ItemFlags() uint32
}

// Item flag tags of the built-in codecs.
const (
	FlagBytes    uint32 = 0
	FlagString   uint32 = 1
	FlagJSON     uint32 = 2
	FlagMsgpack  uint32 = 3
	FlagCBOR     uint32 = 4
	FlagProtobuf uint32 = 5
)

// FlagsOf returns c's tag, or FlagBytes for codecs that don't declare one.
func FlagsOf(c any) uint32 {
	if f, ok := c.(Flagged); ok {
		return f.ItemFlags()
	}
	return FlagBytes
}
