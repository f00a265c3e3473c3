package codec

import "fmt"

// LimitCodec wraps another codec and bounds payload sizes in both
// directions. A limit <= 0 disables that check.
//
// MaxEncode is usually set just under the engine's item_size_max so that an
// oversized value fails in the codec instead of at Allocate.
type LimitCodec[V any] struct {
	Inner     Codec[V]
	MaxEncode int
	MaxDecode int
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, fmt.Errorf("encoded payload too large: %d > %d", len(b), c.MaxEncode)
	}
	return b, nil
}

func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}

// ItemFlags forwards the inner codec's tag.
func (c LimitCodec[V]) ItemFlags() uint32 { return FlagsOf(c.Inner) }
