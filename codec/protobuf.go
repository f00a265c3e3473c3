package codec

import "google.golang.org/protobuf/proto"

// Protobuf encodes generated messages. Construct with NewProtobuf.
type Protobuf[T proto.Message] struct {
	new  func() T // e.g. func() *mypb.User { return &mypb.User{} }
	opts proto.MarshalOptions
}

// NewProtobuf returns a codec that marshals deterministically, so equal
// messages produce equal payloads.
func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor, opts: proto.MarshalOptions{Deterministic: true}}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return c.opts.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}

func (Protobuf[T]) ItemFlags() uint32 { return FlagProtobuf }
