package codec

import "bytes"

// Bytes stores []byte values as they are. Decode returns a copy because the
// input is engine memory.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return bytes.Clone(b), nil }
func (Bytes) ItemFlags() uint32               { return FlagBytes }

// String is a trivial codec for Go string values. It assumes UTF-8 and
// performs no validation.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
func (String) ItemFlags() uint32               { return FlagString }
