package util

import (
	"encoding/hex"
	"strings"
)

const tierPrefix = "item:"

// TierKey returns the second-tier key for an engine key. Keys are binary
// safe, so they are hex encoded; the namespace keeps engines sharing one
// store apart.
func TierKey(namespace string, key []byte) string {
	var b strings.Builder
	b.Grow(len(tierPrefix) + len(namespace) + 1 + hex.EncodedLen(len(key)))
	b.WriteString(tierPrefix)
	b.WriteString(namespace)
	b.WriteByte(':')
	b.WriteString(hex.EncodeToString(key))
	return b.String()
}
