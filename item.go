package casengine

import (
	"sync/atomic"

	"github.com/unkn0wn-root/casengine/clock"
	"github.com/unkn0wn-root/casengine/internal/slab"
)

// Internal item flags reported by Handle.IFlags.
const (
	// ItemWithCAS is set on items of an engine running with use_cas=true.
	ItemWithCAS uint16 = 1 << iota
	// ItemKeyPtr and ItemDataPtr mark keys or values held by reference.
	// This engine stores both inline in the item's chunk and never sets them.
	ItemKeyPtr
	ItemDataPtr
)

// Item is an entry owned by the engine. Callers only see it through a Handle.
type Item struct {
	chunk slab.Chunk
	nkey  int

	flags   uint32
	exptime clock.RelTime
	time    clock.RelTime // last store
	created int64         // wall clock of the last store, unix nanoseconds
	cas     uint64        // sequence stamp; reported only with ItemWithCAS
	iflag   uint16

	// one reference for the table while linked, one per Handle
	refs   atomic.Int32
	stored atomic.Bool

	// guarded by the owning shard's mutex
	linked     bool
	prev, next *Item
}

func (it *Item) key() []byte   { return it.chunk.Buf[:it.nkey] }
func (it *Item) value() []byte { return it.chunk.Buf[it.nkey:] }

// Handle is a counted reference to an item. Every Handle returned by the
// engine must be released exactly once; extra calls to Release are no-ops.
// A Handle is not safe for concurrent use.
type Handle struct {
	it       *Item
	e        *engine
	expected uint64
	released atomic.Bool
}

func (h *Handle) Key() []byte { return h.it.key() }

// Value is the payload. It may be written until the item is stored; after
// that it is shared and must be treated as read-only.
func (h *Handle) Value() []byte { return h.it.value() }

func (h *Handle) Flags() uint32 { return h.it.flags }

// Exptime is the expiration in engine-relative seconds (0 = never).
func (h *Handle) Exptime() clock.RelTime { return h.it.exptime }

// CAS reports the item's identifier, or the expected identifier set with
// SetCAS on an item that has not been stored. It is 0 when CAS is disabled.
func (h *Handle) CAS() uint64 {
	if !h.it.stored.Load() && h.expected != 0 {
		return h.expected
	}
	if h.it.iflag&ItemWithCAS == 0 {
		return 0
	}
	return h.it.cas
}

// SetCAS sets the identifier Store compares against (CAS, REPLACE, APPEND,
// PREPEND, SET). Zero means "don't compare".
func (h *Handle) SetCAS(cas uint64) { h.expected = cas }

// IFlags returns the item's internal flag bits.
func (h *Handle) IFlags() uint16 { return h.it.iflag }

// Release drops the reference. The item's memory is reclaimed once it is
// unlinked and every Handle has been released.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.e.unref(h.it)
}
